package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/mymmrac/telego"
)

// telegramMessageLimit mirrors Telegram's own message body limit.
const telegramMessageLimit = 4000

// TelegramBridge is the Shape A connector (spec §4.7): one bot instance
// per agent. Grounded on the teacher's internal/channels/telegram/channel.go
// long-polling setup, narrowed to this system's single-agent-per-bot
// binding instead of the teacher's richer pairing/group-command surface.
type TelegramBridge struct {
	agentName string
	bot       *telego.Bot
	logger    *slog.Logger

	mu       sync.RWMutex
	pipeline *Pipeline

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// NewTelegramBridge builds a Telegram bridge bound to exactly one agent.
func NewTelegramBridge(agentName, token string, logger *slog.Logger) (*TelegramBridge, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramBridge{agentName: agentName, bot: bot, logger: logger}, nil
}

func (b *TelegramBridge) Name() string                  { return "telegram:" + b.agentName }
func (b *TelegramBridge) MessageLimit() int              { return telegramMessageLimit }
func (b *TelegramBridge) MinSendInterval() time.Duration { return time.Second }

func (b *TelegramBridge) SetPipeline(p *Pipeline) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pipeline = p
}

func (b *TelegramBridge) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	b.pollCancel = cancel
	b.pollDone = make(chan struct{})

	updates, err := b.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start telegram long polling: %w", err)
	}

	go func() {
		defer close(b.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message == nil || update.Message.Text == "" {
					continue
				}
				b.handleMessage(pollCtx, update.Message)
			}
		}
	}()
	return nil
}

func (b *TelegramBridge) handleMessage(ctx context.Context, msg *telego.Message) {
	b.mu.RLock()
	pipeline := b.pipeline
	b.mu.RUnlock()
	if pipeline == nil {
		return
	}

	chatID := msg.Chat.ID
	inbound := InboundMessage{
		ChannelID:    strconv.FormatInt(chatID, 10),
		MessageID:    strconv.Itoa(msg.MessageID),
		UserID:       strconv.FormatInt(msg.From.ID, 10),
		Content:      msg.Text,
		WasMentioned: true, // one bot per agent: every DM/group message addresses it
	}

	reply := func(ctx context.Context, text string) error {
		_, err := b.bot.SendMessage(ctx, &telego.SendMessageParams{
			ChatID: telego.ChatID{ID: chatID},
			Text:   text,
		})
		return err
	}
	startIndicator := func() func() {
		_ = b.bot.SendChatAction(ctx, &telego.SendChatActionParams{ChatID: telego.ChatID{ID: chatID}, Action: "typing"})
		return func() {}
	}

	go func() {
		if err := pipeline.HandleInbound(ctx, inbound, reply, startIndicator); err != nil {
			b.logger.Error("telegram pipeline failed", "channel", inbound.ChannelID, "error", err)
		}
	}()
}

func (b *TelegramBridge) Stop(ctx context.Context) error {
	if b.pollCancel != nil {
		b.pollCancel()
	}
	if b.pollDone != nil {
		select {
		case <-b.pollDone:
		case <-time.After(10 * time.Second):
			b.logger.Warn("telegram polling goroutine did not exit within timeout", "agent", b.agentName)
		}
	}
	return nil
}
