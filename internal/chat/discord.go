package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/fleetsupervisor/fleetd/internal/config"
)

// discordMessageLimit mirrors Discord's own message body limit.
const discordMessageLimit = 2000

// DiscordBridge is the Shape B connector (spec §4.7): one gateway session
// shared across every agent bound to Discord, routing inbound messages by
// channel to the agent that claims it. Grounded on the teacher's
// internal/channels/discord/discord.go gateway-session shape, generalized
// from "one agent per install" to "many agents, routed by channel".
type DiscordBridge struct {
	session *discordgo.Session
	logger  *slog.Logger

	mu        sync.RWMutex
	routes    map[string]routeEntry // channelID -> agent binding
	pipeline  *Pipeline
	botUserID string
}

type routeEntry struct {
	agentName string
	mode      config.ChannelMode
}

// NewDiscordBridge builds a Discord bridge for the given bot token.
func NewDiscordBridge(token string, logger *slog.Logger) (*DiscordBridge, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	if logger == nil {
		logger = slog.Default()
	}
	return &DiscordBridge{session: session, logger: logger, routes: make(map[string]routeEntry)}, nil
}

func (b *DiscordBridge) Name() string                      { return "discord" }
func (b *DiscordBridge) MessageLimit() int                  { return discordMessageLimit }
func (b *DiscordBridge) MinSendInterval() time.Duration     { return time.Second }

// BindAgent claims channels for agentName under mode. Later declarations
// win on conflicting claims; the conflict is logged, per spec §4.7.
func (b *DiscordBridge) BindAgent(agentName string, channels []string, mode config.ChannelMode) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range channels {
		if existing, ok := b.routes[ch]; ok && existing.agentName != agentName {
			b.logger.Warn("discord channel claimed by multiple agents, later wins", "channel", ch, "previous_agent", existing.agentName, "agent", agentName)
		}
		b.routes[ch] = routeEntry{agentName: agentName, mode: mode}
	}
}

// SetPipeline wires the shared chat pipeline once the Fleet Manager has a
// trigger function available.
func (b *DiscordBridge) SetPipeline(p *Pipeline) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pipeline = p
}

func (b *DiscordBridge) Resolve(msg InboundMessage) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	route, ok := b.routes[msg.ChannelID]
	if !ok {
		return ""
	}
	if route.mode == config.ChannelModeMention && !msg.WasMentioned {
		return ""
	}
	return route.agentName
}

func (b *DiscordBridge) Start(ctx context.Context) error {
	b.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		b.mu.RLock()
		botID := b.botUserID
		b.mu.RUnlock()

		mentioned := false
		for _, u := range m.Mentions {
			if u.ID == botID {
				mentioned = true
				break
			}
		}

		inbound := InboundMessage{
			ChannelID:    m.ChannelID,
			MessageID:    m.ID,
			UserID:       m.Author.ID,
			Content:      m.Content,
			WasMentioned: mentioned,
		}

		b.mu.RLock()
		pipeline := b.pipeline
		b.mu.RUnlock()
		if pipeline == nil {
			return
		}

		reply := func(ctx context.Context, text string) error {
			_, err := s.ChannelMessageSend(m.ChannelID, text)
			return err
		}
		startIndicator := func() func() {
			_ = s.ChannelTyping(m.ChannelID)
			return func() {}
		}

		go func() {
			if err := pipeline.HandleInbound(ctx, inbound, reply, startIndicator); err != nil {
				b.logger.Error("discord pipeline failed", "channel", m.ChannelID, "error", err)
			}
		}()
	})

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	if b.session.State != nil && b.session.State.User != nil {
		b.mu.Lock()
		b.botUserID = b.session.State.User.ID
		b.mu.Unlock()
	}
	return nil
}

func (b *DiscordBridge) Stop(ctx context.Context) error {
	return b.session.Close()
}
