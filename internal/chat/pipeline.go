package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fleetsupervisor/fleetd/internal/bus"
	"github.com/fleetsupervisor/fleetd/internal/driver"
	"github.com/fleetsupervisor/fleetd/internal/store"
)

// AgentResolver maps an inbound message to the agent that should handle
// it, or "" if none (message dropped), per spec §4.7 step 1. Shape A
// connectors resolve trivially to their one bound agent; Shape B
// connectors consult a channel→agent routing table (see Router).
type AgentResolver func(msg InboundMessage) string

// ToolServerInjector optionally builds ephemeral per-message tool servers
// (e.g. a file sender scoped to channelId), per spec §4.7 step 3.
type ToolServerInjector func(channelID string) map[string]driver.MCPServerSpec

// Pipeline implements the generic chat pipeline shared by every bridge
// shape, per spec §4.7.
type Pipeline struct {
	bridgeName string
	store      *store.Store
	bus        *bus.Bus
	trigger    TriggerFunc
	resolve    AgentResolver
	inject     ToolServerInjector
	limit      int
	minInterval time.Duration
	logger     *slog.Logger
}

// NewPipeline builds a chat pipeline for one bridge.
func NewPipeline(bridgeName string, st *store.Store, b *bus.Bus, trigger TriggerFunc, resolve AgentResolver, inject ToolServerInjector, limit int, minInterval time.Duration, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if limit <= 0 {
		limit = 2000
	}
	if minInterval <= 0 {
		minInterval = time.Second
	}
	return &Pipeline{
		bridgeName: bridgeName, store: st, bus: b, trigger: trigger,
		resolve: resolve, inject: inject, limit: limit, minInterval: minInterval, logger: logger,
	}
}

// HandleInbound runs the full 9-step pipeline for one inbound message.
// startIndicator, if non-nil, is called to begin a "processing" indicator
// and must return a stop function, which HandleInbound guarantees to call
// exactly once.
func (p *Pipeline) HandleInbound(ctx context.Context, msg InboundMessage, reply ReplyFunc, startIndicator func() func()) error {
	// Step 1: resolve the target agent.
	agentName := p.resolve(msg)
	if agentName == "" {
		return nil
	}

	// Step 4: start the processing indicator; always stopped (step 9).
	var stopIndicator func()
	if startIndicator != nil {
		stopIndicator = startIndicator()
	}
	defer func() {
		if stopIndicator != nil {
			stopIndicator()
		}
	}()

	// Step 2: read the existing ChatSession for (agent, channel).
	session, found, err := p.store.GetChatSession(agentName, msg.ChannelID)
	if err != nil {
		p.logger.Error("reading chat session failed", "agent", agentName, "channel", msg.ChannelID, "error", err)
	}
	resume := ""
	if found {
		resume = session.SessionID
	}

	// Step 3: optionally inject ephemeral tool servers.
	var injected map[string]driver.MCPServerSpec
	if p.inject != nil {
		injected = p.inject(msg.ChannelID)
	}

	responder := NewStreamingResponder(reply, p.limit, p.minInterval)

	// Step 5/6: trigger the Job Runner, streaming assistant turns into the
	// responder as they arrive.
	result, err := p.trigger(ctx, agentName, TriggerOptions{
		Prompt:             msg.Content,
		Resume:             resume,
		InjectedMCPServers: injected,
		OnMessage: func(m driver.Message) {
			if m.Type != driver.MessageAssistant {
				return
			}
			text := extractAssistantText(m)
			if text == "" {
				return
			}
			if sendErr := responder.AddMessageAndSend(ctx, text); sendErr != nil {
				p.logger.Error("streaming reply failed", "agent", agentName, "channel", msg.ChannelID, "error", sendErr)
			}
		},
	})
	if err != nil {
		p.bus.Publish(bus.BridgeTopic(p.bridgeName, "error"), bus.BridgeMessageError{AgentName: agentName, ChannelID: msg.ChannelID, Error: err.Error()})
		return reply(ctx, fmt.Sprintf("error: %v", err))
	}

	if flushErr := responder.Flush(ctx); flushErr != nil {
		p.logger.Error("final flush failed", "agent", agentName, "channel", msg.ChannelID, "error", flushErr)
	}

	if !result.Success {
		// Step 8: reply with a formatted error, skip session update. If the
		// responder already streamed partial output, skip the error reply
		// too rather than follow a partial answer with a bare error line.
		p.bus.Publish(bus.BridgeTopic(p.bridgeName, "message:error"), bus.BridgeMessageError{AgentName: agentName, ChannelID: msg.ChannelID, Error: result.Error})
		if !responder.HasSentMessages() {
			return reply(ctx, fmt.Sprintf("error: %s", result.Error))
		}
		return nil
	}

	if !responder.HasSentMessages() {
		_ = reply(ctx, "(no response)")
	}

	// Step 7: on success with a session id, persist and announce lifecycle.
	if result.SessionID != "" {
		lifecycleEvent := "created"
		if found && session.SessionID == result.SessionID {
			lifecycleEvent = "resumed"
		}
		if setErr := p.store.SetChatSession(agentName, msg.ChannelID, result.SessionID); setErr != nil {
			p.logger.Error("persisting chat session failed", "agent", agentName, "channel", msg.ChannelID, "error", setErr)
		}
		p.bus.Publish(bus.BridgeTopic(p.bridgeName, "session:lifecycle"), bus.SessionLifecycleEvent{
			AgentName: agentName, ChannelID: msg.ChannelID, SessionID: result.SessionID, Event: lifecycleEvent,
		})
	}

	p.bus.Publish(bus.BridgeTopic(p.bridgeName, "message:handled"), bus.BridgeMessageHandled{AgentName: agentName, ChannelID: msg.ChannelID, JobID: result.JobID})
	return nil
}

func extractAssistantText(m driver.Message) string {
	var out string
	for _, b := range m.Content {
		if b.Type == driver.BlockText {
			out += b.Text
		}
	}
	return out
}
