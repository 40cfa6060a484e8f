// Package chat implements the Chat Routers (C7): a bridge-agnostic pipeline
// that resolves an inbound chat message to an agent, drives it through the
// Job Runner with session resume, and streams assistant output back through
// the bridge's reply function via a StreamingResponder.
//
// Grounded on the teacher's internal/channels package: channel.go's
// Channel interface and allow-list/policy checks, manager.go's
// channel-to-agent routing table, ratelimit.go's sliding-window limiter,
// and the two concrete shapes in discord/ (shared connector, many agents)
// and telegram/ (per-agent connector).
package chat

import (
	"context"
	"time"

	"github.com/fleetsupervisor/fleetd/internal/driver"
)

// InboundMessage is one message delivered by a bridge, per spec §6.2.
type InboundMessage struct {
	ChannelID    string
	MessageID    string
	UserID       string
	Content      string
	WasMentioned bool
}

// ReplyFunc sends one outbound chunk back through the bridge. It may be
// called zero or more times per inbound message.
type ReplyFunc func(ctx context.Context, text string) error

// TriggerOptions carries what the pipeline passes to FleetManager.trigger.
type TriggerOptions struct {
	Prompt             string
	Resume             string
	InjectedMCPServers map[string]driver.MCPServerSpec
	OnMessage          func(driver.Message)
}

// TriggerResult is FleetManager.trigger's return shape, as far as the
// pipeline needs it.
type TriggerResult struct {
	JobID     string
	SessionID string
	Success   bool
	Error     string
}

// TriggerFunc invokes the Job Runner for one agent, awaiting its terminal
// status. The Fleet Manager implements this.
type TriggerFunc func(ctx context.Context, agentName string, opts TriggerOptions) (TriggerResult, error)

// Bridge is the platform-specific half of a chat connector: transport,
// message decoding, and sending. Shape A/B connectors implement this.
type Bridge interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	// MessageLimit is the bridge's maximum reply size in characters, per
	// spec §6.2.
	MessageLimit() int
	// MinSendInterval is the StreamingResponder's minimum inter-message
	// interval for this bridge.
	MinSendInterval() time.Duration
}
