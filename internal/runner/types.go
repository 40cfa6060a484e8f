// Package runner implements the Job Runner (C4): creates a job, drives the
// QueryDriver with the agent's translated options, streams messages to
// subscribers, writes durable output, and records terminal status.
//
// Grounded on the teacher's internal/agent/loop.go iteration shape (open
// the driver's message sequence, append each record, detect the init
// record's session id, stream to a callback, finish with a terminal
// status and hook execution) — rewritten around this system's typed
// QueryDriver/store/bus/hooks packages instead of the teacher's chat-loop
// semantics. Job ids come from internal/store; the runner mints no ids of
// its own.
package runner

import (
	"context"

	"github.com/fleetsupervisor/fleetd/internal/config"
	"github.com/fleetsupervisor/fleetd/internal/driver"
	"github.com/fleetsupervisor/fleetd/internal/store"
)

// ExecuteInput carries everything Execute needs to run one job, per spec
// §4.4.
type ExecuteInput struct {
	Agent        *config.Agent
	Prompt       string
	TriggerType  store.TriggerType
	ScheduleName string

	Resume     string
	Fork       bool
	ForkedFrom string

	OutputToFile bool

	// InjectedMCPServers are ephemeral tool servers merged on top of the
	// agent's own, used by Chat Routers for per-message tools such as a
	// file-upload sender scoped to one channel (spec §4.7 step 3).
	InjectedMCPServers map[string]driver.MCPServerSpec

	// OnMessage is called for every message the driver yields. Its
	// errors (via panic recovery) are logged and never abort the run.
	OnMessage func(driver.Message)

	// OnJobCreated, if set, is called once with the allocated job id
	// immediately after the job record is created, before the driver is
	// invoked — letting a caller register a cancellation handle before
	// Execute's (possibly long) blocking loop begins.
	OnJobCreated func(jobID string)
}

// Result is Execute's return value.
type Result struct {
	JobID           string
	AgentName       string
	ScheduleName    string
	SessionID       string
	Success         bool
	ExitReason      store.ExitReason
	ErrorDetails    *store.RunnerErrorDetails
	FinalOutput     string
	TerminationType string // "graceful" | "forced" when cancellation occurred
	DurationMS      int64
}

// Runner drives jobs against a QueryDriver, persisting through a Store and
// announcing lifecycle transitions on a Bus.
type Runner interface {
	Execute(ctx context.Context, in ExecuteInput) (*Result, error)
}
