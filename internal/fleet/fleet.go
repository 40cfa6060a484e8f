// Package fleet implements the Fleet Manager (C8): the top-level
// lifecycle owner that wires the State Store, Scheduler, Chat Routers,
// and Event Bus together and exposes the control-plane operations
// (initialize, start, stop, reload, trigger, cancelJob, forkJob) named in
// spec §4.8.
//
// Grounded on the teacher's cmd/root.go and cmd/gateway.go startup
// sequencing (build dependencies in order, wire the bus, launch
// background loops, handle shutdown signals) — rewritten around this
// system's own Scheduler/Runner/Chat packages rather than the teacher's
// chat-gateway wiring.
package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fleetsupervisor/fleetd/internal/bus"
	"github.com/fleetsupervisor/fleetd/internal/config"
	"github.com/fleetsupervisor/fleetd/internal/driver"
	"github.com/fleetsupervisor/fleetd/internal/runner"
	"github.com/fleetsupervisor/fleetd/internal/scheduler"
	"github.com/fleetsupervisor/fleetd/internal/store"
	"github.com/fleetsupervisor/fleetd/internal/tracing"
)

// State is the closed enumeration of the Fleet Manager's lifecycle phases.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitialized    State = "initialized"
	StateStarting       State = "starting"
	StateRunning        State = "running"
	StateStopping       State = "stopping"
	StateStopped        State = "stopped"
	StateError          State = "error"
)

// InvalidStateError reports an illegal lifecycle transition.
type InvalidStateError struct {
	From, Attempted State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state transition: cannot %s from %s", e.Attempted, e.From)
}

// JobNotFoundError reports an operation against an unknown job id. It is
// also returned, with the agent name in JobID, when the named agent is not
// in the current config.
type JobNotFoundError struct{ JobID string }

func (e *JobNotFoundError) Error() string { return fmt.Sprintf("job not found: %s", e.JobID) }

// ScheduleNotFoundError reports a trigger naming a schedule that does not
// exist on the agent.
type ScheduleNotFoundError struct{ AgentName, ScheduleName string }

func (e *ScheduleNotFoundError) Error() string {
	return fmt.Sprintf("schedule %q not found on agent %q", e.ScheduleName, e.AgentName)
}

// TriggerResult is trigger()'s return value, per spec §4.8.
type TriggerResult struct {
	JobID        string
	AgentName    string
	ScheduleName string
	StartedAt    time.Time
	Prompt       string
	Success      bool
	SessionID    string
	Error        string
	ErrorDetails *store.RunnerErrorDetails
}

// TriggerOptions narrows trigger() beyond (agent, schedule).
type TriggerOptions struct {
	Prompt                 string
	BypassConcurrencyLimit bool
}

// StopOptions configures stop(), per spec §4.8.
type StopOptions struct {
	WaitForJobs     bool
	Timeout         time.Duration
	CancelOnTimeout bool
	CancelTimeout   time.Duration
}

// DefaultStopOptions mirrors spec §4.8's defaults.
func DefaultStopOptions() StopOptions {
	return StopOptions{WaitForJobs: true, Timeout: 30 * time.Second, CancelOnTimeout: false, CancelTimeout: 10 * time.Second}
}

// CancelOptions configures cancelJob().
type CancelOptions struct {
	Timeout time.Duration
}

// activeJob tracks one in-flight Execute call so cancelJob and stop can
// reach it.
type activeJob struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager is the Fleet Manager.
type Manager struct {
	mu    sync.RWMutex
	state State

	configPath string
	cfg        *config.ResolvedConfig
	store      *store.Store
	bus        *bus.Bus
	scheduler  *scheduler.Scheduler
	runner     runner.Runner
	driver     driver.QueryDriver
	tracer     *tracing.Provider
	logger     *slog.Logger

	bridgeRefs []chatBridgeRef

	activeMu sync.Mutex
	active   map[string]*activeJob
}

// New constructs a Manager in the uninitialized state.
func New(configPath string, d driver.QueryDriver, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		state:      StateUninitialized,
		configPath: configPath,
		logger:     logger,
		active:     make(map[string]*activeJob),
		driver:     d,
	}
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) transition(from []State, to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ok := false
	for _, f := range from {
		if m.state == f {
			ok = true
			break
		}
	}
	if !ok {
		return &InvalidStateError{From: m.state, Attempted: to}
	}
	m.state = to
	return nil
}
