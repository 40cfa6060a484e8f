package fleet

import (
	"context"
	"time"

	"github.com/fleetsupervisor/fleetd/internal/bus"
	"github.com/fleetsupervisor/fleetd/internal/config"
	"github.com/fleetsupervisor/fleetd/internal/runner"
	"github.com/fleetsupervisor/fleetd/internal/scheduler"
	"github.com/fleetsupervisor/fleetd/internal/store"
	"github.com/fleetsupervisor/fleetd/internal/tracing"
)

// Initialize loads the config, validates it, initializes the state
// directory, and builds the Scheduler wired to the internal schedule
// executor, per spec §4.8.
func (m *Manager) Initialize() error {
	m.mu.RLock()
	cur := m.state
	m.mu.RUnlock()
	if cur != StateUninitialized {
		return &InvalidStateError{From: cur, Attempted: StateInitialized}
	}

	cfg, err := config.Load(m.configPath)
	if err != nil {
		m.setState(StateError)
		return err
	}

	m.mu.Lock()
	m.cfg = cfg
	m.bus = bus.New(m.logger)
	m.store = store.New(cfg.StateDir, m.logger)
	m.mu.Unlock()

	if err := m.store.InitStateDirectory(); err != nil {
		m.setState(StateError)
		return err
	}

	tracer, err := tracing.Setup(context.Background(), cfg.Telemetry)
	if err != nil {
		m.setState(StateError)
		return err
	}
	m.tracer = tracer

	m.runner = runner.New(m.store, m.bus, m.driver, m.logger, tracer)
	m.scheduler = scheduler.New(m.store, m.bus, m.scheduleExecutor, cfg.CheckInterval, m.logger)
	m.scheduler.SetConfig(cfg)

	if err := m.buildBridges(cfg); err != nil {
		m.setState(StateError)
		return err
	}

	m.mu.Lock()
	m.state = StateInitialized
	m.mu.Unlock()
	m.bus.Publish(bus.TopicInitialized, nil)
	return nil
}

// scheduleExecutor is the ScheduleExecutor the Scheduler calls on each due
// tick; it resolves the agent/schedule and runs a synchronous trigger.
func (m *Manager) scheduleExecutor(ctx context.Context, agentName, scheduleName string) error {
	m.mu.RLock()
	agent := m.cfg.AgentByName(agentName)
	m.mu.RUnlock()
	if agent == nil {
		return &JobNotFoundError{JobID: agentName}
	}
	sched, ok := agent.Schedules[scheduleName]
	if !ok {
		return &ScheduleNotFoundError{AgentName: agentName, ScheduleName: scheduleName}
	}
	result, err := m.Trigger(ctx, agentName, scheduleName, TriggerOptions{Prompt: sched.Prompt})
	if err != nil {
		return err
	}
	if !result.Success {
		return &runnerError{msg: result.Error}
	}
	return nil
}

type runnerError struct{ msg string }

func (e *runnerError) Error() string { return e.msg }

// Start launches the Scheduler's tick loop and connects every chat
// bridge, per spec §4.8.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.transitionTo(StateStarting, StateInitialized, StateStopped); err != nil {
		return err
	}

	m.scheduler.Start(ctx)
	go m.watchConfig(ctx)

	m.mu.RLock()
	bridges := append([]chatBridgeRef(nil), m.bridgeRefs...)
	m.mu.RUnlock()
	for _, br := range bridges {
		if err := br.bridge.Start(ctx); err != nil {
			m.logger.Error("starting chat bridge failed", "bridge", br.bridge.Name(), "error", err)
		}
	}

	m.mu.Lock()
	m.state = StateRunning
	m.mu.Unlock()
	m.bus.Publish(bus.TopicStarted, nil)
	return nil
}

// Stop disconnects chat routers, stops the Scheduler, optionally cancels
// still-running jobs on timeout, and persists final FleetState, per
// spec §4.8.
func (m *Manager) Stop(ctx context.Context, opts StopOptions) error {
	if err := m.transitionTo(StateStopping, StateRunning, StateStarting); err != nil {
		return err
	}

	m.mu.RLock()
	bridges := append([]chatBridgeRef(nil), m.bridgeRefs...)
	m.mu.RUnlock()
	for _, br := range bridges {
		if err := br.bridge.Stop(ctx); err != nil {
			m.logger.Error("stopping chat bridge failed", "bridge", br.bridge.Name(), "error", err)
		}
	}

	schedErr := m.scheduler.Stop(opts.WaitForJobs, opts.Timeout)
	if schedErr != nil && opts.CancelOnTimeout {
		m.cancelAllRunning(opts.CancelTimeout)
	}

	fs, _ := m.store.ReadFleetState()
	fs.StoppedAt = time.Now()
	if err := m.store.WriteFleetState(fs); err != nil {
		m.logger.Error("persisting fleet state on stop failed", "error", err)
	}

	if m.tracer != nil {
		if err := m.tracer.Shutdown(ctx); err != nil {
			m.logger.Error("shutting down tracer failed", "error", err)
		}
	}

	m.mu.Lock()
	m.state = StateStopped
	m.mu.Unlock()
	m.bus.Publish(bus.TopicStopped, nil)
	return schedErr
}

func (m *Manager) cancelAllRunning(timeout time.Duration) {
	m.activeMu.Lock()
	jobs := make([]*activeJob, 0, len(m.active))
	for _, j := range m.active {
		jobs = append(jobs, j)
	}
	m.activeMu.Unlock()

	for _, j := range jobs {
		j.cancel()
	}
	deadline := time.Now().Add(timeout)
	for _, j := range jobs {
		wait := time.Until(deadline)
		if wait <= 0 {
			return
		}
		select {
		case <-j.done:
		case <-time.After(wait):
		}
	}
}

// Reload loads and validates a new config; on failure the old config is
// kept and the error surfaced. On success it diffs against the current
// config, updates the stored config, pushes the new agent set to the
// Scheduler, and emits config:reloaded, per spec §4.8.
func (m *Manager) Reload() ([]bus.ConfigChange, error) {
	newCfg, err := config.Load(m.configPath)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	oldCfg := m.cfg
	m.cfg = newCfg
	m.mu.Unlock()

	changes := config.Diff(oldCfg, newCfg)
	m.scheduler.SetConfig(newCfg)
	if rebuildErr := m.buildBridges(newCfg); rebuildErr != nil {
		m.logger.Error("rebuilding chat bridges on reload failed", "error", rebuildErr)
	}
	m.bus.Publish(bus.TopicConfigReloaded, bus.ConfigReloadedPayload{Changes: changes})
	return changes, nil
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) transitionTo(to State, from ...State) error {
	return m.transition(from, to)
}
