// Package scheduler implements the Scheduler (C3): a single cooperative
// tick loop deciding which schedules are due and invoking the Job Runner
// via a trigger callback.
//
// Grounded on the sketch in
// _examples/other_examples/704b6c60_jholhewres-goclaw__pkg-goclaw-scheduler-scheduler.go.go
// (a map of jobs guarded by a mutex, a JobHandler callback, context-based
// start/stop) — generalized here to multi-agent, multi-schedule dispatch
// with the concurrency-aware skip reasons and state machine spec §4.3
// requires. Cron expressions use github.com/adhocore/gronx, a direct
// teacher dependency already used by the teacher's own cron system.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/fleetsupervisor/fleetd/internal/bus"
	"github.com/fleetsupervisor/fleetd/internal/config"
	"github.com/fleetsupervisor/fleetd/internal/store"
)

// TriggerFunc is invoked when a schedule comes due. The scheduler calls it
// on a goroutine of its own, so the tick loop never waits for it, even
// when it blocks until the job finishes (as the Fleet Manager's executor
// does). A non-nil error is recorded as the schedule's LastError.
type TriggerFunc func(ctx context.Context, agentName, scheduleName string) error

// Scheduler runs the single cooperative tick loop over a ResolvedConfig's
// agents and their schedules.
type Scheduler struct {
	mu      sync.Mutex
	cfg     *config.ResolvedConfig
	store   *store.Store
	bus     *bus.Bus
	trigger TriggerFunc
	logger  *slog.Logger

	interval time.Duration

	running     map[string]int // agentName -> count of pending|running jobs
	runningMu   sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Scheduler. Call SetConfig before Start.
func New(st *store.Store, b *bus.Bus, trigger TriggerFunc, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Second
	}
	s := &Scheduler{
		store:    st,
		bus:      b,
		trigger:  trigger,
		interval: interval,
		logger:   logger,
		running:  make(map[string]int),
	}
	s.subscribeRunningCount()
	return s
}

// subscribeRunningCount maintains s.running from job lifecycle events, the
// single-writer task spec §5 requires for the running-count map.
func (s *Scheduler) subscribeRunningCount() {
	s.bus.Subscribe(bus.TopicJobCreated, func(ev bus.Event) {
		p, ok := ev.Payload.(bus.JobCreatedPayload)
		if !ok {
			return
		}
		s.runningMu.Lock()
		s.running[p.AgentName]++
		s.runningMu.Unlock()
	})
	decrement := func(ev bus.Event) {
		p, ok := ev.Payload.(bus.JobTerminalPayload)
		if !ok {
			return
		}
		s.runningMu.Lock()
		if s.running[p.AgentName] > 0 {
			s.running[p.AgentName]--
		}
		s.runningMu.Unlock()
	}
	s.bus.Subscribe(bus.TopicJobCompleted, decrement)
	s.bus.Subscribe(bus.TopicJobFailed, decrement)
	s.bus.Subscribe(bus.TopicJobCancelled, decrement)
}

// RunningCount returns the current pending|running count for agentName.
func (s *Scheduler) RunningCount(agentName string) int {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	return s.running[agentName]
}

// SetConfig atomically replaces the agent/schedule set the scheduler ticks
// over, used both at initial build and on reload (spec §4.8 reload step
// "pushes the new agent set to the scheduler").
func (s *Scheduler) SetConfig(cfg *config.ResolvedConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// Start launches the tick loop asynchronously. Safe to call once; a
// second call before Stop is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	tickCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(tickCtx)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

// tick evaluates every (agent, schedule) pair exactly once, single-
// threaded with respect to itself.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	if cfg == nil {
		return
	}

	for _, agent := range cfg.Agents {
		for name, sched := range agent.Schedules {
			s.evaluateOne(ctx, agent.Name, name, sched, agent.MaxConcurrent, now)
		}
	}
}

func (s *Scheduler) evaluateOne(ctx context.Context, agentName, scheduleName string, sched config.ScheduleConfig, maxConcurrent int, now time.Time) {
	state, _, err := s.store.GetScheduleState(agentName, scheduleName)
	if err != nil {
		s.logger.Error("reading schedule state failed", "agent", agentName, "schedule", scheduleName, "error", err)
		return
	}

	if state.Status == store.ScheduleDisabled {
		s.emitSkip(agentName, scheduleName, bus.SkipDisabled)
		return
	}

	if sched.Type != config.ScheduleInterval && sched.Type != config.ScheduleCron {
		return // manual/chat schedules never fire from the tick
	}

	due, nextRunAt, err := isDue(sched, state.NextRunAt, now)
	if err != nil {
		s.logger.Error("computing next run time failed", "agent", agentName, "schedule", scheduleName, "error", err)
		return
	}
	if !due {
		if nextRunAt != state.NextRunAt {
			_, _ = s.store.UpdateScheduleState(agentName, scheduleName, func(st *store.ScheduleState) {
				st.NextRunAt = nextRunAt
			})
		}
		s.emitSkip(agentName, scheduleName, bus.SkipNotDue)
		return
	}

	if s.RunningCount(agentName) >= maxConcurrent {
		s.emitSkip(agentName, scheduleName, bus.SkipMaxConcurrent)
		return
	}

	if _, err := s.store.UpdateScheduleState(agentName, scheduleName, func(st *store.ScheduleState) {
		st.Status = store.ScheduleRunning
		st.LastRunAt = now
		st.NextRunAt = nextRunAt
		st.LastError = ""
	}); err != nil {
		s.logger.Error("persisting schedule state failed", "agent", agentName, "schedule", scheduleName, "error", err)
		return
	}

	s.bus.Publish(bus.TopicScheduleFired, bus.ScheduleFiredPayload{AgentName: agentName, ScheduleName: scheduleName, At: now})

	// The trigger runs on its own goroutine so that a long job never stalls
	// the tick loop; the schedule stays running until the trigger returns.
	go func() {
		if err := s.trigger(ctx, agentName, scheduleName); err != nil {
			s.logger.Error("schedule trigger failed", "agent", agentName, "schedule", scheduleName, "error", err)
			_, _ = s.store.UpdateScheduleState(agentName, scheduleName, func(st *store.ScheduleState) {
				st.Status = store.ScheduleIdle
				st.LastError = err.Error()
			})
			return
		}

		_, _ = s.store.UpdateScheduleState(agentName, scheduleName, func(st *store.ScheduleState) {
			st.Status = store.ScheduleIdle
		})
	}()
}

func (s *Scheduler) emitSkip(agentName, scheduleName string, reason bus.SkipReason) {
	s.bus.Publish(bus.TopicScheduleSkipped, bus.ScheduleSkippedPayload{AgentName: agentName, ScheduleName: scheduleName, Reason: reason})
}

// isDue computes whether a schedule fires at now, given the nextRunAt
// previously persisted in its ScheduleState, and the nextRunAt to persist
// either way.
//
// nextRunAt is anchored once per schedule, not recomputed from now on
// every tick: the first time a schedule is evaluated (prevNextRunAt
// zero) its due time is computed from now and persisted without firing,
// so a fresh interval:"24h" schedule waits the full interval for its
// first fire rather than firing on the tick that discovers it. Every
// later tick compares now against that persisted anchor, and only
// recomputes the next one (from now) at the moment it actually fires.
func isDue(sched config.ScheduleConfig, prevNextRunAt, now time.Time) (due bool, nextRunAt time.Time, err error) {
	if prevNextRunAt.IsZero() {
		next, err := nextRunAtFrom(sched, now)
		return false, next, err
	}
	if now.Before(prevNextRunAt) {
		return false, prevNextRunAt, nil
	}
	next, err := nextRunAtFrom(sched, now)
	return true, next, err
}

// nextRunAtFrom computes the next due time for sched anchored at base.
func nextRunAtFrom(sched config.ScheduleConfig, base time.Time) (time.Time, error) {
	switch sched.Type {
	case config.ScheduleInterval:
		d, err := time.ParseDuration(sched.Interval)
		if err != nil {
			return time.Time{}, err
		}
		return base.Add(d), nil
	case config.ScheduleCron:
		return gronx.NextTickAfter(sched.Cron, base, false)
	default:
		return time.Time{}, nil
	}
}

// Stop halts the tick loop and, if waitForJobs, blocks up to timeout for
// every agent's running count to reach zero.
func (s *Scheduler) Stop(waitForJobs bool, timeout time.Duration) error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil // already stopped: no-op
	}
	cancel()
	<-done

	if !waitForJobs {
		return nil
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.totalRunning() == 0 {
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	if s.totalRunning() == 0 {
		return nil
	}
	return &ShutdownError{}
}

func (s *Scheduler) totalRunning() int {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	total := 0
	for _, n := range s.running {
		total += n
	}
	return total
}

// ShutdownError is raised when Stop's waitForJobs deadline is exceeded
// with jobs still running, per spec §4.3 SchedulerShutdownError. The
// FleetManager may convert this into a cancel-all.
type ShutdownError struct{}

func (e *ShutdownError) Error() string { return "scheduler shutdown timed out with jobs still running" }
