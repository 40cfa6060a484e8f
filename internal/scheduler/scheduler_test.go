package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fleetsupervisor/fleetd/internal/bus"
	"github.com/fleetsupervisor/fleetd/internal/config"
	"github.com/fleetsupervisor/fleetd/internal/store"
)

func newTestSetup(t *testing.T) (*store.Store, *bus.Bus) {
	t.Helper()
	dir := t.TempDir()
	st := store.New(dir, nil)
	if err := st.InitStateDirectory(); err != nil {
		t.Fatal(err)
	}
	return st, bus.New(nil)
}

func TestSchedulerFiresIntervalSchedule(t *testing.T) {
	st, b := newTestSetup(t)

	var fired atomic.Int32
	trigger := func(ctx context.Context, agentName, scheduleName string) error {
		fired.Add(1)
		b.Publish(bus.TopicJobCreated, bus.JobCreatedPayload{AgentName: agentName, ScheduleName: scheduleName})
		b.Publish(bus.TopicJobCompleted, bus.JobTerminalPayload{AgentName: agentName})
		return nil
	}

	s := New(st, b, trigger, 10*time.Millisecond, nil)
	s.SetConfig(&config.ResolvedConfig{
		Agents: []*config.Agent{{
			Name:          "writer",
			MaxConcurrent: 1,
			Schedules: map[string]config.ScheduleConfig{
				"tick": {Type: config.ScheduleInterval, Interval: "20ms"},
			},
		}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(false, 0)

	deadline := time.Now().Add(500 * time.Millisecond)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if fired.Load() == 0 {
		t.Fatal("expected interval schedule to fire at least once within 500ms")
	}
}

func TestSchedulerSkipsDisabledSchedule(t *testing.T) {
	st, b := newTestSetup(t)
	_, err := st.UpdateScheduleState("writer", "tick", func(s *store.ScheduleState) {
		s.Status = store.ScheduleDisabled
	})
	if err != nil {
		t.Fatal(err)
	}

	var skipped atomic.Int32
	var reason bus.SkipReason
	b.Subscribe(bus.TopicScheduleSkipped, func(ev bus.Event) {
		p := ev.Payload.(bus.ScheduleSkippedPayload)
		reason = p.Reason
		skipped.Add(1)
	})

	trigger := func(ctx context.Context, agentName, scheduleName string) error {
		t.Fatal("disabled schedule must never trigger")
		return nil
	}

	s := New(st, b, trigger, 10*time.Millisecond, nil)
	s.SetConfig(&config.ResolvedConfig{
		Agents: []*config.Agent{{
			Name:          "writer",
			MaxConcurrent: 1,
			Schedules: map[string]config.ScheduleConfig{
				"tick": {Type: config.ScheduleInterval, Interval: "10ms"},
			},
		}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(false, 0)

	time.Sleep(60 * time.Millisecond)
	if skipped.Load() == 0 {
		t.Fatal("expected at least one schedule:skipped{reason=disabled} event")
	}
	if reason != bus.SkipDisabled {
		t.Errorf("expected skip reason disabled, got %s", reason)
	}
}

func TestSchedulerEnforcesMaxConcurrent(t *testing.T) {
	st, b := newTestSetup(t)

	block := make(chan struct{})
	var running atomic.Int32
	trigger := func(ctx context.Context, agentName, scheduleName string) error {
		running.Add(1)
		b.Publish(bus.TopicJobCreated, bus.JobCreatedPayload{AgentName: agentName, ScheduleName: scheduleName})
		<-block // first job never completes until test releases it
		return nil
	}

	var skippedMaxConcurrent atomic.Int32
	b.Subscribe(bus.TopicScheduleSkipped, func(ev bus.Event) {
		p := ev.Payload.(bus.ScheduleSkippedPayload)
		if p.Reason == bus.SkipMaxConcurrent {
			skippedMaxConcurrent.Add(1)
		}
	})

	s := New(st, b, trigger, 5*time.Millisecond, nil)
	s.SetConfig(&config.ResolvedConfig{
		Agents: []*config.Agent{{
			Name:          "writer",
			MaxConcurrent: 1,
			Schedules: map[string]config.ScheduleConfig{
				"tick": {Type: config.ScheduleInterval, Interval: "5ms"},
			},
		}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)

	deadline := time.Now().Add(500 * time.Millisecond)
	for skippedMaxConcurrent.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	close(block)
	if skippedMaxConcurrent.Load() == 0 {
		t.Fatal("expected at least one schedule:skipped{reason=max_concurrent} event")
	}
	if running.Load() < 1 {
		t.Fatal("expected the trigger to have been called at least once")
	}
}

func TestStopIsNoOpWhenAlreadyStopped(t *testing.T) {
	st, b := newTestSetup(t)
	s := New(st, b, func(ctx context.Context, a, sc string) error { return nil }, time.Second, nil)
	if err := s.Stop(false, 0); err != nil {
		t.Fatalf("expected no-op stop, got %v", err)
	}
}
