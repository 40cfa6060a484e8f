package fleet

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fleetsupervisor/fleetd/internal/driver"
)

// fakeDriver yields a canned sequence of (Message, error) pairs, grounded
// on the same pattern internal/runner tests itself against.
type fakeDriver struct {
	seq   []driverStep
	block chan struct{} // when non-nil, Query blocks here until closed or ctx is cancelled
}

type driverStep struct {
	msg driver.Message
	err error
}

func (f *fakeDriver) Query(ctx context.Context, prompt string, opts driver.RunOptions) iter.Seq2[driver.Message, error] {
	return func(yield func(driver.Message, error) bool) {
		if f.block != nil {
			select {
			case <-f.block:
			case <-ctx.Done():
				return
			}
		}
		for _, step := range f.seq {
			if ctx.Err() != nil {
				return
			}
			if !yield(step.msg, step.err) {
				return
			}
			if step.err != nil {
				return
			}
		}
	}
}

func happyDriver() *fakeDriver {
	return &fakeDriver{seq: []driverStep{
		{msg: driver.Message{Type: driver.MessageSystem, Subtype: driver.SystemSubtypeInit, SessionID: "sess-1"}},
		{msg: driver.Message{Type: driver.MessageAssistant, Content: []driver.ContentBlock{{Type: driver.BlockText, Text: "done"}}}},
		{msg: driver.Message{Type: driver.MessageResult, Result: "done"}},
	}}
}

func writeFleetFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "fleet.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// newRunningManager loads cfg, initializes, and starts a Manager backed by
// d, returning it already in StateRunning.
func newRunningManager(t *testing.T, d driver.QueryDriver, cfgYAML string) (*Manager, context.CancelFunc) {
	t.Helper()
	dir := t.TempDir()
	path := writeFleetFile(t, dir, cfgYAML)

	m := New(path, d, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := m.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start: %v", err)
	}
	return m, cancel
}

func TestLifecycleRejectsOutOfOrderTransitions(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "missing.yaml"), happyDriver(), slog.Default())

	if err := m.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail before Initialize")
	}

	dir := t.TempDir()
	path := writeFleetFile(t, dir, "agents:\n  writer:\n    name: writer\n")
	m2 := New(path, happyDriver(), slog.Default())
	if err := m2.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	err := m2.Initialize()
	var invalid *InvalidStateError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected a second Initialize to fail with InvalidStateError, got %v", err)
	}
	if _, err := m2.Trigger(context.Background(), "writer", "", TriggerOptions{}); err == nil {
		t.Fatal("expected Trigger to fail before Start")
	}
}

func TestTriggerPromptPriority(t *testing.T) {
	m, cancel := newRunningManager(t, happyDriver(), `
agents:
  writer:
    name: writer
    default_prompt: "default prompt"
    schedules:
      tick:
        type: interval
        interval: 1h
        prompt: "schedule prompt"
`)
	defer cancel()

	result, err := m.Trigger(context.Background(), "writer", "tick", TriggerOptions{})
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if result.Prompt != "schedule prompt" {
		t.Errorf("expected schedule prompt to win over default, got %q", result.Prompt)
	}

	result, err = m.Trigger(context.Background(), "writer", "tick", TriggerOptions{Prompt: "explicit prompt"})
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if result.Prompt != "explicit prompt" {
		t.Errorf("expected explicit prompt to win over schedule, got %q", result.Prompt)
	}

	result, err = m.Trigger(context.Background(), "writer", "", TriggerOptions{})
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if result.Prompt != "default prompt" {
		t.Errorf("expected agent default prompt when no schedule/override given, got %q", result.Prompt)
	}
}

func TestTriggerEnforcesConcurrencyLimit(t *testing.T) {
	d := &fakeDriver{block: make(chan struct{}), seq: happyDriver().seq}
	m, cancel := newRunningManager(t, d, `
agents:
  writer:
    name: writer
    max_concurrent: 1
`)
	defer cancel()

	done := make(chan struct{})
	go func() {
		m.Trigger(context.Background(), "writer", "", TriggerOptions{})
		close(done)
	}()

	// Give the first Trigger time to register as active before checking
	// the limit; the job is parked on d.block until we close it below.
	deadline := time.Now().Add(2 * time.Second)
	for {
		m.activeMu.Lock()
		n := len(m.active)
		m.activeMu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first trigger never registered as active")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := m.Trigger(context.Background(), "writer", "", TriggerOptions{}); err == nil {
		t.Fatal("expected second Trigger to be rejected at the concurrency limit")
	}

	close(d.block)
	<-done
}

func TestCancelJobAlreadyTerminal(t *testing.T) {
	m, cancel := newRunningManager(t, happyDriver(), `
agents:
  writer:
    name: writer
`)
	defer cancel()

	result, err := m.Trigger(context.Background(), "writer", "", TriggerOptions{})
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	cr, err := m.CancelJob(context.Background(), result.JobID, CancelOptions{})
	if err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if cr.TerminationType != "already_stopped" {
		t.Errorf("expected already_stopped for a job that already finished, got %q", cr.TerminationType)
	}
}

func TestCancelJobUnknown(t *testing.T) {
	m, cancel := newRunningManager(t, happyDriver(), `
agents:
  writer:
    name: writer
`)
	defer cancel()

	_, err := m.CancelJob(context.Background(), "no-such-job", CancelOptions{})
	var notFound *JobNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected JobNotFoundError for an unknown job id, got %v", err)
	}
}

func TestForkJobCarriesOverPromptAndSchedule(t *testing.T) {
	m, cancel := newRunningManager(t, happyDriver(), `
agents:
  writer:
    name: writer
    schedules:
      tick:
        type: interval
        interval: 1h
        prompt: "original prompt"
`)
	defer cancel()

	original, err := m.Trigger(context.Background(), "writer", "tick", TriggerOptions{})
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	forked, err := m.ForkJob(context.Background(), original.JobID, ForkOptions{})
	if err != nil {
		t.Fatalf("ForkJob: %v", err)
	}
	if forked.Prompt != "original prompt" {
		t.Errorf("expected forked job to carry over the original prompt, got %q", forked.Prompt)
	}
	if forked.ScheduleName != "tick" {
		t.Errorf("expected forked job to carry over the original schedule name, got %q", forked.ScheduleName)
	}

	forkedOverride, err := m.ForkJob(context.Background(), original.JobID, ForkOptions{Prompt: "new prompt"})
	if err != nil {
		t.Fatalf("ForkJob with override: %v", err)
	}
	if forkedOverride.Prompt != "new prompt" {
		t.Errorf("expected override prompt to win, got %q", forkedOverride.Prompt)
	}
}

func TestForkJobUnknownJob(t *testing.T) {
	m, cancel := newRunningManager(t, happyDriver(), `
agents:
  writer:
    name: writer
`)
	defer cancel()

	_, err := m.ForkJob(context.Background(), "no-such-job", ForkOptions{})
	var notFound *JobNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected JobNotFoundError for forking an unknown job id, got %v", err)
	}
}

func TestReloadPropagatesDiff(t *testing.T) {
	dir := t.TempDir()
	path := writeFleetFile(t, dir, `
agents:
  writer:
    name: writer
    schedules:
      tick:
        type: interval
        interval: 1h
`)
	m := New(path, happyDriver(), slog.Default())
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	writeFleetFile(t, dir, `
agents:
  writer:
    name: writer
    schedules:
      tick:
        type: interval
        interval: 2h
`)

	changes, err := m.Reload()
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("expected exactly one config change, got %d: %+v", len(changes), changes)
	}

	_, agents := m.Status()
	found := false
	for _, a := range agents {
		if a.Name == "writer" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected status to still report the writer agent after reload")
	}
}

func TestStatusReportsRunningCountAndSchedules(t *testing.T) {
	m, cancel := newRunningManager(t, happyDriver(), `
agents:
  writer:
    name: writer
    max_concurrent: 3
    schedules:
      tick:
        type: interval
        interval: 1h
`)
	defer cancel()

	state, agents := m.Status()
	if state != StateRunning {
		t.Errorf("expected StateRunning, got %s", state)
	}
	if len(agents) != 1 || agents[0].Name != "writer" {
		t.Fatalf("expected one agent 'writer' in status, got %+v", agents)
	}
	if agents[0].MaxConcurrent != 3 {
		t.Errorf("expected max concurrent 3, got %d", agents[0].MaxConcurrent)
	}
	if len(agents[0].Schedules) != 1 || agents[0].Schedules[0].Name != "tick" {
		t.Fatalf("expected schedule 'tick' in status, got %+v", agents[0].Schedules)
	}
}
