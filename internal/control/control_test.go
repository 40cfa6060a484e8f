package control

import (
	"context"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fleetsupervisor/fleetd/internal/driver"
	"github.com/fleetsupervisor/fleetd/internal/fleet"
)

// fakeDriver yields a canned sequence of (Message, error) pairs, the same
// pattern internal/fleet and internal/runner test against.
type fakeDriver struct {
	seq []driverStep
}

type driverStep struct {
	msg driver.Message
	err error
}

func (f *fakeDriver) Query(ctx context.Context, prompt string, opts driver.RunOptions) iter.Seq2[driver.Message, error] {
	return func(yield func(driver.Message, error) bool) {
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
		{msg: driver.Message{Type: driver.MessageResult, Result: "ok"}},
	}}
}

// startTestFleetAndServer builds a running Fleet Manager and a control
// Server listening on a Unix socket under t.TempDir, returning a Client
// dialed to it. The server is stopped when the test ends.
func startTestFleetAndServer(t *testing.T, cfgYAML string) *Client {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "fleet.yaml")
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	mgr := fleet.New(cfgPath, happyDriver(), logger)
	if err := mgr.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := mgr.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(cancel)

	srv := NewServer(mgr, logger)
	sockPath := filepath.Join(dir, SocketName)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx, sockPath) }()

	waitForSocket(t, sockPath)
	return NewClient(sockPath)
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("control socket %s never appeared", path)
}

func TestClientTriggerRoundTrip(t *testing.T) {
	c := startTestFleetAndServer(t, `
agents:
  writer:
    name: writer
    default_prompt: "do the thing"
`)

	result, err := c.Trigger(context.Background(), "writer", "", "")
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if !result.Success {
		t.Errorf("expected a successful trigger, got %+v", result)
	}
	if result.Prompt != "do the thing" {
		t.Errorf("expected the agent default prompt to be used, got %q", result.Prompt)
	}
}

func TestClientTriggerUnknownAgentIsValidationError(t *testing.T) {
	c := startTestFleetAndServer(t, `
agents:
  writer:
    name: writer
`)

	_, err := c.Trigger(context.Background(), "no-such-agent", "", "")
	if err == nil {
		t.Fatal("expected an error for an unknown agent")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected *ValidationError (HTTP 400) for an unknown agent, got %T: %v", err, err)
	}
}

func TestClientCancelUnknownJobIsValidationError(t *testing.T) {
	c := startTestFleetAndServer(t, `
agents:
  writer:
    name: writer
`)

	_, err := c.Cancel(context.Background(), "no-such-job", 0)
	if err == nil {
		t.Fatal("expected an error for an unknown job id")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected *ValidationError (HTTP 400) for an unknown job, got %T: %v", err, err)
	}
}

func TestClientStatusReportsRunningState(t *testing.T) {
	c := startTestFleetAndServer(t, `
agents:
  writer:
    name: writer
    max_concurrent: 2
`)

	st, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.State != fleet.StateRunning {
		t.Errorf("expected state %q, got %q", fleet.StateRunning, st.State)
	}
	if len(st.Agents) != 1 || st.Agents[0].Name != "writer" {
		t.Fatalf("expected one agent 'writer' in status, got %+v", st.Agents)
	}
}

func TestClientReloadNoChanges(t *testing.T) {
	c := startTestFleetAndServer(t, `
agents:
  writer:
    name: writer
`)

	changes, err := c.Reload(context.Background())
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if len(changes) != 0 {
		t.Errorf("expected no changes reloading the same config, got %d", len(changes))
	}
}

func TestClientStreamLogsNonFollowTerminates(t *testing.T) {
	c := startTestFleetAndServer(t, `
agents:
  writer:
    name: writer
`)

	if _, err := c.Trigger(context.Background(), "writer", "", ""); err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	var entries int
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := c.StreamLogs(ctx, LogOptions{Agent: "writer", History: true, Follow: false}, func(fleet.LogEntry) {
		entries++
	})
	if err != nil {
		t.Fatalf("StreamLogs: %v", err)
	}
	if entries == 0 {
		t.Error("expected at least one replayed history entry")
	}
}
