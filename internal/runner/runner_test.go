package runner

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"testing"

	"github.com/fleetsupervisor/fleetd/internal/bus"
	"github.com/fleetsupervisor/fleetd/internal/config"
	"github.com/fleetsupervisor/fleetd/internal/driver"
	"github.com/fleetsupervisor/fleetd/internal/store"
)

// fakeDriver yields a canned sequence of (Message, error) pairs, grounded
// on the teacher's fake-provider pattern used to test its agent loop.
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

func testAgent() *config.Agent {
	return &config.Agent{Name: "writer", MaxConcurrent: 1}
}

func newTestRunner(t *testing.T, d driver.QueryDriver) (*jobRunner, *store.Store, *bus.Bus) {
	t.Helper()
	st := store.New(t.TempDir(), slog.Default())
	if err := st.InitStateDirectory(); err != nil {
		t.Fatalf("InitStateDirectory: %v", err)
	}
	b := bus.New(slog.Default())
	r := New(st, b, d, slog.Default(), nil).(*jobRunner)
	return r, st, b
}

func TestExecuteHappyPathCompletesJob(t *testing.T) {
	d := &fakeDriver{seq: []driverStep{
		{msg: driver.Message{Type: driver.MessageSystem, Subtype: driver.SystemSubtypeInit, SessionID: "sess-1"}},
		{msg: driver.Message{Type: driver.MessageAssistant, Content: []driver.ContentBlock{{Type: driver.BlockText, Text: "hello there"}}}},
		{msg: driver.Message{Type: driver.MessageResult, Result: "hello there"}},
	}}
	r, _, _ := newTestRunner(t, d)

	result, err := r.Execute(context.Background(), ExecuteInput{
		Agent: testAgent(), Prompt: "hi", TriggerType: store.TriggerManual,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success || result.ExitReason != store.ExitSuccess {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.SessionID != "sess-1" {
		t.Fatalf("expected session id to be captured, got %q", result.SessionID)
	}
	if result.FinalOutput != "hello there" {
		t.Fatalf("expected final output from assistant text, got %q", result.FinalOutput)
	}

	meta, err := r.store.GetJob(result.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if meta.Status != store.JobCompleted {
		t.Fatalf("expected persisted status completed, got %q", meta.Status)
	}
	if meta.SessionID != "sess-1" {
		t.Fatalf("expected persisted session id, got %q", meta.SessionID)
	}

	records, err := r.store.ReadJobOutputAll(result.JobID)
	if err != nil {
		t.Fatalf("ReadJobOutputAll: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 output records, got %d", len(records))
	}
}

func TestExecuteMalformedMessageFailsJob(t *testing.T) {
	d := &fakeDriver{seq: []driverStep{
		{msg: driver.Message{Type: driver.MessageSystem, Subtype: driver.SystemSubtypeInit, SessionID: "sess-2"}},
		{msg: driver.Message{}}, // missing Type field
	}}
	r, _, _ := newTestRunner(t, d)

	result, err := r.Execute(context.Background(), ExecuteInput{
		Agent: testAgent(), Prompt: "hi", TriggerType: store.TriggerManual,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure for malformed message")
	}
	if result.ErrorDetails == nil || result.ErrorDetails.Type != store.RunnerErrorMalformedResponse {
		t.Fatalf("expected malformed_response error, got %+v", result.ErrorDetails)
	}
	if result.ErrorDetails.Recoverable {
		t.Fatal("expected malformed response to be non-recoverable")
	}
	if result.ErrorDetails.MessagesReceived < 1 {
		t.Fatalf("expected at least 1 message received, got %d", result.ErrorDetails.MessagesReceived)
	}

	meta, err := r.store.GetJob(result.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if meta.Status != store.JobFailed {
		t.Fatalf("expected persisted status failed, got %q", meta.Status)
	}
}

func TestExecuteStreamingErrorClassifiesByMessagesReceived(t *testing.T) {
	streamErr := errors.New("connection reset")
	d := &fakeDriver{seq: []driverStep{
		{err: streamErr},
	}}
	r, _, _ := newTestRunner(t, d)

	result, err := r.Execute(context.Background(), ExecuteInput{
		Agent: testAgent(), Prompt: "hi", TriggerType: store.TriggerManual,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.ErrorDetails == nil || result.ErrorDetails.Type != store.RunnerErrorInitialization {
		t.Fatalf("expected initialization error when no messages were received, got %+v", result.ErrorDetails)
	}
}

func TestExecuteEmptyAssistantOutputFallsBackToToolResult(t *testing.T) {
	d := &fakeDriver{seq: []driverStep{
		{msg: driver.Message{Type: driver.MessageSystem, Subtype: driver.SystemSubtypeInit, SessionID: "sess-3"}},
		{msg: driver.Message{Type: driver.MessageUser, Content: []driver.ContentBlock{{Type: driver.BlockToolResult, ToolResultContent: "tool output"}}}},
		{msg: driver.Message{Type: driver.MessageResult, Result: ""}},
	}}
	r, _, _ := newTestRunner(t, d)

	result, err := r.Execute(context.Background(), ExecuteInput{
		Agent: testAgent(), Prompt: "hi", TriggerType: store.TriggerManual,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.FinalOutput != "tool output" {
		t.Fatalf("expected fallback to tool result content, got %q", result.FinalOutput)
	}
}

func TestExecutePublishesJobLifecycleEvents(t *testing.T) {
	d := &fakeDriver{seq: []driverStep{
		{msg: driver.Message{Type: driver.MessageResult, Result: "done"}},
	}}
	r, _, b := newTestRunner(t, d)

	var created, completed bool
	b.Subscribe(bus.TopicJobCreated, func(bus.Event) { created = true })
	b.Subscribe(bus.TopicJobCompleted, func(bus.Event) { completed = true })

	_, err := r.Execute(context.Background(), ExecuteInput{
		Agent: testAgent(), Prompt: "hi", TriggerType: store.TriggerManual,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !created {
		t.Fatal("expected job:created to be published")
	}
	if !completed {
		t.Fatal("expected job:completed to be published")
	}
}

func TestExecuteOnMessagePanicDoesNotAbortRun(t *testing.T) {
	d := &fakeDriver{seq: []driverStep{
		{msg: driver.Message{Type: driver.MessageAssistant, Content: []driver.ContentBlock{{Type: driver.BlockText, Text: "x"}}}},
		{msg: driver.Message{Type: driver.MessageResult, Result: "x"}},
	}}
	r, _, _ := newTestRunner(t, d)

	result, err := r.Execute(context.Background(), ExecuteInput{
		Agent: testAgent(), Prompt: "hi", TriggerType: store.TriggerManual,
		OnMessage: func(driver.Message) { panic("boom") },
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected a panicking OnMessage callback not to fail the run, got %+v", result)
	}
}
