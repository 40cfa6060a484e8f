package chat

import (
	"context"
	"log/slog"
	"testing"

	"github.com/fleetsupervisor/fleetd/internal/bus"
	"github.com/fleetsupervisor/fleetd/internal/driver"
	"github.com/fleetsupervisor/fleetd/internal/store"
)

func newTestPipeline(t *testing.T, trigger TriggerFunc) (*Pipeline, *store.Store) {
	t.Helper()
	st := store.New(t.TempDir(), slog.Default())
	if err := st.InitStateDirectory(); err != nil {
		t.Fatalf("InitStateDirectory: %v", err)
	}
	b := bus.New(slog.Default())
	resolve := func(msg InboundMessage) string { return "writer" }
	p := NewPipeline("testbridge", st, b, trigger, resolve, nil, 2000, 0, slog.Default())
	return p, st
}

func TestPipelineStoresSessionOnSuccess(t *testing.T) {
	trigger := func(ctx context.Context, agentName string, opts TriggerOptions) (TriggerResult, error) {
		opts.OnMessage(driver.Message{
			Type:    driver.MessageAssistant,
			Content: []driver.ContentBlock{{Type: driver.BlockText, Text: "hello"}},
		})
		return TriggerResult{JobID: "job-1", SessionID: "sess-1", Success: true}, nil
	}
	p, st := newTestPipeline(t, trigger)

	var replies []string
	reply := func(ctx context.Context, text string) error {
		replies = append(replies, text)
		return nil
	}

	err := p.HandleInbound(context.Background(), InboundMessage{ChannelID: "c1", Content: "hi"}, reply, nil)
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if len(replies) == 0 {
		t.Fatal("expected at least one reply")
	}

	session, found, err := st.GetChatSession("writer", "c1")
	if err != nil || !found {
		t.Fatalf("expected chat session to be persisted, found=%v err=%v", found, err)
	}
	if session.SessionID != "sess-1" {
		t.Fatalf("expected session id sess-1, got %q", session.SessionID)
	}
}

func TestPipelineSkipsSessionUpdateOnFailure(t *testing.T) {
	trigger := func(ctx context.Context, agentName string, opts TriggerOptions) (TriggerResult, error) {
		return TriggerResult{JobID: "job-1", Success: false, Error: "boom"}, nil
	}
	p, st := newTestPipeline(t, trigger)

	var replies []string
	reply := func(ctx context.Context, text string) error {
		replies = append(replies, text)
		return nil
	}

	err := p.HandleInbound(context.Background(), InboundMessage{ChannelID: "c2", Content: "hi"}, reply, nil)
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if len(replies) != 1 {
		t.Fatalf("expected exactly one error reply, got %+v", replies)
	}

	_, found, _ := st.GetChatSession("writer", "c2")
	if found {
		t.Fatal("expected no chat session to be persisted on failure")
	}
}

func TestPipelineIndicatorAlwaysStopped(t *testing.T) {
	trigger := func(ctx context.Context, agentName string, opts TriggerOptions) (TriggerResult, error) {
		return TriggerResult{Success: true}, nil
	}
	p, _ := newTestPipeline(t, trigger)

	stopped := false
	startIndicator := func() func() {
		return func() { stopped = true }
	}
	reply := func(ctx context.Context, text string) error { return nil }

	if err := p.HandleInbound(context.Background(), InboundMessage{ChannelID: "c3"}, reply, startIndicator); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if !stopped {
		t.Fatal("expected the processing indicator to be stopped")
	}
}
