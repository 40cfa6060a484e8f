package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fleetsupervisor/fleetd/internal/errs"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s := New(dir, nil)
	if err := s.InitStateDirectory(); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestCreateAndGetJob(t *testing.T) {
	s := newTestStore(t)
	meta, err := s.CreateJob(CreateJobInput{AgentName: "writer", TriggerType: TriggerManual, Prompt: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if meta.Status != JobPending {
		t.Errorf("expected pending status, got %s", meta.Status)
	}

	got, err := s.GetJob(meta.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Prompt != "hi" {
		t.Errorf("expected prompt 'hi', got %q", got.Prompt)
	}
}

func TestUpdateJobRejectsTerminalMutation(t *testing.T) {
	s := newTestStore(t)
	meta, err := s.CreateJob(CreateJobInput{AgentName: "writer", TriggerType: TriggerManual})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.UpdateJob(meta.ID, func(m *JobMetadata) { m.Status = JobCompleted }); err != nil {
		t.Fatal(err)
	}

	_, err = s.UpdateJob(meta.ID, func(m *JobMetadata) { m.Prompt = "changed" })
	if err == nil {
		t.Fatal("expected error mutating a terminal job")
	}
	if errs.KindOf(err) != errs.KindConflict {
		t.Errorf("expected KindConflict, got %v", errs.KindOf(err))
	}
}

func TestAppendAndReadJobOutput(t *testing.T) {
	s := newTestStore(t)
	meta, err := s.CreateJob(CreateJobInput{AgentName: "writer", TriggerType: TriggerManual})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if err := s.AppendJobOutput(meta.ID, OutputRecord{Type: RecordAssistant, Raw: map[string]any{"i": i}}); err != nil {
			t.Fatal(err)
		}
	}

	records, err := s.ReadJobOutputAll(meta.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
}

func TestReadJobOutputSkipsPartialTrailingLine(t *testing.T) {
	s := newTestStore(t)
	meta, err := s.CreateJob(CreateJobInput{AgentName: "writer", TriggerType: TriggerManual})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AppendJobOutput(meta.ID, OutputRecord{Type: RecordAssistant, Raw: "complete"}); err != nil {
		t.Fatal(err)
	}

	path, err := s.jobOutputPath(meta.ID)
	if err != nil {
		t.Fatal(err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(`{"type":"assistant","raw":`); err != nil {
		t.Fatal(err)
	}
	f.Close()

	records, err := s.ReadJobOutputAll(meta.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 complete record, partial line skipped, got %d", len(records))
	}
}

func TestBuildSafeFilePathIntegration(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CreateJob(CreateJobInput{AgentName: "../evil", TriggerType: TriggerManual}); err == nil {
		t.Fatal("expected error creating job for unsafe agent name")
	}
}

func TestFleetStateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	fs, err := s.ReadFleetState()
	if err != nil {
		t.Fatal(err)
	}
	fs.Agents["writer"] = AgentState{Status: "idle", Schedules: map[string]ScheduleState{}}
	if err := s.WriteFleetState(fs); err != nil {
		t.Fatal(err)
	}

	reread, err := s.ReadFleetState()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := reread.Agents["writer"]; !ok {
		t.Fatal("expected 'writer' agent state to persist")
	}
}

func TestChatSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	if _, ok, err := s.GetChatSession("writer", "C1"); err != nil || ok {
		t.Fatalf("expected no session initially, ok=%v err=%v", ok, err)
	}

	if err := s.SetChatSession("writer", "C1", "s1"); err != nil {
		t.Fatal(err)
	}
	sess, ok, err := s.GetChatSession("writer", "C1")
	if err != nil || !ok {
		t.Fatalf("expected session to exist, ok=%v err=%v", ok, err)
	}
	if sess.SessionID != "s1" {
		t.Errorf("expected session id 's1', got %q", sess.SessionID)
	}

	if err := s.ClearChatSession("writer", "C1"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.GetChatSession("writer", "C1"); ok {
		t.Fatal("expected session cleared")
	}
}

func TestCleanupExpiredChatSessions(t *testing.T) {
	s := newTestStore(t)
	if err := s.SetChatSession("writer", "C1", "s1"); err != nil {
		t.Fatal(err)
	}
	path, err := s.sessionsPath("writer")
	if err != nil {
		t.Fatal(err)
	}
	f, err := s.readSessionFile("writer")
	if err != nil {
		t.Fatal(err)
	}
	sess := f.Sessions["C1"]
	sess.LastMessageAt = time.Now().Add(-48 * time.Hour)
	f.Sessions["C1"] = sess
	if err := atomicWriteJSON(path, f); err != nil {
		t.Fatal(err)
	}

	removed, err := s.CleanupExpiredChatSessions("writer", 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
}

func TestScheduleStateUpdate(t *testing.T) {
	s := newTestStore(t)
	st, err := s.UpdateScheduleState("writer", "tick", func(st *ScheduleState) {
		st.Status = ScheduleRunning
		st.LastRunAt = time.Now()
	})
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != ScheduleRunning {
		t.Errorf("expected running status, got %s", st.Status)
	}

	got, ok, err := s.GetScheduleState("writer", "tick")
	if err != nil || !ok {
		t.Fatalf("expected persisted schedule state, ok=%v err=%v", ok, err)
	}
	if got.Status != ScheduleRunning {
		t.Errorf("expected running status on reread, got %s", got.Status)
	}
}

func TestWatchJobOutput(t *testing.T) {
	s := newTestStore(t)
	meta, err := s.CreateJob(CreateJobInput{AgentName: "writer", TriggerType: TriggerManual})
	if err != nil {
		t.Fatal(err)
	}

	ch, cancel := s.WatchJobOutput(meta.ID)
	defer cancel()

	go func() {
		_ = s.AppendJobOutput(meta.ID, OutputRecord{Type: RecordAssistant, Raw: "hi"})
	}()

	select {
	case rec := <-ch:
		if rec.Type != RecordAssistant {
			t.Errorf("expected assistant record, got %s", rec.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watched record")
	}
}

func TestInitStateDirectoryIdempotent(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil)
	if err := s.InitStateDirectory(); err != nil {
		t.Fatal(err)
	}
	if err := s.InitStateDirectory(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "jobs")); err != nil {
		t.Fatal(err)
	}
}
