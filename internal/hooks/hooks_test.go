package hooks

import (
	"context"
	"testing"
	"time"

	"github.com/fleetsupervisor/fleetd/internal/config"
)

func contOnError(v bool) *bool { return &v }

func TestExecuteHooksRunsMatchingStage(t *testing.T) {
	hs := []config.HookConfig{
		{Name: "before", Command: "echo hi", Stage: config.HookBeforeRun},
		{Name: "after", Command: "echo bye", Stage: config.HookAfterRun},
	}
	results, failJob := ExecuteHooks(context.Background(), t.TempDir(), hs, HookContext{}, config.HookBeforeRun, nil)
	if len(results) != 1 || results[0].Name != "before" {
		t.Fatalf("expected only 'before' hook to run, got %+v", results)
	}
	if failJob {
		t.Fatal("expected shouldFailJob=false for a successful hook")
	}
}

func TestExecuteHooksFailFastOnContinueOnErrorFalse(t *testing.T) {
	hs := []config.HookConfig{
		{Name: "broken", Command: "exit 1", Stage: config.HookAfterRun, ContinueOnError: contOnError(false)},
	}
	_, failJob := ExecuteHooks(context.Background(), t.TempDir(), hs, HookContext{}, config.HookAfterRun, nil)
	if !failJob {
		t.Fatal("expected shouldFailJob=true when ContinueOnError=false and hook fails")
	}
}

func TestExecuteHooksToleratesFailureByDefault(t *testing.T) {
	hs := []config.HookConfig{
		{Name: "broken", Command: "exit 1", Stage: config.HookAfterRun},
	}
	results, failJob := ExecuteHooks(context.Background(), t.TempDir(), hs, HookContext{}, config.HookAfterRun, nil)
	if failJob {
		t.Fatal("expected shouldFailJob=false by default (continue_on_error defaults true)")
	}
	if !results[0].Failed {
		t.Fatal("expected the hook itself to be marked failed")
	}
}

func TestExecuteHooksSkipsOnFalseWhen(t *testing.T) {
	hs := []config.HookConfig{
		{Name: "conditional", Command: "echo should-not-run", Stage: config.HookAfterRun, When: `result.success == "true"`},
	}
	results, _ := ExecuteHooks(context.Background(), t.TempDir(), hs, HookContext{Result: ResultContext{Success: false}}, config.HookAfterRun, nil)
	if !results[0].Skipped {
		t.Fatal("expected hook to be skipped when 'when' evaluates false")
	}
}

func TestExecuteHooksTimeout(t *testing.T) {
	hs := []config.HookConfig{
		{Name: "slow", Command: "sleep 5", Stage: config.HookAfterRun, TimeoutMS: 50},
	}
	start := time.Now()
	results, _ := ExecuteHooks(context.Background(), t.TempDir(), hs, HookContext{}, config.HookAfterRun, nil)
	if time.Since(start) > 3*time.Second {
		t.Fatal("expected hook to be terminated near its timeout, not run to completion")
	}
	if !results[0].TimedOut {
		t.Fatal("expected TimedOut=true")
	}
}

func TestEvaluateWhenComparisons(t *testing.T) {
	ctx := HookContext{
		Event:  "job:completed",
		Job:    JobContext{ScheduleName: "tick"},
		Result: ResultContext{Success: true},
		Agent:  AgentContext{Name: "writer"},
	}

	cases := []struct {
		expr string
		want bool
	}{
		{`event == "job:completed"`, true},
		{`event == "job:failed"`, false},
		{`result.success == true`, true},
		{`agent.name == "writer" && result.success == true`, true},
		{`agent.name == "other" || result.success == true`, true},
		{`!(result.success == false)`, true},
		{`job.schedule_name == "tick"`, true},
	}
	for _, c := range cases {
		got, err := EvaluateWhen(c.expr, ctx)
		if err != nil {
			t.Fatalf("expr %q: unexpected error: %v", c.expr, err)
		}
		if got != c.want {
			t.Errorf("expr %q: got %v, want %v", c.expr, got, c.want)
		}
	}
}
