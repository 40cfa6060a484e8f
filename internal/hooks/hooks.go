// Package hooks implements the Hook Executor (C5): bounded-time, captured-
// output execution of user-defined pre/post/failure commands with
// conditional `when` predicates.
//
// Grounded on the teacher's internal/tools/shell.go bounded-timeout
// execution shape (os/exec.CommandContext plus a graceful-then-forced stop
// on timeout, captured output bounded to a configurable maximum),
// generalized from "LLM-invoked tool" to "lifecycle hook". The `when`
// predicate evaluator is a small hand-rolled boolean-expression evaluator;
// no example repo in the corpus carries a general expression-evaluation
// library in its require graph, so this is implemented on the standard
// library (see DESIGN.md).
package hooks

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"github.com/fleetsupervisor/fleetd/internal/config"
)

// maxCapturedOutput bounds stdout/stderr capture per hook invocation.
const maxCapturedOutput = 64 * 1024

// forcedStopGrace is the window between a graceful stop signal and a
// forced kill on timeout.
const forcedStopGrace = 2 * time.Second

// JobContext is the job-shaped subset of HookContext, per spec §4.5.
type JobContext struct {
	ID           string
	AgentID      string
	ScheduleName string
	StartedAt    time.Time
	CompletedAt  time.Time
	DurationMS   int64
}

// ResultContext is the job-result subset of HookContext.
type ResultContext struct {
	Success bool
	Output  string
	Error   string
}

// AgentContext is the agent-identity subset of HookContext.
type AgentContext struct {
	ID   string
	Name string
}

// HookContext is the evaluation context passed to both the `when`
// predicate and the hook process's environment, per spec §4.5.
type HookContext struct {
	Event    string
	Job      JobContext
	Result   ResultContext
	Agent    AgentContext
	Metadata map[string]any
}

// Result is one hook's outcome.
type Result struct {
	Name        string
	Skipped     bool
	Failed      bool
	TimedOut    bool
	ContinueOK  bool // the hook's effective ContinueOnError (default true), regardless of Failed
	Output      string
	Error       string
}

// ExecuteHooks selects hooks matching stage, evaluates each `when`
// predicate (skipping on false), and runs the rest against ctx's working
// directory. Returns shouldFailJob = true iff any executed hook failed
// with ContinueOnError == false.
func ExecuteHooks(parent context.Context, workDir string, agentHooks []config.HookConfig, hctx HookContext, stage config.HookStage, logger *slog.Logger) (results []Result, shouldFailJob bool) {
	if logger == nil {
		logger = slog.Default()
	}

	for _, h := range agentHooks {
		if h.Stage != stage {
			continue
		}

		if h.When != "" {
			ok, err := EvaluateWhen(h.When, hctx)
			if err != nil {
				logger.Warn("hook 'when' predicate failed to evaluate, skipping", "hook", h.Name, "error", err)
				results = append(results, Result{Name: h.Name, Skipped: true, Error: err.Error()})
				continue
			}
			if !ok {
				results = append(results, Result{Name: h.Name, Skipped: true})
				continue
			}
		}

		res := runOne(parent, workDir, h, logger)
		res.ContinueOK = h.EffectiveContinueOnError()
		results = append(results, res)
		if res.Failed && !h.EffectiveContinueOnError() {
			shouldFailJob = true
		}
	}
	return results, shouldFailJob
}

func runOne(parent context.Context, workDir string, h config.HookConfig, logger *slog.Logger) Result {
	ctx, cancel := context.WithTimeout(parent, h.EffectiveTimeout())
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", h.Command)
	cmd.Dir = workDir
	// On timeout send SIGTERM first and allow forcedStopGrace before the
	// runtime escalates to SIGKILL, instead of killing immediately.
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = forcedStopGrace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &boundedWriter{buf: &stdout, limit: maxCapturedOutput}
	cmd.Stderr = &boundedWriter{buf: &stderr, limit: maxCapturedOutput}

	err := cmd.Run()
	combined := stdout.String()
	if stderr.Len() > 0 {
		combined += "\n" + stderr.String()
	}

	if ctx.Err() == context.DeadlineExceeded {
		logger.Warn("hook timed out", "hook", h.Name, "timeout", h.EffectiveTimeout())
		return Result{Name: h.Name, Failed: true, TimedOut: true, Output: combined, Error: "hook timed out"}
	}
	if err != nil {
		return Result{Name: h.Name, Failed: true, Output: combined, Error: err.Error()}
	}
	return Result{Name: h.Name, Output: combined}
}

// boundedWriter caps the number of bytes copied into buf.
type boundedWriter struct {
	buf   *bytes.Buffer
	limit int
}

func (w *boundedWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) > remaining {
		w.buf.Write(p[:remaining])
	} else {
		w.buf.Write(p)
	}
	return len(p), nil
}
