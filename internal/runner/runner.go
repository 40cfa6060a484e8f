package runner

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fleetsupervisor/fleetd/internal/bus"
	"github.com/fleetsupervisor/fleetd/internal/config"
	"github.com/fleetsupervisor/fleetd/internal/driver"
	"github.com/fleetsupervisor/fleetd/internal/hooks"
	"github.com/fleetsupervisor/fleetd/internal/store"
	"github.com/fleetsupervisor/fleetd/internal/tracing"
	"go.opentelemetry.io/otel/trace"
)

// jobRunner is the concrete Runner implementation.
type jobRunner struct {
	store  *store.Store
	bus    *bus.Bus
	driver driver.QueryDriver
	logger *slog.Logger
	tracer *tracing.Provider
}

// New creates a Runner backed by st, b, and d. tracer may be nil, in which
// case Execute runs untraced.
func New(st *store.Store, b *bus.Bus, d driver.QueryDriver, logger *slog.Logger, tracer *tracing.Provider) Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &jobRunner{store: st, bus: b, driver: d, logger: logger, tracer: tracer}
}

func (r *jobRunner) Execute(ctx context.Context, in ExecuteInput) (*Result, error) {
	meta, err := r.store.CreateJob(store.CreateJobInput{
		AgentName:    in.Agent.Name,
		TriggerType:  in.TriggerType,
		ScheduleName: in.ScheduleName,
		Prompt:       in.Prompt,
		Resume:       in.Resume,
		ForkedFrom:   in.ForkedFrom,
	})
	if err != nil {
		return nil, err
	}

	r.bus.Publish(bus.TopicJobCreated, bus.JobCreatedPayload{
		JobID: meta.ID, AgentName: in.Agent.Name, ScheduleName: in.ScheduleName, TriggerType: string(in.TriggerType),
	})

	if in.OnJobCreated != nil {
		in.OnJobCreated(meta.ID)
	}

	var endJobSpan func(success bool, errMsg string)
	if r.tracer != nil {
		var span trace.Span
		ctx, span = r.tracer.StartJobSpan(ctx, meta.ID, in.Agent.Name, string(in.TriggerType))
		endJobSpan = func(success bool, errMsg string) { tracing.EndJobSpan(span, success, errMsg) }
	}

	if _, err := r.store.UpdateJob(meta.ID, func(m *store.JobMetadata) { m.Status = store.JobRunning }); err != nil {
		r.logger.Error("marking job running failed", "job_id", meta.ID, "error", err)
	}

	opts := buildRunOptions(in.Agent, in.Resume, in.Fork, in.InjectedMCPServers)
	start := time.Now()

	var sessionID string
	messagesReceived := 0
	var errDetails *store.RunnerErrorDetails
	var lastAssistantText string
	var lastToolResultText string

	for msg, streamErr := range r.driver.Query(ctx, in.Prompt, opts) {
		if streamErr != nil {
			errDetails = classifyStreamError(streamErr, messagesReceived)
			break
		}

		if msg.Type == "" {
			// A record missing its type field: malformed per spec §6.1/§7.
			messagesReceived++
			r.appendRecord(meta.ID, msg)
			errDetails = &store.RunnerErrorDetails{
				Type:             store.RunnerErrorMalformedResponse,
				Message:          "message missing 'type' field",
				Recoverable:      false,
				MessagesReceived: messagesReceived,
			}
			break
		}

		messagesReceived++
		r.appendRecord(meta.ID, msg)

		if r.tracer != nil && (msg.Type == driver.MessageAssistant || msg.Type == driver.MessageUser) {
			_, msgSpan := r.tracer.StartMessageSpan(ctx, string(msg.Type), "job."+string(msg.Type))
			msgSpan.End()
		}

		if msg.Type == driver.MessageSystem && msg.Subtype == driver.SystemSubtypeInit && msg.SessionID != "" {
			sessionID = msg.SessionID
		}
		if msg.Type == driver.MessageAssistant {
			if text := extractText(msg); text != "" {
				lastAssistantText = text
			}
		}
		if msg.Type == driver.MessageUser {
			if text := extractToolResultText(msg); text != "" {
				lastToolResultText = text
			}
		}

		r.invokeOnMessage(in.OnMessage, msg)
		r.bus.Publish(bus.TopicJobOutput, bus.JobOutputPayload{JobID: meta.ID, AgentName: in.Agent.Name, Record: msg})
	}

	durationMS := time.Since(start).Milliseconds()
	finalOutput := lastAssistantText
	if finalOutput == "" {
		finalOutput = lastToolResultText
	}

	result := &Result{
		JobID:        meta.ID,
		AgentName:    in.Agent.Name,
		ScheduleName: in.ScheduleName,
		SessionID:    sessionID,
		FinalOutput:  finalOutput,
		DurationMS:   durationMS,
	}

	switch {
	case errDetails != nil:
		r.finishFailed(in, meta.ID, errDetails, durationMS)
		result.Success = false
		result.ExitReason = store.ExitError
		result.ErrorDetails = errDetails
		if endJobSpan != nil {
			endJobSpan(false, errDetails.Message)
		}
	case ctx.Err() != nil:
		r.finishCancelled(in, meta.ID, durationMS)
		result.Success = false
		result.ExitReason = store.ExitCancelled
		result.TerminationType = "graceful"
		if endJobSpan != nil {
			endJobSpan(false, "cancelled")
		}
	default:
		r.finishCompleted(in, meta.ID, sessionID, durationMS)
		result.Success = true
		result.ExitReason = store.ExitSuccess
		if endJobSpan != nil {
			endJobSpan(true, "")
		}
	}

	return result, nil
}

func (r *jobRunner) invokeOnMessage(fn func(driver.Message), msg driver.Message) {
	if fn == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("onMessage callback panicked", "panic", rec)
		}
	}()
	fn(msg)
}

func (r *jobRunner) appendRecord(jobID string, msg driver.Message) {
	rec := toOutputRecord(msg)
	if err := r.store.AppendJobOutput(jobID, rec); err != nil {
		r.logger.Error("appending job output failed", "job_id", jobID, "error", err)
	}
}

func (r *jobRunner) finishCompleted(in ExecuteInput, jobID, sessionID string, durationMS int64) {
	if _, err := r.store.UpdateJob(jobID, func(m *store.JobMetadata) {
		m.Status = store.JobCompleted
		m.ExitReason = store.ExitSuccess
		m.FinishedAt = time.Now()
		if sessionID != "" {
			m.SessionID = sessionID // session safety: only stored on success, spec invariant 7
		}
	}); err != nil {
		r.logger.Error("finalizing completed job failed", "job_id", jobID, "error", err)
	}

	r.bus.Publish(bus.TopicJobCompleted, bus.JobTerminalPayload{
		JobID: jobID, AgentName: in.Agent.Name, Status: string(store.JobCompleted), SessionID: sessionID, DurationMS: durationMS,
	})
	r.runHooks(in, jobID, durationMS, true, "", config.HookAfterRun)
}

func (r *jobRunner) finishFailed(in ExecuteInput, jobID string, details *store.RunnerErrorDetails, durationMS int64) {
	if _, err := r.store.UpdateJob(jobID, func(m *store.JobMetadata) {
		m.Status = store.JobFailed
		m.ExitReason = store.ExitError
		m.FinishedAt = time.Now()
		m.Error = details
	}); err != nil {
		r.logger.Error("finalizing failed job failed", "job_id", jobID, "error", err)
	}

	r.bus.Publish(bus.TopicJobFailed, bus.JobTerminalPayload{
		JobID: jobID, AgentName: in.Agent.Name, Status: string(store.JobFailed), Error: details.Message, DurationMS: durationMS,
	})
	r.runHooks(in, jobID, durationMS, false, details.Message, config.HookAfterRun)
	r.runHooks(in, jobID, durationMS, false, details.Message, config.HookOnError)
}

func (r *jobRunner) finishCancelled(in ExecuteInput, jobID string, durationMS int64) {
	if _, err := r.store.UpdateJob(jobID, func(m *store.JobMetadata) {
		m.Status = store.JobCancelled
		m.ExitReason = store.ExitCancelled
		m.FinishedAt = time.Now()
	}); err != nil {
		r.logger.Error("finalizing cancelled job failed", "job_id", jobID, "error", err)
	}

	r.bus.Publish(bus.TopicJobCancelled, bus.JobTerminalPayload{
		JobID: jobID, AgentName: in.Agent.Name, Status: string(store.JobCancelled), DurationMS: durationMS, TerminationType: "graceful",
	})
	r.runHooks(in, jobID, durationMS, false, "cancelled", config.HookAfterRun)
}

func (r *jobRunner) runHooks(in ExecuteInput, jobID string, durationMS int64, success bool, errMsg string, stage config.HookStage) {
	if len(in.Agent.Hooks) == 0 {
		return
	}
	hctx := hooks.HookContext{
		Event: string(stage),
		Job: hooks.JobContext{
			ID: jobID, AgentID: in.Agent.Name, ScheduleName: in.ScheduleName,
			StartedAt: time.Now().Add(-time.Duration(durationMS) * time.Millisecond),
			CompletedAt: time.Now(), DurationMS: durationMS,
		},
		Result: hooks.ResultContext{Success: success, Error: errMsg},
		Agent:  hooks.AgentContext{ID: in.Agent.Name, Name: in.Agent.Name},
	}
	hookCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	_, shouldFail := hooks.ExecuteHooks(hookCtx, in.Agent.WorkingDirectory, in.Agent.Hooks, hctx, stage, r.logger)
	if shouldFail {
		r.logger.Warn("a hook with continue_on_error=false failed", "job_id", jobID, "stage", stage)
	}
}

func classifyStreamError(err error, messagesReceived int) *store.RunnerErrorDetails {
	errType := store.RunnerErrorUnknown
	recoverable := false
	switch {
	case messagesReceived == 0:
		errType = store.RunnerErrorInitialization
	case errors.Is(err, context.DeadlineExceeded):
		errType = store.RunnerErrorStreaming
		recoverable = true
	default:
		errType = store.RunnerErrorStreaming
	}
	return &store.RunnerErrorDetails{
		Type:             errType,
		Message:          err.Error(),
		Recoverable:      recoverable,
		MessagesReceived: messagesReceived,
	}
}
