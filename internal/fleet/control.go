package fleet

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fleetsupervisor/fleetd/internal/bus"
	"github.com/fleetsupervisor/fleetd/internal/driver"
	"github.com/fleetsupervisor/fleetd/internal/errs"
	"github.com/fleetsupervisor/fleetd/internal/store"
)

// CancelResult reports what happened to a cancelJob() call, per spec §4.8.
type CancelResult struct {
	JobID           string
	TerminationType string // "graceful" | "forced" | "already_stopped"
}

// CancelJob signals a running job to stop and waits up to opts.Timeout for
// it to exit gracefully. A job already in a terminal state is reported as
// already_stopped with no new event. The terminal status write itself
// happens inside the Job Runner's own finish path; CancelJob only signals
// and waits.
func (m *Manager) CancelJob(ctx context.Context, jobID string, opts CancelOptions) (CancelResult, error) {
	m.activeMu.Lock()
	job, running := m.active[jobID]
	m.activeMu.Unlock()

	if !running {
		if _, err := m.store.GetJob(jobID); err != nil {
			if errs.Is(err, errs.KindNotFound) {
				return CancelResult{}, &JobNotFoundError{JobID: jobID}
			}
			return CancelResult{}, err
		}
		return CancelResult{JobID: jobID, TerminationType: "already_stopped"}, nil
	}

	job.cancel()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	select {
	case <-job.done:
		return CancelResult{JobID: jobID, TerminationType: "graceful"}, nil
	case <-time.After(timeout):
		return CancelResult{JobID: jobID, TerminationType: "forced"}, nil
	case <-ctx.Done():
		return CancelResult{}, ctx.Err()
	}
}

// ForkOptions configures forkJob().
type ForkOptions struct {
	Prompt       string
	ScheduleName string
}

// ForkJob creates a new job for the same agent as an existing one,
// carrying over its prompt/schedule unless overridden, per spec §4.8.
func (m *Manager) ForkJob(ctx context.Context, jobID string, opts ForkOptions) (TriggerResult, error) {
	original, err := m.store.GetJob(jobID)
	if err != nil {
		if errs.Is(err, errs.KindNotFound) {
			return TriggerResult{}, &JobNotFoundError{JobID: jobID}
		}
		return TriggerResult{}, err
	}

	m.mu.RLock()
	cfg := m.cfg
	m.mu.RUnlock()
	if cfg.AgentByName(original.AgentName) == nil {
		return TriggerResult{}, &JobNotFoundError{JobID: original.AgentName}
	}

	scheduleName := opts.ScheduleName
	if scheduleName == "" {
		scheduleName = original.ScheduleName
	}
	prompt := opts.Prompt
	if prompt == "" {
		prompt = original.Prompt
	}

	result, err := m.triggerWith(ctx, original.AgentName, scheduleName, TriggerOptions{Prompt: prompt}, store.TriggerFork, "", jobID, nil, nil)
	if err != nil {
		return TriggerResult{}, err
	}

	m.bus.Publish(bus.TopicJobForked, bus.JobForkedPayload{JobID: result.JobID, ForkedFromID: jobID, AgentName: original.AgentName})
	return result, nil
}

// GetJobFinalOutput returns a job's last assistant text, falling back to
// its last tool_result content, or "" if neither ever appeared.
func (m *Manager) GetJobFinalOutput(jobID string) (string, error) {
	records, err := m.store.ReadJobOutputAll(jobID)
	if err != nil {
		return "", err
	}

	var lastAssistant, lastToolResult string
	for _, rec := range records {
		msg, ok := decodeMessage(rec)
		if !ok {
			continue
		}
		switch msg.Type {
		case driver.MessageAssistant:
			if text := concatTextBlocks(msg); text != "" {
				lastAssistant = text
			}
		case driver.MessageUser:
			if text := firstToolResultText(msg); text != "" {
				lastToolResult = text
			}
		}
	}
	if lastAssistant != "" {
		return lastAssistant, nil
	}
	return lastToolResult, nil
}

// decodeMessage re-materializes an OutputRecord's verbatim Raw payload as a
// driver.Message, since a round trip through JSON on disk loses the
// original struct type.
func decodeMessage(rec store.OutputRecord) (driver.Message, bool) {
	raw, err := json.Marshal(rec.Raw)
	if err != nil {
		return driver.Message{}, false
	}
	var msg driver.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return driver.Message{}, false
	}
	return msg, true
}

func concatTextBlocks(msg driver.Message) string {
	var out string
	for _, b := range msg.Content {
		if b.Type == driver.BlockText {
			out += b.Text
		}
	}
	return out
}

func firstToolResultText(msg driver.Message) string {
	for _, b := range msg.Content {
		if b.Type == driver.BlockToolResult && b.ToolResultContent != "" {
			return b.ToolResultContent
		}
	}
	return ""
}
