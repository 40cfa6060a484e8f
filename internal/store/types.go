// Package store implements the durable, atomic on-disk State Store (C1):
// fleet state snapshots, job metadata and append-only output, per-schedule
// runtime state, and per-agent chat sessions.
//
// Grounded on the teacher's internal/sessions/manager.go Save() atomic
// write-to-temp-then-rename pattern and internal/store/stores.go's
// container-type idiom, generalized to the fleet-supervisor's on-disk
// layout (spec §6.3). Uses github.com/google/uuid for job id suffixes and
// log/slog for structured logging, matching the teacher throughout.
package store

import "time"

// JobStatus is the closed enumeration of job lifecycle states.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether s is one of the absorbing terminal states.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// TriggerType is the closed enumeration of what caused a job to be created.
type TriggerType string

const (
	TriggerSchedule TriggerType = "schedule"
	TriggerManual   TriggerType = "manual"
	TriggerFork     TriggerType = "fork"
)

// ExitReason is the closed enumeration of why a job reached its terminal
// state.
type ExitReason string

const (
	ExitSuccess   ExitReason = "success"
	ExitError     ExitReason = "error"
	ExitCancelled ExitReason = "cancelled"
	ExitTimeout   ExitReason = "timeout"
)

// RunnerErrorType is the closed enumeration of Job Runner failure kinds,
// per spec §4.4/§7.
type RunnerErrorType string

const (
	RunnerErrorInitialization    RunnerErrorType = "initialization"
	RunnerErrorStreaming         RunnerErrorType = "streaming"
	RunnerErrorMalformedResponse RunnerErrorType = "malformed_response"
	RunnerErrorUnknown           RunnerErrorType = "unknown"
)

// RunnerErrorDetails describes a non-success job terminal state.
type RunnerErrorDetails struct {
	Type             RunnerErrorType `json:"type"`
	Message          string          `json:"message"`
	Recoverable      bool            `json:"recoverable"`
	MessagesReceived int             `json:"messages_received"`
}

// JobMetadata is the terminal-immutable (once terminal) record for one job.
type JobMetadata struct {
	ID           string              `json:"id"`
	AgentName    string              `json:"agent_name"`
	TriggerType  TriggerType         `json:"trigger_type"`
	ScheduleName string              `json:"schedule_name,omitempty"`
	Prompt       string              `json:"prompt"`
	SessionID    string              `json:"session_id,omitempty"`
	ForkedFrom   string              `json:"forked_from,omitempty"`
	Status       JobStatus           `json:"status"`
	ExitReason   ExitReason          `json:"exit_reason,omitempty"`
	StartedAt    time.Time           `json:"started_at"`
	FinishedAt   time.Time           `json:"finished_at,omitempty"`
	Error        *RunnerErrorDetails `json:"error,omitempty"`
	TraceID      string              `json:"trace_id,omitempty"`
	SpanID       string              `json:"span_id,omitempty"`
}

// OutputRecordType is the closed enumeration of QueryDriver message kinds
// recorded to a job's output log, per spec §6.1.
type OutputRecordType string

const (
	RecordSystem      OutputRecordType = "system"
	RecordAssistant   OutputRecordType = "assistant"
	RecordUser        OutputRecordType = "user"
	RecordStreamEvent OutputRecordType = "stream_event"
	RecordToolProgress OutputRecordType = "tool_progress"
	RecordAuthStatus  OutputRecordType = "auth_status"
	RecordResult      OutputRecordType = "result"
	RecordError       OutputRecordType = "error"
)

// OutputRecord is one line of a job's append-only output log. Raw carries
// the original message so "any other type must be stored verbatim" (spec
// §6.1) holds even for record types this store does not interpret.
type OutputRecord struct {
	Type      OutputRecordType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Raw       any              `json:"raw"`
}

// ScheduleStatus is the closed enumeration of per-schedule runtime states.
type ScheduleStatus string

const (
	ScheduleIdle     ScheduleStatus = "idle"
	ScheduleRunning  ScheduleStatus = "running"
	ScheduleDisabled ScheduleStatus = "disabled"
)

// ScheduleState is the persisted runtime state of one (agent, schedule)
// pair.
type ScheduleState struct {
	Status     ScheduleStatus `json:"status"`
	LastRunAt  time.Time      `json:"last_run_at,omitempty"`
	NextRunAt  time.Time      `json:"next_run_at,omitempty"`
	LastError  string         `json:"last_error,omitempty"`
}

// AgentState is the per-agent slice of a FleetState snapshot.
type AgentState struct {
	Status       string                   `json:"status"`
	CurrentJobID string                   `json:"current_job_id,omitempty"`
	LastJobID    string                   `json:"last_job_id,omitempty"`
	Schedules    map[string]ScheduleState `json:"schedules"`
}

// FleetState is the process-wide snapshot persisted on shutdown and during
// normal operation.
type FleetState struct {
	StartedAt time.Time             `json:"started_at"`
	StoppedAt time.Time             `json:"stopped_at,omitempty"`
	Agents    map[string]AgentState `json:"agents"`
}

// ChatSession is the per (agentName, channelID) opaque session record.
type ChatSession struct {
	AgentName     string    `json:"agent_name"`
	ChannelID     string    `json:"channel_id"`
	SessionID     string    `json:"session_id"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// JobFilter narrows listJobs results.
type JobFilter struct {
	AgentName string
	Status    JobStatus
	Limit     int
}
