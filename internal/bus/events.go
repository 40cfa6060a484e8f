package bus

import "time"

// ConfigReloadedPayload accompanies TopicConfigReloaded.
type ConfigReloadedPayload struct {
	Changes []ConfigChange
}

// ChangeType is the closed enumeration for a ConfigChange.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeRemoved  ChangeType = "removed"
	ChangeModified ChangeType = "modified"
)

// ChangeCategory distinguishes agent-level from schedule-level changes.
type ChangeCategory string

const (
	CategoryAgent    ChangeCategory = "agent"
	CategorySchedule ChangeCategory = "schedule"
)

// ConfigChange is one entry of the §4.8.1 diff list.
type ConfigChange struct {
	Type     ChangeType
	Category ChangeCategory
	Name     string
	Details  string
}

// ScheduleFiredPayload accompanies TopicScheduleFired.
type ScheduleFiredPayload struct {
	AgentName    string
	ScheduleName string
	At           time.Time
}

// SkipReason is the closed enumeration of reasons a scheduler tick skips a
// schedule.
type SkipReason string

const (
	SkipDisabled      SkipReason = "disabled"
	SkipMaxConcurrent SkipReason = "max_concurrent"
	SkipNotDue        SkipReason = "not_due"
)

// ScheduleSkippedPayload accompanies TopicScheduleSkipped.
type ScheduleSkippedPayload struct {
	AgentName    string
	ScheduleName string
	Reason       SkipReason
}

// JobCreatedPayload accompanies TopicJobCreated.
type JobCreatedPayload struct {
	JobID        string
	AgentName    string
	ScheduleName string
	TriggerType  string
}

// JobOutputPayload accompanies TopicJobOutput.
type JobOutputPayload struct {
	JobID     string
	AgentName string
	Record    any
}

// JobTerminalPayload accompanies TopicJobCompleted/TopicJobFailed/TopicJobCancelled.
type JobTerminalPayload struct {
	JobID       string
	AgentName   string
	Status      string
	SessionID   string
	Error       string
	DurationMS  int64
	TerminationType string
}

// JobForkedPayload accompanies TopicJobForked.
type JobForkedPayload struct {
	JobID        string
	ForkedFromID string
	AgentName    string
}

// SessionLifecycleEvent is the payload carried by
// "<bridge>:session:lifecycle".
type SessionLifecycleEvent struct {
	AgentName string
	ChannelID string
	SessionID string
	Event     string // "created" | "resumed"
}

// BridgeMessageHandled is the payload carried by "<bridge>:message:handled".
type BridgeMessageHandled struct {
	AgentName string
	ChannelID string
	JobID     string
}

// BridgeMessageError is the payload carried by "<bridge>:message:error".
type BridgeMessageError struct {
	AgentName string
	ChannelID string
	Error     string
}
