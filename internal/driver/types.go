// Package driver defines the QueryDriver contract (spec §6.1): the
// abstraction over the external LLM engine that the Job Runner drives. A
// QueryDriver consumes a prompt and typed options and yields a lazy,
// finite sequence of typed messages until end-of-stream.
//
// Grounded on the teacher's internal/providers package shape (Provider
// interface, ChatRequest/ChatResponse/StreamChunk types); this package
// narrows that shape to the message/option vocabulary spec §6.1 names and
// exposes the lazy sequence as a Go 1.23+ range-over-func iterator
// (iter.Seq2), matching the "coroutine control flow... target language's
// native iterator" guidance in spec §9.
package driver

import (
	"context"
	"iter"
)

// PermissionMode mirrors config.PermissionMode without importing the
// config package, keeping driver a leaf dependency.
type PermissionMode string

const (
	PermissionDefault           PermissionMode = "default"
	PermissionAcceptEdits       PermissionMode = "acceptEdits"
	PermissionBypassPermissions PermissionMode = "bypassPermissions"
	PermissionPlan              PermissionMode = "plan"
	PermissionDelegate          PermissionMode = "delegate"
	PermissionDontAsk           PermissionMode = "dontAsk"
)

// SystemPromptKind distinguishes a bare literal prompt from a named preset.
type SystemPromptKind string

const (
	SystemPromptLiteral SystemPromptKind = ""
	SystemPromptPreset  SystemPromptKind = "preset"
)

// SystemPrompt is either a literal string or {type:"preset", preset, append?}.
type SystemPrompt struct {
	Kind   SystemPromptKind
	Text   string // literal text, when Kind == SystemPromptLiteral
	Preset string // preset name, when Kind == SystemPromptPreset
	Append string // optional text appended after the preset's own prompt
}

// MCPServerSpec describes one injected tool server: either a network-URL
// form or a local-process form with environment, per spec §6.1.
type MCPServerSpec struct {
	Type string // "http" or "" for local process

	URL     string
	Headers map[string]string

	Command string
	Args    []string
	Env     map[string]string
}

// RunOptions carries every QueryDriver option the core recognizes and
// passes through, per spec §6.1.
type RunOptions struct {
	AllowedTools   []string
	DeniedTools    []string
	PermissionMode PermissionMode
	SystemPrompt   SystemPrompt
	SettingSources []string
	MCPServers     map[string]MCPServerSpec
	Resume         string
	ForkSession    bool
	MaxTurns       int
	Cwd            string
	Model          string
}

// MessageType is the closed enumeration of message record kinds the core
// interprets. Any other type must be stored verbatim and ignored
// semantically (spec §6.1) — callers that see an unrecognized Type should
// still persist Raw.
type MessageType string

const (
	MessageSystem      MessageType = "system"
	MessageAssistant   MessageType = "assistant"
	MessageUser        MessageType = "user"
	MessageStreamEvent MessageType = "stream_event"
	MessageToolProgress MessageType = "tool_progress"
	MessageAuthStatus  MessageType = "auth_status"
	MessageResult      MessageType = "result"
	MessageError       MessageType = "error"
)

// SystemSubtype distinguishes the two system-message shapes spec §6.1
// names.
type SystemSubtype string

const (
	SystemSubtypeInit   SystemSubtype = "init"
	SystemSubtypeStatus SystemSubtype = "status"
)

// ContentBlockType is the closed enumeration of assistant/user content
// block kinds.
type ContentBlockType string

const (
	BlockText       ContentBlockType = "text"
	BlockToolUse    ContentBlockType = "tool_use"
	BlockToolResult ContentBlockType = "tool_result"
)

// ContentBlock is one element of an assistant or user message's content
// array.
type ContentBlock struct {
	Type ContentBlockType

	Text string // BlockText

	ToolUseID string // BlockToolUse / BlockToolResult pairing key
	ToolName  string // BlockToolUse
	ToolInput string // BlockToolUse, raw JSON

	ToolResultContent string // BlockToolResult
	ToolResultIsError bool   // BlockToolResult
}

// Usage carries token accounting reported by the driver's terminal result.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Message is one record in a QueryDriver's output sequence, per spec §6.1.
// Raw always holds the original decoded value so unrecognized types can be
// stored verbatim.
type Message struct {
	Type MessageType
	Raw  any

	// system
	Subtype   SystemSubtype
	SessionID string
	Status    string

	// assistant / user
	Content []ContentBlock

	// result (final)
	DurationMS   int64
	NumTurns     int
	TotalCostUSD *float64
	Usage        *Usage
	IsError      bool
	Result       string

	// error
	ErrorMessage string
}

// QueryDriver is the external LLM engine contract. Query returns a lazy,
// finite iterator; iteration may be interrupted at any point by the
// consumer returning false from the yield function, or by ctx
// cancellation, which the driver must observe at its next suspension
// point (spec §5 cancellation model). The iterator's second yielded value
// is a non-nil error exactly when the driver cannot continue; after an
// error is yielded, no further values are produced.
type QueryDriver interface {
	Query(ctx context.Context, prompt string, opts RunOptions) iter.Seq2[Message, error]
}
