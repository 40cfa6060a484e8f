package runner

import (
	"time"

	"github.com/fleetsupervisor/fleetd/internal/driver"
	"github.com/fleetsupervisor/fleetd/internal/store"
)

// messageTypeToRecordType maps a driver.MessageType to the matching
// store.OutputRecordType; the two enumerations are kept in lockstep by
// design so any driver message can be persisted.
func messageTypeToRecordType(t driver.MessageType) store.OutputRecordType {
	switch t {
	case driver.MessageSystem:
		return store.RecordSystem
	case driver.MessageAssistant:
		return store.RecordAssistant
	case driver.MessageUser:
		return store.RecordUser
	case driver.MessageStreamEvent:
		return store.RecordStreamEvent
	case driver.MessageToolProgress:
		return store.RecordToolProgress
	case driver.MessageAuthStatus:
		return store.RecordAuthStatus
	case driver.MessageResult:
		return store.RecordResult
	case driver.MessageError:
		return store.RecordError
	default:
		return store.OutputRecordType(t)
	}
}

// toOutputRecord translates one driver message into its durable on-disk
// shape, storing the original value verbatim per spec §6.1.
func toOutputRecord(msg driver.Message) store.OutputRecord {
	raw := msg.Raw
	if raw == nil {
		raw = msg
	}
	return store.OutputRecord{
		Type:      messageTypeToRecordType(msg.Type),
		Timestamp: time.Now(),
		Raw:       raw,
	}
}

// extractText returns the concatenated text of an assistant message's text
// blocks, or "" if it has none (the "empty assistant output" edge case
// spec §4.4 calls out).
func extractText(msg driver.Message) string {
	var out string
	for _, b := range msg.Content {
		if b.Type == driver.BlockText && b.Text != "" {
			out += b.Text
		}
	}
	return out
}

// extractToolResultText returns the content of the first tool_result block
// in a user message, used as a fallback final-output source when the agent
// never produced its own assistant text.
func extractToolResultText(msg driver.Message) string {
	for _, b := range msg.Content {
		if b.Type == driver.BlockToolResult && b.ToolResultContent != "" {
			return b.ToolResultContent
		}
	}
	return ""
}
