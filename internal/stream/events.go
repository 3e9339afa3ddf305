package stream

import "time"

type EventType string

const (
	EventTextDelta    EventType = "text-delta"
	EventToolStart    EventType = "tool-start"
	EventToolResult   EventType = "tool-result"
	EventStatus       EventType = "status"
	EventLog          EventType = "log"
	EventUserMessage  EventType = "user-message"
	EventTurnComplete EventType = "turn-complete"
)

// Event is the normalized progress message published per job. One struct
// covers the whole tagged union; unused fields are omitted on the wire. Each
// event is serialized as a single JSON object per SSE message.
type Event struct {
	Type    EventType `json:"type"`
	Content string    `json:"content,omitempty"`

	ToolID     string         `json:"tool_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolArgs   map[string]any `json:"tool_args,omitempty"`
	ToolOutput string         `json:"tool_output,omitempty"`
	// Success is set on tool-result events only, explicitly false on a
	// failed tool so clients never have to treat absence as failure.
	Success *bool  `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`

	Status string `json:"status,omitempty"`
	Phase  string `json:"phase,omitempty"`

	Level   string `json:"level,omitempty"`
	Message string `json:"message,omitempty"`

	At time.Time `json:"at"`
}
