// Package event defines the four event layers (stream, state, message,
// exchange) carried on the bus, plus the Message data model they assemble
// into. Event mirrors the generic envelope the teacher uses for its
// client-facing stream events (goadesign-goa-ai/agents/runtime/stream.Event:
// Type, RunID, Content any), generalized with the uuid/timestamp/index
// fields the canonical wire shape requires.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Type tags an Event with one of the well-known stream/state/message/
// exchange event names from the spec.
type Type string

const (
	// Stream layer: produced by the driver from backend incremental data.
	MessageStart             Type = "message_start"
	MessageDelta             Type = "message_delta"
	MessageStop              Type = "message_stop"
	TextContentBlockStart    Type = "text_content_block_start"
	TextDelta                Type = "text_delta"
	TextContentBlockStop     Type = "text_content_block_stop"
	ToolUseContentBlockStart Type = "tool_use_content_block_start"
	InputJSONDelta           Type = "input_json_delta"
	ToolUseContentBlockStop  Type = "tool_use_content_block_stop"
	ErrorReceived            Type = "error_received"

	// State layer: derived by the state machine.
	AgentInitializing       Type = "agent_initializing"
	AgentReady              Type = "agent_ready"
	AgentDestroyed          Type = "agent_destroyed"
	ConversationStart       Type = "conversation_start"
	ConversationThinking    Type = "conversation_thinking"
	ConversationResponding  Type = "conversation_responding"
	ConversationEnd         Type = "conversation_end"
	ConversationInterrupted Type = "conversation_interrupted"
	ToolPlanned             Type = "tool_planned"
	ToolExecuting           Type = "tool_executing"
	ToolCompleted           Type = "tool_completed"
	ToolFailed              Type = "tool_failed"
	ErrorOccurred           Type = "error_occurred"

	// Message layer: assembled user/assistant/tool-use/error messages.
	UserMessage      Type = "user_message"
	AssistantMessage Type = "assistant_message"
	ToolUseMessage   Type = "tool_use_message"
	ErrorMessage     Type = "error_message"

	// Exchange layer: request/response pairing and metrics.
	ExchangeRequest  Type = "exchange_request"
	ExchangeResponse Type = "exchange_response"
)

// Event is the single envelope type carried on the bus across all four
// layers. Index is non-nil only for content-block-scoped stream events
// (text/tool-use start, delta, stop) where it identifies the block.
type Event struct {
	// T is the event type tag.
	T Type
	// ID is the event uuid, unique per emission.
	ID string
	// Agent identifies the agent that produced or owns this event.
	Agent string
	// At is the millisecond-epoch timestamp the event was constructed.
	At int64
	// Index identifies the content block this event belongs to, for stream
	// events framed by a start/stop pair. Nil for non-indexed events.
	Index *int
	// Data carries the event-specific payload; concrete shapes are declared
	// alongside each event's Type constant below.
	Data any
}

// Type implements the minimal accessor surface subscribers rely on.
func (e Event) Type() Type        { return e.T }
func (e Event) UUID() string      { return e.ID }
func (e Event) AgentID() string   { return e.Agent }
func (e Event) Timestamp() int64  { return e.At }

// New constructs an Event with a fresh uuid and the current timestamp.
func New(agentID string, t Type, data any) Event {
	return Event{T: t, ID: uuid.NewString(), Agent: agentID, At: time.Now().UnixMilli(), Data: data}
}

// NewIndexed constructs a content-block-scoped Event carrying an index.
func NewIndexed(agentID string, t Type, index int, data any) Event {
	evt := New(agentID, t, data)
	evt.Index = &index
	return evt
}

// WithAgent returns a copy of the event re-stamped with agentID. Drivers
// that are agent-agnostic emit with an empty agent and rely on the
// DriverAdapter to stamp the owning agent before forwarding onto the bus.
func (e Event) WithAgent(agentID string) Event {
	e.Agent = agentID
	return e
}

type (
	// MessageStartData is the payload for a MessageStart event.
	MessageStartData struct {
		MessageID string
		Model     string
	}

	// MessageDeltaData is the payload for a MessageDelta event.
	MessageDeltaData struct {
		StopReason string
		Usage      *TokenUsage
	}

	// MessageStopData is the payload for a MessageStop event.
	MessageStopData struct {
		StopReason string
		Usage      *TokenUsage
	}

	// TextDeltaData is the payload for a TextDelta event.
	TextDeltaData struct {
		Text string
	}

	// ToolUseContentBlockStartData is the payload for a
	// ToolUseContentBlockStart event.
	ToolUseContentBlockStartData struct {
		ID   string
		Name string
	}

	// InputJSONDeltaData is the payload for an InputJSONDelta event.
	InputJSONDeltaData struct {
		PartialJSON string
	}

	// ToolUseContentBlockStopData is the payload for a
	// ToolUseContentBlockStop event.
	ToolUseContentBlockStopData struct {
		ID string
	}

	// ErrorReceivedData is the payload for an ErrorReceived event.
	ErrorReceivedData struct {
		Message   string
		ErrorCode string
	}

	// TokenUsage tracks input/output token counts for a model call.
	TokenUsage struct {
		Input  int
		Output int
	}
)
