package event

type (
	// ConversationStartData is the payload for a ConversationStart event.
	ConversationStartData struct {
		MessageID string
	}

	// ConversationEndData is the payload for a ConversationEnd event.
	ConversationEndData struct {
		Reason string
	}

	// ToolPlannedData is the payload for a ToolPlanned event.
	ToolPlannedData struct {
		ToolID   string
		ToolName string
	}

	// ToolExecutingData is the payload for a ToolExecuting event.
	ToolExecutingData struct {
		ToolID   string
		ToolName string
		Input    any
	}

	// ToolCompletedData is the payload for a ToolCompleted event.
	ToolCompletedData struct {
		ToolID string
		Result any
	}

	// ToolFailedData is the payload for a ToolFailed event.
	ToolFailedData struct {
		ToolID string
		Error  string
	}

	// ErrorOccurredData is the payload for an ErrorOccurred event.
	ErrorOccurredData struct {
		Code        string
		Message     string
		Recoverable bool
	}
)

// AgentState is a value from the total lifecycle state machine in §3/§4.4.
type AgentState string

const (
	StateIdle              AgentState = "idle"
	StateThinking          AgentState = "thinking"
	StateResponding        AgentState = "responding"
	StatePlanningTool      AgentState = "planning_tool"
	StateAwaitingToolResult AgentState = "awaiting_tool_result"
	StateError             AgentState = "error"
)

// StateChange is delivered to onStateChange subscribers only when the state
// actually changed (prev != current), per §4.4.
type StateChange struct {
	Prev    AgentState
	Current AgentState
}
