// Package statemachine implements the StateMachine (spec §4.4): a total,
// single-current-state transition function over AgentState, driven by
// stream-layer events it derives higher-level state events from, plus a
// handful of state-layer events other components (tool execution, the
// engine's interrupt path) originate directly. Grounded on the teacher's
// explicit mutable run-loop state (goadesign-goa-ai/runtime/agent/runtime/
// workflow_state.go: a single struct threaded through the loop and mutated
// in place at well-defined points) generalized into an event-driven FSM
// with change subscribers.
package statemachine

import (
	"context"
	"sync"

	"github.com/goadesign/agentcore/bus"
	"github.com/goadesign/agentcore/event"
	"github.com/goadesign/agentcore/telemetry"
)

// ChangeHandler observes a state transition. Returning an error does not
// stop delivery to other handlers; it is logged and swallowed (spec §4.4).
type ChangeHandler func(ctx context.Context, change event.StateChange) error

// StateMachine derives and tracks the agent lifecycle state from stream
// events observed on the bus. One instance is scoped to a single agent.
type StateMachine struct {
	agentID string
	bus     bus.Bus
	logger  telemetry.Logger

	mu       sync.Mutex
	current  event.AgentState
	handlers []ChangeHandler
	subs     []bus.Subscription
}

// New constructs a StateMachine in state idle and subscribes it to the
// stream and state-layer events it reacts to on b.
func New(agentID string, b bus.Bus, logger telemetry.Logger) (*StateMachine, error) {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	sm := &StateMachine{agentID: agentID, bus: b, logger: logger, current: event.StateIdle}

	derived := []struct {
		t event.Type
		h bus.Handler
	}{
		{event.MessageStart, sm.onMessageStart},
		{event.TextDelta, sm.onTextDelta},
		{event.ToolUseContentBlockStart, sm.onToolUseContentBlockStart},
		{event.MessageStop, sm.onMessageStop},
		{event.ErrorReceived, sm.onErrorReceived},
	}
	// Externally-originated state-layer events: applied to the transition
	// table but never re-derived or re-emitted by the state machine itself.
	external := []struct {
		t event.Type
		h bus.Handler
	}{
		{event.ConversationThinking, sm.applyOnly(event.ConversationThinking)},
		{event.ToolCompleted, sm.applyOnly(event.ToolCompleted)},
		{event.ToolFailed, sm.applyOnly(event.ToolFailed)},
		{event.ConversationInterrupted, sm.applyOnly(event.ConversationInterrupted)},
	}

	for _, s := range append(derived, external...) {
		sub, err := b.Subscribe(s.t, s.h)
		if err != nil {
			sm.Close()
			return nil, err
		}
		sm.subs = append(sm.subs, sub)
	}
	return sm, nil
}

// Close unsubscribes the state machine from the bus.
func (sm *StateMachine) Close() error {
	for _, s := range sm.subs {
		_ = s.Close()
	}
	return nil
}

// State returns the current lifecycle state.
func (sm *StateMachine) State() event.AgentState {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.current
}

// OnStateChange registers a handler invoked only when a transition actually
// changes state. Handlers are delivered in registration order.
func (sm *StateMachine) OnStateChange(h ChangeHandler) {
	sm.mu.Lock()
	sm.handlers = append(sm.handlers, h)
	sm.mu.Unlock()
}

// Reset forces the state back to idle. Resetting while already idle emits
// no change (spec §4.4).
func (sm *StateMachine) Reset(ctx context.Context) {
	sm.transition(ctx, event.StateIdle)
}

// transition applies next, firing onStateChange handlers iff it differs
// from the current state.
func (sm *StateMachine) transition(ctx context.Context, next event.AgentState) {
	sm.mu.Lock()
	prev := sm.current
	sm.current = next
	handlers := append([]ChangeHandler(nil), sm.handlers...)
	sm.mu.Unlock()

	if prev == next {
		return
	}
	change := event.StateChange{Prev: prev, Current: next}
	for _, h := range handlers {
		if err := h(ctx, change); err != nil {
			sm.logger.Warn(ctx, "statemachine: onStateChange handler error", "error", err.Error())
		}
	}
}

// nextState implements the transition table from spec §4.4. current is
// read by the caller under lock; nextState itself is a pure function.
func nextState(current event.AgentState, t event.Type) event.AgentState {
	switch t {
	case event.ConversationStart:
		if current == event.StateIdle {
			return event.StateThinking
		}
		return current
	case event.ConversationThinking:
		return event.StateThinking
	case event.ConversationResponding:
		return event.StateResponding
	case event.ToolPlanned:
		return event.StatePlanningTool
	case event.ToolExecuting:
		return event.StateAwaitingToolResult
	case event.ToolCompleted, event.ToolFailed:
		return event.StateResponding
	case event.TextDelta:
		if current == event.StateThinking {
			return event.StateResponding
		}
		return current
	case event.ConversationEnd, event.ConversationInterrupted:
		return event.StateIdle
	case event.ErrorOccurred:
		return event.StateError
	default:
		return current
	}
}

// applyOnly returns a handler that applies t to the transition table
// without deriving or re-emitting any event.
func (sm *StateMachine) applyOnly(t event.Type) bus.Handler {
	return func(ctx context.Context, e event.Event) error {
		sm.mu.Lock()
		next := nextState(sm.current, t)
		sm.mu.Unlock()
		sm.transition(ctx, next)
		return nil
	}
}

func (sm *StateMachine) emitAndApply(ctx context.Context, t event.Type, data any) error {
	sm.mu.Lock()
	next := nextState(sm.current, t)
	sm.mu.Unlock()
	if err := sm.bus.Emit(ctx, event.New(sm.agentID, t, data)); err != nil {
		return err
	}
	sm.transition(ctx, next)
	return nil
}

// onMessageStart derives conversation_start the first time a message
// begins while idle (spec §4.4 "Derived state events").
func (sm *StateMachine) onMessageStart(ctx context.Context, e event.Event) error {
	if sm.State() != event.StateIdle {
		return nil
	}
	var messageID string
	if data, ok := e.Data.(event.MessageStartData); ok {
		messageID = data.MessageID
	}
	return sm.emitAndApply(ctx, event.ConversationStart, event.ConversationStartData{MessageID: messageID})
}

// onTextDelta derives conversation_responding on the first text delta
// observed after thinking.
func (sm *StateMachine) onTextDelta(ctx context.Context, e event.Event) error {
	if sm.State() != event.StateThinking {
		return nil
	}
	return sm.emitAndApply(ctx, event.ConversationResponding, nil)
}

// onToolUseContentBlockStart derives tool_planned then tool_executing.
func (sm *StateMachine) onToolUseContentBlockStart(ctx context.Context, e event.Event) error {
	data, _ := e.Data.(event.ToolUseContentBlockStartData)
	planned := event.ToolPlannedData{ToolID: data.ID, ToolName: data.Name}
	if err := sm.emitAndApply(ctx, event.ToolPlanned, planned); err != nil {
		return err
	}
	executing := event.ToolExecutingData{ToolID: data.ID, ToolName: data.Name}
	return sm.emitAndApply(ctx, event.ToolExecuting, executing)
}

// onMessageStop derives conversation_end when the turn actually finished
// (stop reason not tool_use, which instead continues the turn).
func (sm *StateMachine) onMessageStop(ctx context.Context, e event.Event) error {
	data, ok := e.Data.(event.MessageStopData)
	if !ok {
		return nil
	}
	switch data.StopReason {
	case "end_turn", "max_tokens", "stop_sequence":
		return sm.emitAndApply(ctx, event.ConversationEnd, event.ConversationEndData{Reason: data.StopReason})
	default:
		return nil
	}
}

// onErrorReceived derives error_occurred, defaulting an empty error code
// to "unknown_error" and treating the error as recoverable.
func (sm *StateMachine) onErrorReceived(ctx context.Context, e event.Event) error {
	data, _ := e.Data.(event.ErrorReceivedData)
	code := data.ErrorCode
	if code == "" {
		code = "unknown_error"
	}
	occurred := event.ErrorOccurredData{Code: code, Message: data.Message, Recoverable: true}
	return sm.emitAndApply(ctx, event.ErrorOccurred, occurred)
}
