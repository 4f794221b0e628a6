package statemachine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goadesign/agentcore/bus"
	"github.com/goadesign/agentcore/event"
	"github.com/goadesign/agentcore/statemachine"
)

func TestInitialStateIsIdle(t *testing.T) {
	b := bus.New(nil)
	sm, err := statemachine.New("agent-1", b, nil)
	require.NoError(t, err)
	defer sm.Close()

	require.Equal(t, event.StateIdle, sm.State())
}

func TestMessageStartFromIdleDerivesConversationStartAndThinking(t *testing.T) {
	b := bus.New(nil)
	sm, err := statemachine.New("agent-1", b, nil)
	require.NoError(t, err)
	defer sm.Close()

	var seen []event.Type
	_, err = b.SubscribeAll(func(ctx context.Context, e event.Event) error {
		seen = append(seen, e.Type())
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Emit(context.Background(), event.New("agent-1", event.MessageStart, event.MessageStartData{MessageID: "m1"})))

	require.Equal(t, event.StateThinking, sm.State())
	require.Contains(t, seen, event.ConversationStart)
}

func TestTextDeltaFromThinkingDerivesConversationResponding(t *testing.T) {
	b := bus.New(nil)
	sm, err := statemachine.New("agent-1", b, nil)
	require.NoError(t, err)
	defer sm.Close()

	ctx := context.Background()
	require.NoError(t, b.Emit(ctx, event.New("agent-1", event.MessageStart, event.MessageStartData{MessageID: "m1"})))
	require.Equal(t, event.StateThinking, sm.State())

	require.NoError(t, b.Emit(ctx, event.New("agent-1", event.TextDelta, event.TextDeltaData{Text: "hi"})))
	require.Equal(t, event.StateResponding, sm.State())
}

func TestToolUseContentBlockStartDerivesPlannedThenExecuting(t *testing.T) {
	b := bus.New(nil)
	sm, err := statemachine.New("agent-1", b, nil)
	require.NoError(t, err)
	defer sm.Close()

	var seen []event.Type
	_, err = b.SubscribeAll(func(ctx context.Context, e event.Event) error {
		seen = append(seen, e.Type())
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Emit(context.Background(), event.New("agent-1", event.ToolUseContentBlockStart,
		event.ToolUseContentBlockStartData{ID: "t1", Name: "search"})))

	require.Equal(t, event.StateAwaitingToolResult, sm.State())
	require.Contains(t, seen, event.ToolPlanned)
	require.Contains(t, seen, event.ToolExecuting)
}

func TestToolCompletedReturnsToResponding(t *testing.T) {
	b := bus.New(nil)
	sm, err := statemachine.New("agent-1", b, nil)
	require.NoError(t, err)
	defer sm.Close()

	ctx := context.Background()
	require.NoError(t, b.Emit(ctx, event.New("agent-1", event.ToolUseContentBlockStart,
		event.ToolUseContentBlockStartData{ID: "t1", Name: "search"})))
	require.Equal(t, event.StateAwaitingToolResult, sm.State())

	require.NoError(t, b.Emit(ctx, event.New("agent-1", event.ToolCompleted, event.ToolCompletedData{ToolID: "t1"})))
	require.Equal(t, event.StateResponding, sm.State())
}

func TestMessageStopWithToolUseStopReasonDoesNotEndConversation(t *testing.T) {
	b := bus.New(nil)
	sm, err := statemachine.New("agent-1", b, nil)
	require.NoError(t, err)
	defer sm.Close()

	ctx := context.Background()
	require.NoError(t, b.Emit(ctx, event.New("agent-1", event.MessageStart, event.MessageStartData{MessageID: "m1"})))
	require.NoError(t, b.Emit(ctx, event.New("agent-1", event.MessageStop, event.MessageStopData{StopReason: "tool_use"})))

	require.Equal(t, event.StateThinking, sm.State())
}

func TestMessageStopWithEndTurnEndsConversation(t *testing.T) {
	b := bus.New(nil)
	sm, err := statemachine.New("agent-1", b, nil)
	require.NoError(t, err)
	defer sm.Close()

	ctx := context.Background()
	require.NoError(t, b.Emit(ctx, event.New("agent-1", event.MessageStart, event.MessageStartData{MessageID: "m1"})))
	require.NoError(t, b.Emit(ctx, event.New("agent-1", event.MessageStop, event.MessageStopData{StopReason: "end_turn"})))

	require.Equal(t, event.StateIdle, sm.State())
}

func TestErrorReceivedDefaultsUnknownErrorCode(t *testing.T) {
	b := bus.New(nil)
	sm, err := statemachine.New("agent-1", b, nil)
	require.NoError(t, err)
	defer sm.Close()

	var got event.ErrorOccurredData
	_, err = b.Subscribe(event.ErrorOccurred, func(ctx context.Context, e event.Event) error {
		got = e.Data.(event.ErrorOccurredData)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Emit(context.Background(), event.New("agent-1", event.ErrorReceived, event.ErrorReceivedData{Message: "boom"})))

	require.Equal(t, event.StateError, sm.State())
	require.Equal(t, "unknown_error", got.Code)
	require.True(t, got.Recoverable)
}

func TestOnStateChangeFiresOnlyOnActualChange(t *testing.T) {
	b := bus.New(nil)
	sm, err := statemachine.New("agent-1", b, nil)
	require.NoError(t, err)
	defer sm.Close()

	var changes []event.StateChange
	sm.OnStateChange(func(ctx context.Context, c event.StateChange) error {
		changes = append(changes, c)
		return nil
	})

	sm.Reset(context.Background())
	require.Empty(t, changes)

	require.NoError(t, b.Emit(context.Background(), event.New("agent-1", event.MessageStart, event.MessageStartData{MessageID: "m1"})))
	require.Len(t, changes, 1)
	require.Equal(t, event.StateIdle, changes[0].Prev)
	require.Equal(t, event.StateThinking, changes[0].Current)
}

func TestOnStateChangeHandlersDeliveredInOrderAndErrorsSwallowed(t *testing.T) {
	b := bus.New(nil)
	sm, err := statemachine.New("agent-1", b, nil)
	require.NoError(t, err)
	defer sm.Close()

	var order []int
	sm.OnStateChange(func(ctx context.Context, c event.StateChange) error {
		order = append(order, 1)
		return errors.New("boom")
	})
	sm.OnStateChange(func(ctx context.Context, c event.StateChange) error {
		order = append(order, 2)
		return nil
	})

	require.NoError(t, b.Emit(context.Background(), event.New("agent-1", event.MessageStart, event.MessageStartData{MessageID: "m1"})))
	require.Equal(t, []int{1, 2}, order)
}
