package agent_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/goadesign/agentcore/agent"
	"github.com/goadesign/agentcore/driver"
	"github.com/goadesign/agentcore/engine"
	"github.com/goadesign/agentcore/event"
)

type textGenerator struct {
	text string
}

func (g *textGenerator) Generate(ctx context.Context, messages []*event.Message, emit func(event.Event)) (string, *event.TokenUsage, error) {
	emit(event.NewIndexed("", event.TextContentBlockStart, 0, nil))
	emit(event.NewIndexed("", event.TextDelta, 0, event.TextDeltaData{Text: g.text}))
	emit(event.NewIndexed("", event.TextContentBlockStop, 0, nil))
	return "end_turn", nil, nil
}

type replyHandler struct {
	mu   sync.Mutex
	text string
}

func (h *replyHandler) OnAssistantMessage(e event.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.text = e.Data.(*event.Message).Assistant.Text
	return nil
}

func (h *replyHandler) get() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.text
}

func TestAgentSendTextAndReact(t *testing.T) {
	drv := driver.NewBaseDriver("session-1", "test-model", &textGenerator{text: "hello there"})
	a, err := agent.New(drv)
	require.NoError(t, err)
	defer a.Destroy(context.Background())

	h := &replyHandler{}
	_, err = a.React(h)
	require.NoError(t, err)

	require.NoError(t, a.SendText(context.Background(), "hi"))
	require.Eventually(t, func() bool { return h.get() == "hello there" }, time.Second, time.Millisecond)

	require.Len(t, a.History(), 2)
}

func TestAgentClearEmptiesHistory(t *testing.T) {
	drv := driver.NewBaseDriver("session-1", "test-model", &textGenerator{text: "hi"})
	a, err := agent.New(drv)
	require.NoError(t, err)
	defer a.Destroy(context.Background())

	require.NoError(t, a.SendText(context.Background(), "hi"))
	require.Eventually(t, func() bool { return len(a.History()) == 2 }, time.Second, time.Millisecond)

	require.NoError(t, a.Clear(context.Background()))
	require.Empty(t, a.History())
}

func TestAgentDestroyRejectsFurtherSends(t *testing.T) {
	drv := driver.NewBaseDriver("session-1", "test-model", &textGenerator{text: "hi"})
	a, err := agent.New(drv)
	require.NoError(t, err)

	require.NoError(t, a.Destroy(context.Background()))
	err = a.SendText(context.Background(), "hi")
	require.ErrorIs(t, err, engine.ErrDestroyed)
}
