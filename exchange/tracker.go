// Package exchange implements the ExchangeTracker (spec §4.5): it pairs a
// user_message with the assistant_message that answers it, computing
// duration and cost. Grounded on the teacher's token-usage aggregation in
// the workflow run loop (goadesign-goa-ai/runtime/agent/runtime/
// workflow_state.go: AggUsage accumulated across a run and consulted at
// completion), generalized from an in-memory struct mutation into a
// bus-driven request/response pairing with configurable cost rates.
package exchange

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/goadesign/agentcore/bus"
	"github.com/goadesign/agentcore/event"
	"github.com/goadesign/agentcore/telemetry"
)

// CostRates configures the per-token cost used to compute exchange cost.
// Defaults mirror Claude-class model pricing (spec §4.5): 3e-6 USD per
// input token, 15e-6 USD per output token.
type CostRates struct {
	InputRate  float64
	OutputRate float64
}

// DefaultCostRates returns the spec's example domain-constant rates.
func DefaultCostRates() CostRates {
	return CostRates{InputRate: 0.000003, OutputRate: 0.000015}
}

type pending struct {
	exchangeID  string
	userMessage *event.Message
	requestedAt int64
}

// Tracker pairs user_message → assistant_message into exchange_request/
// exchange_response events. One instance is scoped to a single agent and
// holds at most one pending exchange at a time.
type Tracker struct {
	agentID string
	bus     bus.Bus
	logger  telemetry.Logger
	rates   CostRates

	mu      sync.Mutex
	pending *pending
	subs    []bus.Subscription
}

// Option configures a Tracker at construction.
type Option func(*Tracker)

// WithCostRates overrides the default per-token cost rates.
func WithCostRates(rates CostRates) Option {
	return func(t *Tracker) { t.rates = rates }
}

// New constructs a Tracker and subscribes it to the message-layer events it
// pairs on b.
func New(agentID string, b bus.Bus, logger telemetry.Logger, opts ...Option) (*Tracker, error) {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	t := &Tracker{agentID: agentID, bus: b, logger: logger, rates: DefaultCostRates()}
	for _, opt := range opts {
		opt(t)
	}

	subs := []struct {
		ty event.Type
		h  bus.Handler
	}{
		{event.UserMessage, t.onUserMessage},
		{event.AssistantMessage, t.onAssistantMessage},
		{event.ConversationInterrupted, t.onConversationInterrupted},
	}
	for _, s := range subs {
		sub, err := b.Subscribe(s.ty, s.h)
		if err != nil {
			t.Close()
			return nil, err
		}
		t.subs = append(t.subs, sub)
	}
	return t, nil
}

// Close unsubscribes the tracker from the bus.
func (t *Tracker) Close() error {
	for _, s := range t.subs {
		_ = s.Close()
	}
	return nil
}

func (t *Tracker) onUserMessage(ctx context.Context, e event.Event) error {
	msg, ok := e.Data.(*event.Message)
	if !ok || msg == nil {
		return nil
	}
	p := &pending{exchangeID: uuid.NewString(), userMessage: msg, requestedAt: e.Timestamp()}

	t.mu.Lock()
	t.pending = p
	t.mu.Unlock()

	data := event.ExchangeRequestData{ExchangeID: p.exchangeID, UserMessage: msg, RequestedAt: p.requestedAt}
	return t.bus.Emit(ctx, event.New(t.agentID, event.ExchangeRequest, data))
}

func (t *Tracker) onAssistantMessage(ctx context.Context, e event.Event) error {
	msg, ok := e.Data.(*event.Message)
	if !ok || msg == nil {
		return nil
	}

	t.mu.Lock()
	p := t.pending
	t.pending = nil
	t.mu.Unlock()
	if p == nil {
		return nil
	}

	respondedAt := e.Timestamp()
	durationMs := respondedAt - p.requestedAt

	usage := event.TokenUsage{}
	if msg.Assistant != nil && msg.Assistant.Usage != nil {
		usage = *msg.Assistant.Usage
	}
	costUsd := float64(usage.Input)*t.rates.InputRate + float64(usage.Output)*t.rates.OutputRate

	data := event.ExchangeResponseData{
		ExchangeID:       p.exchangeID,
		AssistantMessage: msg,
		RespondedAt:      respondedAt,
		DurationMs:       durationMs,
		Usage:            usage,
		CostUsd:          costUsd,
	}
	return t.bus.Emit(ctx, event.New(t.agentID, event.ExchangeResponse, data))
}

// onConversationInterrupted discards any pending exchange without emitting
// a response (spec §4.5).
func (t *Tracker) onConversationInterrupted(ctx context.Context, e event.Event) error {
	t.mu.Lock()
	t.pending = nil
	t.mu.Unlock()
	return nil
}
