// Package agent is the Service Facade (spec §2 "Service Facade"): the
// public surface external callers use to talk to one running agent. It
// wraps an *engine.Engine and exposes send/react/clear/interrupt/destroy
// plus message history, without exposing the engine's internal bus or
// component wiring. Grounded on the teacher's runtime/agent/client.go
// Client interface, which likewise hides session/runtime plumbing behind
// a narrow caller-facing surface.
package agent

import (
	"context"

	"github.com/goadesign/agentcore/driver"
	"github.com/goadesign/agentcore/engine"
	"github.com/goadesign/agentcore/event"
	"github.com/goadesign/agentcore/exchange"
	"github.com/goadesign/agentcore/statemachine"
	"github.com/goadesign/agentcore/telemetry"
)

// Agent is the public handle callers hold for one running agent instance.
type Agent struct {
	engine *engine.Engine
}

// Option configures the underlying engine.
type Option = engine.Option

// WithLogger injects a Logger used throughout the agent and its child
// components.
func WithLogger(l telemetry.Logger) Option { return engine.WithLogger(l) }

// WithMetrics injects a Metrics recorder.
func WithMetrics(m telemetry.Metrics) Option { return engine.WithMetrics(m) }

// WithTracer injects a Tracer.
func WithTracer(t telemetry.Tracer) Option { return engine.WithTracer(t) }

// WithHandlers supplies handler objects bound automatically at startup,
// in addition to any supplied later via React.
func WithHandlers(handlers ...any) Option { return engine.WithHandlers(handlers...) }

// WithCostRates overrides the exchange tracker's per-token cost rates.
func WithCostRates(rates exchange.CostRates) Option { return engine.WithCostRates(rates) }

// New constructs an Agent over a fresh, privately-owned bus.
func New(drv driver.Driver, opts ...Option) (*Agent, error) {
	e, err := engine.New(drv, opts...)
	if err != nil {
		return nil, err
	}
	return &Agent{engine: e}, nil
}

// AgentID returns this agent's opaque identity (spec §3 "Agent identity").
func (a *Agent) AgentID() string { return a.engine.AgentID() }

// SessionID returns the logical conversation identity supplied by the
// driver.
func (a *Agent) SessionID() string { return a.engine.SessionID() }

// State returns the current lifecycle state.
func (a *Agent) State() event.AgentState { return a.engine.State() }

// History returns a snapshot of the message history in arrival order.
func (a *Agent) History() []*event.Message { return a.engine.History() }

// OnStateChange registers a state-transition observer.
func (a *Agent) OnStateChange(h statemachine.ChangeHandler) { a.engine.OnStateChange(h) }

// Send submits structured user content for the driver to respond to.
func (a *Agent) Send(ctx context.Context, content event.UserContent) error {
	return a.engine.Send(ctx, content)
}

// SendText submits plain text as a user message.
func (a *Agent) SendText(ctx context.Context, text string) error {
	return a.engine.SendText(ctx, text)
}

// React binds handler objects to the bus by their onFooBar method names
// (spec §4.6 "react"). The returned Disposer releases only the bindings
// from this call.
func (a *Agent) React(handlers ...any) (*engine.Disposer, error) {
	return a.engine.React(handlers...)
}

// Interrupt stops the in-flight turn, if any.
func (a *Agent) Interrupt(ctx context.Context) error {
	return a.engine.Interrupt(ctx)
}

// Clear empties message history and aborts any in-flight driver call.
func (a *Agent) Clear(ctx context.Context) error {
	return a.engine.Clear(ctx)
}

// OnDestroy registers a hook invoked during Destroy, before child
// components are torn down.
func (a *Agent) OnDestroy(h func(ctx context.Context) error) {
	a.engine.OnDestroy(h)
}

// Destroy tears the agent down irreversibly; subsequent Send calls reject
// with engine.ErrDestroyed.
func (a *Agent) Destroy(ctx context.Context) error {
	return a.engine.Destroy(ctx)
}
