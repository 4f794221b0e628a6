package engine

import (
	"context"
	"reflect"
	"strings"
	"unicode"

	"github.com/goadesign/agentcore/bus"
	"github.com/goadesign/agentcore/event"
	"github.com/goadesign/agentcore/telemetry"
)

var (
	eventType = reflect.TypeOf(event.Event{})
	errorType = reflect.TypeOf((*error)(nil)).Elem()
)

// Disposer releases every subscription a single react() call produced.
// Repeated react() calls are additive: each returns its own Disposer and
// disposing one does not affect the others (spec §4.6 "react").
type Disposer struct {
	subs []bus.Subscription
}

// Close unsubscribes every handler bound by the react() call that returned
// this Disposer.
func (d *Disposer) Close() error {
	for _, s := range d.subs {
		_ = s.Close()
	}
	return nil
}

// bindHandlerObject inspects obj's exported methods for the onFooBar
// convention (spec §4.6 "Name → event conversion") and subscribes each
// matching method to its derived event type. Methods must take exactly one
// event.Event argument and return either nothing or a single error; any
// other shape is skipped rather than treated as an error, since "on"-
// prefixed helper methods that aren't handlers are a legitimate shape for a
// handler object to have. This reifies the reflective name-to-event binding
// the spec describes as an explicit registration step, per §9 "Name-to-
// event reflection... reified into an explicit registration table".
func bindHandlerObject(b bus.Bus, logger telemetry.Logger, obj any) ([]bus.Subscription, error) {
	v := reflect.ValueOf(obj)
	t := v.Type()

	var subs []bus.Subscription
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		if !strings.HasPrefix(m.Name, "On") || len(m.Name) <= 2 {
			continue
		}
		method := v.Method(i)
		mt := method.Type()
		if mt.NumIn() != 1 || mt.In(0) != eventType {
			continue
		}
		if mt.NumOut() > 1 || (mt.NumOut() == 1 && !mt.Out(0).Implements(errorType)) {
			continue
		}

		et := event.Type(pascalToSnake(m.Name[2:]))
		handler := method
		sub, err := b.Subscribe(et, func(ctx context.Context, e event.Event) error {
			out := handler.Call([]reflect.Value{reflect.ValueOf(e)})
			if len(out) == 1 && !out[0].IsNil() {
				if err, ok := out[0].Interface().(error); ok {
					return err
				}
			}
			return nil
		})
		if err != nil {
			for _, s := range subs {
				_ = s.Close()
			}
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// pascalToSnake converts a PascalCase suffix to snake_case by inserting an
// underscore before every uppercase letter after the first and
// lowercasing. Each letter is split individually with no acronym
// collapsing, so "XMLHTTP" becomes "x_m_l_h_t_t_p" (spec §4.6 example).
func pascalToSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
