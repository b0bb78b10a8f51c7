package events

import "context"

// Handler consumes events of the types it lists. Handle runs after commit
// and may see the same event again on retry, so it must be idempotent.
type Handler interface {
	Handles() []string
	Handle(ctx context.Context, event Event) error
}

type funcHandler struct {
	types []string
	fn    func(context.Context, Event) error
}

func (h funcHandler) Handles() []string                         { return h.types }
func (h funcHandler) Handle(ctx context.Context, e Event) error { return h.fn(ctx, e) }

// Func wraps fn as a Handler for the given event types.
func Func(fn func(context.Context, Event) error, types ...string) Handler {
	return funcHandler{types: types, fn: fn}
}
