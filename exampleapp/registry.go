package exampleapp

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tolelom/rbchain/block"
	"github.com/tolelom/rbchain/events"
)

// Context is passed to every Handler: the ledger, the block under
// evaluation, the message being applied, and an optional event emitter.
type Context struct {
	State   *State
	Block   block.Block
	Msg     block.Message
	Emitter *events.Emitter
}

// Handler applies one message's payload to ctx.State. Payload is
// Msg.Data, already available as ctx.Msg.Data — passed separately only to
// spare every handler a ctx.Msg.Data dereference.
type Handler func(ctx *Context, payload []byte) error

// Registry maps message labels to Handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register associates label with h. Panics on duplicate registration,
// since two handlers for one label is always a wiring bug.
func (r *Registry) Register(label string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[label]; exists {
		panic(fmt.Sprintf("exampleapp: handler already registered for label %q", label))
	}
	r.handlers[label] = h
}

// Dispatch runs the handler registered for ctx.Msg.Label.
func (r *Registry) Dispatch(ctx *Context) error {
	r.mu.RLock()
	h, ok := r.handlers[ctx.Msg.Label]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("exampleapp: no handler registered for label %q", ctx.Msg.Label)
	}
	return h(ctx, ctx.Msg.Data)
}

// Labels reports whether label has a registered handler, used by CheckTx
// to reject unroutable messages before they occupy mempool space.
func (r *Registry) Labels(label string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[label]
	return ok
}

func decodePayload(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
