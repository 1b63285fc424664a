package functions

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Handler executes one named backend function. Arguments arrive as the
// raw JSON the model produced; the result is the literal text sent back
// as the function output.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

// Registry maps function names to handlers. It never raises to the relay:
// every failure path is encoded in the returned result value so a
// function_call_output can always be packaged.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Invoke resolves and runs a function call. Unknown names, unparsable
// arguments and handler failures all come back as {"error": ...} results,
// successful handlers return their output unmodified.
func (r *Registry) Invoke(ctx context.Context, name, rawArgs string) string {
	h, ok := r.Lookup(name)
	if !ok {
		return errorResult(fmt.Sprintf("No handler for function: %s", name))
	}

	var probe any
	if err := json.Unmarshal([]byte(rawArgs), &probe); err != nil {
		return errorResult("Invalid JSON arguments")
	}

	out, err := h(ctx, json.RawMessage(rawArgs))
	if err != nil {
		return errorResult(err.Error())
	}
	return out
}

func errorResult(msg string) string {
	b, err := json.Marshal(struct {
		Error string `json:"error"`
	}{Error: msg})
	if err != nil {
		return `{"error":"internal error"}`
	}
	return string(b)
}
