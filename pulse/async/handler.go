package async

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// JobHandler executes one job type. Domain packages implement it so the
// runner never needs to know their parameter or result shapes.
type JobHandler interface {
	// Execute runs the job. The returned value is stored as the job result
	// (JSON); a non-nil error counts as a failed attempt. Handlers should
	// treat job.ClaimedAt() as "now".
	Execute(ctx context.Context, job *Job) (any, error)

	// JobType returns the type this handler serves
	JobType() JobType
}

// HandlerFunc adapts a function to JobHandler
type HandlerFunc struct {
	Type JobType
	Fn   func(ctx context.Context, job *Job) (any, error)
}

func (h HandlerFunc) Execute(ctx context.Context, job *Job) (any, error) { return h.Fn(ctx, job) }
func (h HandlerFunc) JobType() JobType                                   { return h.Type }

// HandlerRegistry maps job types to handlers.
// Thread-safe for concurrent registration and lookup.
type HandlerRegistry struct {
	handlers map[JobType]JobHandler
	mu       sync.RWMutex
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[JobType]JobHandler),
	}
}

// Register adds a handler under its JobType.
// Panics if that type already has a handler.
func (r *HandlerRegistry) Register(handler JobHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := handler.JobType()
	if _, exists := r.handlers[t]; exists {
		panic(fmt.Sprintf("handler already registered for job type: %s", t))
	}
	r.handlers[t] = handler
}

// Get returns the handler for t, or nil.
func (r *HandlerRegistry) Get(t JobType) JobHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[t]
}

// Types returns the registered job types, sorted.
func (r *HandlerRegistry) Types() []JobType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]JobType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
