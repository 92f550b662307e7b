package procbox

import (
	"context"
	"log/slog"
	"sync"
)

// Drainable is a pool that can be closed at exit
type Drainable interface {
	Name() string
	State() State
	Len() int
	Close(ctx context.Context) error
}

// Registrar records pools for draining at process exit
type Registrar interface {
	Register(d Drainable)
	DrainAll(ctx context.Context) error
}

// ExitRegistry is a Registrar that drains every registered pool
// concurrently. Entries are never removed.
type ExitRegistry struct {
	mu      sync.Mutex
	entries []Drainable
	seen    map[Drainable]struct{}

	// Logger receives drain progress; nil uses the package logger
	Logger *slog.Logger
}

// NewExitRegistry creates an empty registry
func NewExitRegistry() *ExitRegistry {
	return &ExitRegistry{seen: make(map[Drainable]struct{})}
}

var defaultRegistry = NewExitRegistry()

// DefaultRegistry returns the process-wide registry pools join unless
// created WithRegistrar
func DefaultRegistry() *ExitRegistry {
	return defaultRegistry
}

// Register adds d once
func (r *ExitRegistry) Register(d Drainable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[d]; ok {
		return
	}
	r.seen[d] = struct{}{}
	r.entries = append(r.entries, d)
}

// Len returns the number of registered pools
func (r *ExitRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *ExitRegistry) log() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return Logger()
}

// DrainAll closes every registered pool that is not already closed or
// closing, concurrently, and waits for all of them. Errors are collected
// in registration order into a MultiError.
func (r *ExitRegistry) DrainAll(ctx context.Context) error {
	r.mu.Lock()
	pending := make([]Drainable, 0, len(r.entries))
	for _, d := range r.entries {
		switch d.State() {
		case StateClosed, StateClosing:
			continue
		}
		pending = append(pending, d)
	}
	r.mu.Unlock()

	for _, d := range pending {
		r.log().Debug("queue pool for close", "pool", d.Name(), "resources", d.Len())
	}

	errs := make([]error, len(pending))
	_ = batcher{}.run(ctx, len(pending), func(ctx context.Context, i int) error {
		if err := pending[i].Close(ctx); err != nil && !isSettled(err) {
			errs[i] = &OpError{Op: OpDrain, Name: pending[i].Name(), Err: err}
		}
		return nil
	})

	merr := &MultiError{}
	for _, err := range errs {
		merr.Add(err)
	}
	r.log().Debug("closed pools", "count", len(pending), "errors", len(merr.Errors))
	return merr.Err()
}
