package procbox

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"vawter.tech/stopper"
)

// ExitHook drains a Registrar once, either on a signal or when Run is
// called, and then exits the program
type ExitHook struct {
	registrar Registrar
	timeout   time.Duration
	exit      func(code int)
	logger    *slog.Logger

	once sync.Once
	err  error

	mu   sync.Mutex
	sctx *stopper.Context
}

// ExitOption configures an ExitHook
type ExitOption func(*ExitHook)

// WithDrainTimeout bounds the drain
func WithDrainTimeout(d time.Duration) ExitOption {
	return func(h *ExitHook) {
		h.timeout = d
	}
}

// WithExitFunc replaces os.Exit
func WithExitFunc(fn func(code int)) ExitOption {
	return func(h *ExitHook) {
		h.exit = fn
	}
}

// WithExitLogger sets the logger for drain and signal events
func WithExitLogger(l *slog.Logger) ExitOption {
	return func(h *ExitHook) {
		h.logger = l
	}
}

// NewExitHook creates a hook for reg, or for DefaultRegistry when nil
func NewExitHook(reg Registrar, opts ...ExitOption) *ExitHook {
	if reg == nil {
		reg = DefaultRegistry()
	}
	h := &ExitHook{
		registrar: reg,
		timeout:   DefaultDrainTimeout,
		exit:      os.Exit,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *ExitHook) log() *slog.Logger {
	if h.logger != nil {
		return h.logger
	}
	return Logger()
}

// Drain closes every registered pool once. Later calls return the
// result of the first.
func (h *ExitHook) Drain(ctx context.Context) error {
	h.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
		defer cancel()
		h.err = h.registrar.DrainAll(ctx)
		if h.err != nil {
			h.log().Error("drain pools", "error", h.err)
		}
	})
	return h.err
}

// Run drains and exits with code, or with 1 when the drain failed
func (h *ExitHook) Run(ctx context.Context, code int) {
	if err := h.Drain(ctx); err != nil && code == 0 {
		code = 1
	}
	h.exit(code)
}

// Listen runs the hook when one of sigs arrives, SIGINT and SIGTERM by
// default. The exit code is 128 plus the signal number.
func (h *ExitHook) Listen(ctx context.Context, sigs ...os.Signal) {
	if len(sigs) == 0 {
		sigs = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)

	sctx := stopper.WithContext(ctx)
	sctx.Defer(func() { signal.Stop(ch) })

	h.mu.Lock()
	h.sctx = sctx
	h.mu.Unlock()

	sctx.Go(func(sctx *stopper.Context) error {
		select {
		case sig := <-ch:
			h.log().Info("signal received, draining pools", "signal", sig.String())
			code := 1
			if s, ok := sig.(syscall.Signal); ok {
				code = 128 + int(s)
			}
			h.Run(ctx, code)
		case <-sctx.Stopping():
		case <-ctx.Done():
		}
		return nil
	})
}

// Stop stops listening for signals
func (h *ExitHook) Stop() error {
	h.mu.Lock()
	sctx := h.sctx
	h.sctx = nil
	h.mu.Unlock()
	if sctx == nil {
		return nil
	}
	sctx.Stop(100 * time.Millisecond)
	return sctx.Wait()
}
