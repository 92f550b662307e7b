package procbox

import (
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
)

// mockHandle is a Handle whose exit is driven by the test
type mockHandle struct {
	pid        int
	ignoreTerm bool
	done       chan struct{}
	once       sync.Once
	exitCode   atomic.Int32
	released   atomic.Bool

	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	mu      sync.Mutex
	signals []os.Signal
}

func newMockHandle(pid int, ignoreTerm, withStderr bool) *mockHandle {
	h := &mockHandle{pid: pid, ignoreTerm: ignoreTerm, done: make(chan struct{})}
	h.exitCode.Store(-1)
	if withStderr {
		h.stderrR, h.stderrW = io.Pipe()
	}
	return h
}

// exit makes the child exit with code
func (h *mockHandle) exit(code int) {
	h.once.Do(func() {
		h.exitCode.Store(int32(code))
		if h.stderrW != nil {
			_ = h.stderrW.Close()
		}
		close(h.done)
	})
}

func (h *mockHandle) Signals() []os.Signal {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]os.Signal(nil), h.signals...)
}

func (h *mockHandle) Pid() int { return h.pid }

func (h *mockHandle) Signal(sig os.Signal) error {
	select {
	case <-h.done:
		return os.ErrProcessDone
	default:
	}
	h.mu.Lock()
	h.signals = append(h.signals, sig)
	h.mu.Unlock()
	if sig == syscall.SIGTERM && h.ignoreTerm {
		return nil
	}
	h.exit(-1)
	return nil
}

func (h *mockHandle) Done() <-chan struct{} { return h.done }

func (h *mockHandle) ExitCode() int { return int(h.exitCode.Load()) }

func (h *mockHandle) Err() error { return nil }

func (h *mockHandle) Stdin() io.WriteCloser { return nil }

func (h *mockHandle) Stdout() io.ReadCloser { return nil }

func (h *mockHandle) Stderr() io.ReadCloser {
	if h.stderrR == nil {
		return nil
	}
	return h.stderrR
}

func (h *mockHandle) Release() error {
	h.released.Store(true)
	if h.stderrR != nil {
		_ = h.stderrR.Close()
	}
	return nil
}

// mockSpawner hands out mockHandles. Spawns block on gate when it is set.
type mockSpawner struct {
	mu         sync.Mutex
	nextPID    int
	handles    []*mockHandle
	err        error
	gate       chan struct{}
	ignoreTerm bool
	withStderr bool
}

func newMockSpawner() *mockSpawner {
	return &mockSpawner{nextPID: 40000}
}

func (s *mockSpawner) Spawn(ctx context.Context, _ string, _ []string, _ Config) (Handle, error) {
	s.mu.Lock()
	gate, err := s.gate, s.err
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextPID++
	h := newMockHandle(s.nextPID, s.ignoreTerm, s.withStderr)
	s.handles = append(s.handles, h)
	return h, nil
}

func (s *mockSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

func (s *mockSpawner) last() *mockHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.handles) == 0 {
		return nil
	}
	return s.handles[len(s.handles)-1]
}

// stateRecorder collects state transitions
type stateRecorder struct {
	mu          sync.Mutex
	transitions [][2]State
}

func (r *stateRecorder) record(from, to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, [2]State{from, to})
}

func (r *stateRecorder) targets() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, 0, len(r.transitions))
	for _, t := range r.transitions {
		out = append(out, t[1])
	}
	return out
}

// isolated returns pool options that keep a test's pools out of the
// default registry
func isolated(opts ...PoolOption) []PoolOption {
	return append([]PoolOption{WithRegistrar(NewExitRegistry())}, opts...)
}
