package procbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/creack/pty"

	"github.com/axondata/go-procbox/internal/unix"
)

// Spawner starts child processes. The context bounds the spawn itself,
// not the lifetime of the child.
type Spawner interface {
	Spawn(ctx context.Context, command string, args []string, cfg Config) (Handle, error)
}

// SpawnFunc adapts a function to the Spawner interface
type SpawnFunc func(ctx context.Context, command string, args []string, cfg Config) (Handle, error)

// Spawn calls f
func (f SpawnFunc) Spawn(ctx context.Context, command string, args []string, cfg Config) (Handle, error) {
	return f(ctx, command, args, cfg)
}

// Handle is a spawned child process
type Handle interface {
	// Pid returns the OS process ID
	Pid() int
	// Signal delivers sig to the child (and its process group when possible)
	Signal(sig os.Signal) error
	// Done is closed once the child has exited and been reaped
	Done() <-chan struct{}
	// ExitCode returns the exit status, -1 while running or when signaled
	ExitCode() int
	// Err returns the wait error once Done is closed
	Err() error
	// Stdin is the write end of a piped stdin, nil otherwise
	Stdin() io.WriteCloser
	// Stdout is the read end of a piped stdout, nil otherwise
	Stdout() io.ReadCloser
	// Stderr is the read end of a piped stderr, nil otherwise
	Stderr() io.ReadCloser
	// Release closes the parent's ends of the stdio pipes
	Release() error
}

// ExecSpawner spawns children with os/exec, each in its own process group
type ExecSpawner struct{}

// Spawn starts command with args according to cfg
func (ExecSpawner) Spawn(ctx context.Context, command string, args []string, cfg Config) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if command == "" {
		return nil, fmt.Errorf("%w: missing command", ErrConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for i := 0; i < 3; i++ {
		if cfg.Stream(i) == StdioIPC {
			return nil, fmt.Errorf("%w: ipc stdio is not supported", ErrConfig)
		}
	}

	cmd := exec.Command(command, args...)
	cmd.Dir = cfg.Cwd
	cmd.Env = mergeEnv(os.Environ(), cfg.Env)

	h := &execHandle{cmd: cmd, done: make(chan struct{})}
	h.exitCode.Store(-1)

	if cfg.TTY {
		// pty.Start puts the child in a new session, which is also a new
		// process group led by the child
		ptmx, err := pty.Start(cmd)
		if err != nil {
			return nil, err
		}
		h.stdin = ptmx
		h.stdout = ptmx
		h.closers = append(h.closers, ptmx)
		go h.wait()
		return h, nil
	}

	cmd.SysProcAttr = unix.SysProcAttr()

	// Pipes are created by hand rather than with cmd.StdoutPipe so that
	// Wait does not close the read ends while a reader is still draining.
	var childEnds []*os.File
	fail := func(err error) (Handle, error) {
		for _, f := range childEnds {
			_ = f.Close()
		}
		_ = h.Release()
		return nil, err
	}

	switch cfg.Stream(0) {
	case StdioPipe:
		r, w, err := os.Pipe()
		if err != nil {
			return fail(fmt.Errorf("create stdin pipe: %w", err))
		}
		cmd.Stdin = r
		childEnds = append(childEnds, r)
		h.stdin = w
		h.closers = append(h.closers, w)
	case StdioInherit:
		cmd.Stdin = os.Stdin
	}

	for i, dst := range []*io.Writer{&cmd.Stdout, &cmd.Stderr} {
		switch cfg.Stream(i + 1) {
		case StdioPipe:
			r, w, err := os.Pipe()
			if err != nil {
				return fail(fmt.Errorf("create output pipe: %w", err))
			}
			*dst = w
			childEnds = append(childEnds, w)
			if i == 0 {
				h.stdout = r
			} else {
				h.stderr = r
			}
			h.closers = append(h.closers, r)
		case StdioInherit:
			if i == 0 {
				*dst = os.Stdout
			} else {
				*dst = os.Stderr
			}
		}
	}

	if err := cmd.Start(); err != nil {
		return fail(err)
	}

	// The child holds its own copies now
	for _, f := range childEnds {
		_ = f.Close()
	}

	go h.wait()
	return h, nil
}

// execHandle is the Handle returned by ExecSpawner
type execHandle struct {
	cmd  *exec.Cmd
	done chan struct{}

	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	closers     []io.Closer
	releaseOnce sync.Once
	releaseErr  error

	exitCode atomic.Int32
	mu       sync.RWMutex
	exitErr  error
}

func (h *execHandle) wait() {
	err := h.cmd.Wait()

	h.mu.Lock()
	h.exitErr = err
	h.mu.Unlock()

	if state := h.cmd.ProcessState; state != nil {
		h.exitCode.Store(int32(state.ExitCode()))
	}
	close(h.done)
}

func (h *execHandle) Pid() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *execHandle) Signal(sig os.Signal) error {
	select {
	case <-h.done:
		return os.ErrProcessDone
	default:
	}
	if s, ok := sig.(syscall.Signal); ok {
		if err := unix.SignalGroup(h.Pid(), s); err == nil {
			return nil
		}
	}
	return h.cmd.Process.Signal(sig)
}

func (h *execHandle) Done() <-chan struct{} { return h.done }

func (h *execHandle) ExitCode() int { return int(h.exitCode.Load()) }

func (h *execHandle) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.exitErr
}

func (h *execHandle) Stdin() io.WriteCloser { return h.stdin }

func (h *execHandle) Stdout() io.ReadCloser { return h.stdout }

func (h *execHandle) Stderr() io.ReadCloser { return h.stderr }

func (h *execHandle) Release() error {
	h.releaseOnce.Do(func() {
		var errs []error
		for _, c := range h.closers {
			if err := c.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
				errs = append(errs, err)
			}
		}
		h.releaseErr = errors.Join(errs...)
	})
	return h.releaseErr
}

// mergeEnv overlays overrides on base, keeping base order and appending
// new keys sorted
func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(overrides))
	seen := make(map[string]bool, len(overrides))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if v, ok := overrides[key]; ok {
			out = append(out, key+"="+v)
			seen[key] = true
			continue
		}
		out = append(out, kv)
	}
	for _, key := range slices.Sorted(maps.Keys(overrides)) {
		if !seen[key] {
			out = append(out, key+"="+overrides[key])
		}
	}
	return out
}
