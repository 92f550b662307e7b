package procbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

// Process is a single child process with an open/close lifecycle.
// Open spawns the child, Close terminates it and waits for it to exit.
// A Process is not reusable after Close; Service adds restart on top.
type Process struct {
	// ID is the pool-assigned identifier, zero outside a pool
	ID int

	// Name identifies the process in errors, logs and state files
	Name string

	// Command is the executable to run
	Command string

	// Args are the command arguments
	Args []string

	config   Config
	spawner  Spawner
	logger   *slog.Logger
	stateDir string

	lc *lifecycle

	// mu protects everything below
	mu            sync.Mutex
	handle        Handle
	startedAt     time.Time
	exited        bool
	lastErr       error
	stderr        *logHub
	errorHandlers []func(error)
	stateHandlers []func(from, to State)
}

// ProcessOption configures a Process
type ProcessOption func(*Process)

// WithSpawner sets the spawner used to start the child
func WithSpawner(s Spawner) ProcessOption {
	return func(p *Process) {
		if s != nil {
			p.spawner = s
		}
	}
}

// WithLogger sets the logger for lifecycle events
func WithLogger(l *slog.Logger) ProcessOption {
	return func(p *Process) {
		p.logger = l
	}
}

// WithStateDir makes the process write a state record to dir on every
// state change
func WithStateDir(dir string) ProcessOption {
	return func(p *Process) {
		p.stateDir = dir
	}
}

// WithErrorHandler registers fn for errors raised outside of a caller's
// operation, such as a child exiting on its own
func WithErrorHandler(fn func(error)) ProcessOption {
	return func(p *Process) {
		if fn != nil {
			p.errorHandlers = append(p.errorHandlers, fn)
		}
	}
}

// WithStateHandler registers fn for state transitions
func WithStateHandler(fn func(from, to State)) ProcessOption {
	return func(p *Process) {
		if fn != nil {
			p.stateHandlers = append(p.stateHandlers, fn)
		}
	}
}

// WithName sets the process name
func WithName(name string) ProcessOption {
	return func(p *Process) {
		if name != "" {
			p.Name = name
		}
	}
}

// NewProcess creates an unopened Process for command
func NewProcess(command string, args []string, cfg Config, opts ...ProcessOption) *Process {
	p := &Process{
		Command: command,
		Args:    append([]string(nil), args...),
		config:  cfg.Clone(),
		spawner: ExecSpawner{},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.lc = newLifecycle(p.notify)
	return p
}

// label returns Name, or a name derived from the command and ID
func (p *Process) label() string {
	if p.Name != "" {
		return p.Name
	}
	return fmt.Sprintf("%s-%d", filepath.Base(p.Command), p.ID)
}

func (p *Process) log() *slog.Logger {
	if p.logger != nil {
		return p.logger
	}
	return Logger()
}

// Config returns a copy of the spawn configuration
func (p *Process) Config() Config {
	return p.config.Clone()
}

// Open spawns the child. It fails with ErrAlreadyOpen when opening or
// opened and with ErrClosed after Close.
func (p *Process) Open(ctx context.Context) error {
	return p.open(ctx, OpOpen, false)
}

func (p *Process) open(ctx context.Context, op Operation, reopen bool) error {
	if err := p.lc.beginOpen(reopen); err != nil {
		return &OpError{Op: op, Name: p.label(), Err: err}
	}

	h, err := p.spawner.Spawn(ctx, p.Command, p.Args, p.config)
	if err != nil {
		p.lc.endOpen(err)
		return &OpError{Op: OpSpawn, Name: p.label(), Err: fmt.Errorf("%w: %w", ErrSpawn, err)}
	}

	p.mu.Lock()
	p.handle = h
	p.startedAt = time.Now()
	p.exited = false
	p.lastErr = nil
	p.stderr = nil
	p.mu.Unlock()

	p.lc.endOpen(nil)
	p.log().Debug("process opened", "name", p.label(), "pid", h.Pid())

	go p.monitor(h)
	return nil
}

// monitor waits for h to exit and reports the exit when nobody asked
// for it
func (p *Process) monitor(h Handle) {
	<-h.Done()

	p.mu.Lock()
	current := p.handle == h
	if current {
		p.exited = true
	}
	p.mu.Unlock()

	if !current || p.lc.State() != StateOpened {
		return
	}

	p.emitError(&ChildExitError{
		Name:     p.label(),
		PID:      h.Pid(),
		ExitCode: h.ExitCode(),
		Err:      h.Err(),
	})
}

// Close terminates the child and waits for it to exit. Concurrent
// callers share one close and all receive its result. If ctx ends first
// the close still completes in the background.
func (p *Process) Close(ctx context.Context) error {
	c, owner, err := p.lc.beginClose(ctx, true)
	if err != nil {
		return opErr(OpClose, p.label(), err)
	}
	if owner {
		go p.finishClose(c)
	}
	return opErr(OpClose, p.label(), c.wait(ctx))
}

func (p *Process) finishClose(c *completion) {
	p.lc.waitIdle()

	p.mu.Lock()
	h := p.handle
	p.mu.Unlock()

	var err error
	if h != nil {
		err = terminate(h, p.stopTimeout())
		if rerr := h.Release(); rerr != nil {
			p.log().Debug("release stdio", "name", p.label(), "error", rerr)
		}
		if err == nil {
			p.mu.Lock()
			p.exited = true
			p.mu.Unlock()
		}
	}
	p.lc.endClose(c, err)
	p.log().Debug("process closed", "name", p.label())
}

func (p *Process) stopTimeout() time.Duration {
	if p.config.StopTimeout > 0 {
		return p.config.StopTimeout
	}
	return DefaultStopTimeout
}

// terminate sends SIGTERM, escalates to SIGKILL after timeout and waits
// for the child to be reaped
func terminate(h Handle, timeout time.Duration) error {
	select {
	case <-h.Done():
		return nil
	default:
	}

	if err := h.Signal(syscall.SIGTERM); err == nil || errors.Is(err, os.ErrProcessDone) {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-h.Done():
			return nil
		case <-timer.C:
		}
	}

	if err := h.Signal(syscall.SIGKILL); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill pid %d: %w", h.Pid(), err)
	}
	<-h.Done()
	return nil
}

// State returns the current lifecycle state
func (p *Process) State() State {
	return p.lc.State()
}

// Flags returns a snapshot of the lifecycle flags
func (p *Process) Flags() Flags {
	return p.lc.Flags()
}

// Active marks an operation that Close must wait for. Every successful
// call needs a matching Inactive.
func (p *Process) Active() error {
	return opErr(OpUnknown, p.label(), p.lc.active())
}

// Inactive ends an operation started with Active
func (p *Process) Inactive() {
	p.lc.inactive()
}

// Pid returns the child's process ID, zero before the first open
func (p *Process) Pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handle == nil {
		return 0
	}
	return p.handle.Pid()
}

// Exited reports whether the most recently spawned child has exited
func (p *Process) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

// ExitCode returns the exit status of the last child, -1 while it runs
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handle == nil || !p.exited {
		return -1
	}
	return p.handle.ExitCode()
}

// Err returns the last error delivered to error handlers
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Stdin returns the child's stdin when piped
func (p *Process) Stdin() io.WriteCloser {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handle == nil {
		return nil
	}
	return p.handle.Stdin()
}

// Stdout returns the child's stdout when piped
func (p *Process) Stdout() io.ReadCloser {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handle == nil {
		return nil
	}
	return p.handle.Stdout()
}

// Stderr returns the child's stderr when piped. Reading it directly
// competes with log streams.
func (p *Process) Stderr() io.ReadCloser {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handle == nil {
		return nil
	}
	return p.handle.Stderr()
}

// Attr returns a queryable attribute: id, name, command, exec, pid or state
func (p *Process) Attr(key string) (any, bool) {
	switch key {
	case "id":
		return p.ID, true
	case "name":
		return p.label(), true
	case "command", "exec":
		return p.Command, true
	case "pid":
		return p.Pid(), true
	case "state":
		return p.State(), true
	default:
		return nil, false
	}
}

// OnError registers fn for errors raised outside of a caller's operation
func (p *Process) OnError(fn func(error)) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	p.errorHandlers = append(p.errorHandlers, fn)
	p.mu.Unlock()
}

// OnStateChange registers fn for state transitions
func (p *Process) OnStateChange(fn func(from, to State)) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	p.stateHandlers = append(p.stateHandlers, fn)
	p.mu.Unlock()
}

func (p *Process) emitError(err error) {
	p.mu.Lock()
	p.lastErr = err
	handlers := append([]func(error)(nil), p.errorHandlers...)
	p.mu.Unlock()

	if len(handlers) == 0 {
		p.log().Warn("process error", "name", p.label(), "error", err)
		return
	}
	for _, fn := range handlers {
		fn(err)
	}
}

func (p *Process) notify(from, to State) {
	p.log().Debug("state change", "name", p.label(), "from", from.String(), "to", to.String())

	if p.stateDir != "" {
		if err := writeStateRecord(p.stateDir, p.record(to)); err != nil {
			p.log().Warn("write state file", "name", p.label(), "dir", p.stateDir, "error", err)
		}
	}

	p.mu.Lock()
	handlers := append([]func(from, to State)(nil), p.stateHandlers...)
	p.mu.Unlock()
	for _, fn := range handlers {
		fn(from, to)
	}
}

func (p *Process) record(state State) StateRecord {
	rec := StateRecord{
		Name:     p.label(),
		ID:       p.ID,
		Command:  p.Command,
		State:    state,
		Since:    time.Now(),
		ExitCode: -1,
	}
	p.mu.Lock()
	if p.handle != nil {
		rec.PID = p.handle.Pid()
		if p.exited {
			rec.ExitCode = p.handle.ExitCode()
		}
	}
	p.mu.Unlock()
	return rec
}
