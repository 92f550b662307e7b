package procbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// State represents the lifecycle state of a resource
type State int

const (
	// StateUnknown indicates the state could not be determined
	StateUnknown State = iota
	// StateUnopened is the initial state, nothing has been spawned
	StateUnopened
	// StateOpening indicates an open is in flight
	StateOpening
	// StateOpened indicates the resource is open (process running)
	StateOpened
	// StateClosing indicates a close is in flight
	StateClosing
	// StateClosed indicates the resource has been closed
	StateClosed
)

// State string constants
const (
	stateUnknownStr  = "unknown"
	stateUnopenedStr = "unopened"
	stateOpeningStr  = "opening"
	stateOpenedStr   = "opened"
	stateClosingStr  = "closing"
	stateClosedStr   = "closed"
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateUnopened:
		return stateUnopenedStr
	case StateOpening:
		return stateOpeningStr
	case StateOpened:
		return stateOpenedStr
	case StateClosing:
		return stateClosingStr
	case StateClosed:
		return stateClosedStr
	default:
		return stateUnknownStr
	}
}

// ParseState returns the State named by s
func ParseState(s string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case stateUnopenedStr:
		return StateUnopened, nil
	case stateOpeningStr:
		return StateOpening, nil
	case stateOpenedStr:
		return StateOpened, nil
	case stateClosingStr:
		return StateClosing, nil
	case stateClosedStr:
		return StateClosed, nil
	case stateUnknownStr:
		return StateUnknown, nil
	default:
		return StateUnknown, fmt.Errorf("%w: unknown state %q", ErrConfig, s)
	}
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name
func (s *State) UnmarshalText(text []byte) error {
	st, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Flags is a snapshot of the raw lifecycle flags
type Flags struct {
	Opened  bool
	Opening bool
	Closed  bool
	Closing bool
	// Actives counts in-flight operations a close must wait for
	Actives int
}

// completion is shared by every caller waiting on the same close
type completion struct {
	done chan struct{}
	err  error
}

func (c *completion) wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// lifecycle is the flag machine shared by processes and pools.
// Invariants: opening and closing are never both set, at most one of
// opened/opening and one of closed/closing is set, actives never drops
// below zero.
type lifecycle struct {
	mu      sync.Mutex
	idle    *sync.Cond
	opened  bool
	opening bool
	closed  bool
	closing bool
	actives int
	since   time.Time

	// opens is closed when the in-flight open settles
	opens chan struct{}
	// closes is shared by every caller of an in-flight close
	closes *completion

	notify func(from, to State)
}

func newLifecycle(notify func(from, to State)) *lifecycle {
	lc := &lifecycle{notify: notify, since: time.Now()}
	lc.idle = sync.NewCond(&lc.mu)
	return lc
}

func (lc *lifecycle) stateLocked() State {
	switch {
	case lc.closing:
		return StateClosing
	case lc.closed:
		return StateClosed
	case lc.opening:
		return StateOpening
	case lc.opened:
		return StateOpened
	default:
		return StateUnopened
	}
}

func (lc *lifecycle) emit(from, to State) {
	if lc.notify != nil && from != to {
		lc.notify(from, to)
	}
}

// State returns the current state
func (lc *lifecycle) State() State {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.stateLocked()
}

// Since returns when the current state was entered
func (lc *lifecycle) Since() time.Time {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.since
}

// Flags returns a snapshot of the raw flags
func (lc *lifecycle) Flags() Flags {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return Flags{
		Opened:  lc.opened,
		Opening: lc.opening,
		Closed:  lc.closed,
		Closing: lc.closing,
		Actives: lc.actives,
	}
}

// beginOpen moves UNOPENED to OPENING. With reopen a settled close is
// forgotten first so a stopped service may start again.
func (lc *lifecycle) beginOpen(reopen bool) error {
	lc.mu.Lock()
	if reopen && lc.closed && !lc.closing {
		lc.closed = false
	}
	switch {
	case lc.opened || lc.opening:
		lc.mu.Unlock()
		return ErrAlreadyOpen
	case lc.closed || lc.closing:
		lc.mu.Unlock()
		return ErrClosed
	}
	from := lc.stateLocked()
	lc.opening = true
	lc.opens = make(chan struct{})
	lc.since = time.Now()
	lc.mu.Unlock()

	lc.emit(from, StateOpening)
	return nil
}

// endOpen settles an open; on failure the resource stays unopened
func (lc *lifecycle) endOpen(err error) {
	lc.mu.Lock()
	lc.opening = false
	if err == nil {
		lc.opened = true
	}
	opens := lc.opens
	lc.opens = nil
	lc.since = time.Now()
	to := lc.stateLocked()
	lc.mu.Unlock()

	// Listeners see the transition before any waiting close proceeds
	lc.emit(StateOpening, to)
	if opens != nil {
		close(opens)
	}
}

// beginClose either starts a close (owner is true and the caller must
// finish it with endClose), joins an in-flight close, or fails. A close
// requested while opening waits for the open to settle first. A strict
// close of a never-opened resource settles it as closed and fails with
// ErrNotOpen; a lenient one runs the close anyway.
func (lc *lifecycle) beginClose(ctx context.Context, strict bool) (c *completion, owner bool, err error) {
	for {
		lc.mu.Lock()
		switch {
		case lc.closing:
			c = lc.closes
			lc.mu.Unlock()
			return c, false, nil
		case lc.closed:
			lc.mu.Unlock()
			return nil, false, ErrClosed
		case lc.opening:
			opens := lc.opens
			lc.mu.Unlock()
			select {
			case <-opens:
				continue
			case <-ctx.Done():
				return nil, false, ctx.Err()
			}
		case !lc.opened && strict:
			lc.closed = true
			lc.since = time.Now()
			lc.mu.Unlock()
			lc.emit(StateUnopened, StateClosed)
			return nil, false, ErrNotOpen
		}

		from := lc.stateLocked()
		lc.closing = true
		lc.since = time.Now()
		c = &completion{done: make(chan struct{})}
		lc.closes = c
		lc.mu.Unlock()

		lc.emit(from, StateClosing)
		return c, true, nil
	}
}

// waitIdle blocks until no operation is active
func (lc *lifecycle) waitIdle() {
	lc.mu.Lock()
	for lc.actives > 0 {
		lc.idle.Wait()
	}
	lc.mu.Unlock()
}

// endClose settles the close and wakes every caller waiting on it
func (lc *lifecycle) endClose(c *completion, err error) {
	lc.mu.Lock()
	lc.closing = false
	lc.opened = false
	lc.closed = true
	lc.since = time.Now()
	c.err = err
	lc.mu.Unlock()

	lc.emit(StateClosing, StateClosed)
	close(c.done)
}

// active marks an operation that a close must wait for
func (lc *lifecycle) active() error {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	switch {
	case lc.closed || lc.closing:
		return ErrClosed
	case !lc.opened:
		return ErrNotOpen
	}
	lc.actives++
	return nil
}

// inactive ends an operation started with active
func (lc *lifecycle) inactive() {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.actives == 0 {
		return
	}
	lc.actives--
	if lc.actives == 0 {
		lc.idle.Broadcast()
	}
}

// reset returns the flags to the unopened baseline. keepClosed leaves a
// settled close visible so the owner still reports as stopped.
func (lc *lifecycle) reset(keepClosed bool) {
	lc.mu.Lock()
	if lc.opening || lc.closing {
		lc.mu.Unlock()
		return
	}
	from := lc.stateLocked()
	lc.opened = false
	lc.actives = 0
	lc.idle.Broadcast()
	if !keepClosed {
		lc.closed = false
	}
	lc.since = time.Now()
	to := lc.stateLocked()
	lc.mu.Unlock()

	lc.emit(from, to)
}
