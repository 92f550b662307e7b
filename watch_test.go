package procbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func nextEvent(t *testing.T, events <-chan WatchEvent) WatchEvent {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "watch channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for watch event")
	}
	return WatchEvent{}
}

func TestWatchStateDirInitialAndChanges(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	require.NoError(t, writeStateRecord(dir, StateRecord{Name: "api", State: StateOpened}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, cleanup, err := watchStateDir(ctx, dir, 10*time.Millisecond)
	require.NoError(t, err)

	ev := nextEvent(t, events)
	require.NoError(t, ev.Err)
	assert.Equal(t, "api", ev.Record.Name)
	assert.Equal(t, StateOpened, ev.Record.State)

	require.NoError(t, writeStateRecord(dir, StateRecord{Name: "api", State: StateClosing}))
	require.NoError(t, writeStateRecord(dir, StateRecord{Name: "api", State: StateClosed}))

	// Writes inside the debounce window collapse to the latest record
	for {
		ev = nextEvent(t, events)
		require.NoError(t, ev.Err)
		if ev.Record.State == StateClosed {
			break
		}
	}

	// Files that are not state records are ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, cleanup())
	_, ok := <-events
	assert.False(t, ok)
}

func TestWatchStateDirCleanup(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	events, cleanup, err := WatchStateDir(context.Background(), t.TempDir())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- cleanup() }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("cleanup took too long")
	}
	for range events {
	}
}

func TestWatchStateDirContextCancelled(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithCancel(context.Background())
	events, cleanup, err := WatchStateDir(ctx, t.TempDir())
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
	assert.NoError(t, cleanup())
}

func TestWatchStateDirMissing(t *testing.T) {
	_, _, err := WatchStateDir(context.Background(), filepath.Join(t.TempDir(), "missing"))
	var oe *OpError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, OpWatch, oe.Op)
}

func TestWatchProcessTransitions(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, cleanup, err := watchStateDir(ctx, dir, 5*time.Millisecond)
	require.NoError(t, err)
	defer func() { _ = cleanup() }()

	p := NewProcess("mock", nil, Config{}, WithSpawner(newMockSpawner()), WithName("watched"), WithStateDir(dir))
	require.NoError(t, p.Open(ctx))

	for {
		ev := nextEvent(t, events)
		require.NoError(t, ev.Err)
		if ev.Record.State == StateOpened {
			assert.Equal(t, "watched", ev.Record.Name)
			assert.Equal(t, p.Pid(), ev.Record.PID)
			break
		}
	}

	require.NoError(t, p.Close(ctx))
	for {
		ev := nextEvent(t, events)
		require.NoError(t, ev.Err)
		if ev.Record.State == StateClosed {
			break
		}
	}
}
