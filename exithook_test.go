package procbox

import (
	"context"
	"errors"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingRegistrar counts drains and fails them with err
type countingRegistrar struct {
	drains atomic.Int32
	err    error
}

func (r *countingRegistrar) Register(Drainable) {}

func (r *countingRegistrar) DrainAll(context.Context) error {
	r.drains.Add(1)
	return r.err
}

func TestExitHookDrainOnce(t *testing.T) {
	reg := &countingRegistrar{}
	hook := NewExitHook(reg)

	require.NoError(t, hook.Drain(context.Background()))
	require.NoError(t, hook.Drain(context.Background()))
	assert.Equal(t, int32(1), reg.drains.Load())
}

func TestExitHookRun(t *testing.T) {
	tests := []struct {
		name     string
		drainErr error
		code     int
		want     int
	}{
		{name: "clean exit", code: 0, want: 0},
		{name: "keeps code", code: 3, want: 3},
		{name: "failed drain", drainErr: errors.New("stuck"), code: 0, want: 1},
		{name: "failed drain keeps code", drainErr: errors.New("stuck"), code: 130, want: 130},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got atomic.Int32
			got.Store(-1)
			hook := NewExitHook(&countingRegistrar{err: tt.drainErr}, WithExitFunc(func(code int) {
				got.Store(int32(code))
			}))
			hook.Run(context.Background(), tt.code)
			assert.Equal(t, int32(tt.want), got.Load())
		})
	}
}

func TestExitHookDrainsPools(t *testing.T) {
	reg := NewExitRegistry()
	sp := newMockSpawner()
	pool := NewProcessPool(WithRegistrar(reg), WithProcessOptions(WithSpawner(sp)))
	p, err := pool.Spawn("mock", nil, Config{})
	require.NoError(t, err)
	require.NoError(t, p.Open(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A cancelled caller context does not cut the drain short
	hook := NewExitHook(reg, WithDrainTimeout(time.Second), WithExitFunc(func(int) {}))
	require.NoError(t, hook.Drain(ctx))
	assert.Equal(t, StateClosed, pool.State())
	assert.Equal(t, StateClosed, p.State())
}

func TestExitHookListen(t *testing.T) {
	reg := &countingRegistrar{}
	codes := make(chan int, 1)
	hook := NewExitHook(reg, WithExitFunc(func(code int) { codes <- code }))

	hook.Listen(context.Background(), syscall.SIGUSR1)
	defer func() { _ = hook.Stop() }()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))

	select {
	case code := <-codes:
		assert.Equal(t, 128+int(syscall.SIGUSR1), code)
	case <-time.After(2 * time.Second):
		t.Fatal("hook did not run on signal")
	}
	assert.Equal(t, int32(1), reg.drains.Load())
}

func TestExitHookStop(t *testing.T) {
	hook := NewExitHook(&countingRegistrar{}, WithExitFunc(func(int) {
		t.Error("exit called after Stop")
	}))
	assert.NoError(t, hook.Stop())

	hook.Listen(context.Background(), syscall.SIGUSR2)
	require.NoError(t, hook.Stop())
	assert.NoError(t, hook.Stop())
}
