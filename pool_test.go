package procbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newMockPool(t *testing.T, sp *mockSpawner, opts ...PoolOption) *ProcessPool {
	t.Helper()
	opts = append(isolated(WithPoolName("test")), opts...)
	opts = append(opts, WithProcessOptions(WithSpawner(sp)))
	return NewProcessPool(opts...)
}

func spawnN(t *testing.T, pool *ProcessPool, n int) []*Process {
	t.Helper()
	out := make([]*Process, 0, n)
	for i := 0; i < n; i++ {
		p, err := pool.Spawn("mock", nil, Config{StopTimeout: 50 * time.Millisecond})
		require.NoError(t, err)
		out = append(out, p)
	}
	return out
}

func TestPoolCreate(t *testing.T) {
	pool := newMockPool(t, newMockSpawner())

	procs := spawnN(t, pool, 3)
	assert.Equal(t, 3, pool.Len())
	for i, p := range procs {
		assert.Equal(t, i+1, p.ID)
		got, ok := pool.Get(p.ID)
		require.True(t, ok)
		assert.Same(t, p, got)
	}

	_, err := pool.Create(Spec{})
	assert.ErrorIs(t, err, ErrConfig)
	assert.Equal(t, 3, pool.Len())

	removed, ok := pool.Remove(2)
	require.True(t, ok)
	assert.Same(t, procs[1], removed)
	assert.Equal(t, []*Process{procs[0], procs[2]}, pool.List())

	_, ok = pool.Remove(2)
	assert.False(t, ok)
}

func TestPoolQuery(t *testing.T) {
	sp := newMockSpawner()
	pool := newMockPool(t, sp)
	ctx := context.Background()

	procs := spawnN(t, pool, 3)
	named, err := pool.Create(Spec{Name: "special", Exec: "other"})
	require.NoError(t, err)
	require.NoError(t, procs[1].Open(ctx))
	defer func() { _ = pool.Close(ctx) }()

	tests := []struct {
		name  string
		where Where
		want  []*Process
	}{
		{"nil matches all", nil, []*Process{procs[0], procs[1], procs[2], named}},
		{"by id", Where{"id": 3}, []*Process{procs[2]}},
		{"by name", Where{"name": "special"}, []*Process{named}},
		{"by exec", Where{"exec": "mock"}, procs},
		{"by state", Where{"state": StateOpened}, []*Process{procs[1]}},
		{"by state name", Where{"state": "unopened"}, []*Process{procs[0], procs[2], named}},
		{"conjunction", Where{"exec": "mock", "state": "opened"}, []*Process{procs[1]}},
		{"no match", Where{"id": 42}, []*Process{}},
		{"unknown key", Where{"color": "red"}, []*Process{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pool.Query(tt.where))
		})
	}

	opened := pool.Filter(func(p *Process) bool { return p.State() == StateOpened })
	assert.Equal(t, []*Process{procs[1]}, opened)
}

func TestPoolStat(t *testing.T) {
	sp := newMockSpawner()
	pool := newMockPool(t, sp)
	ctx := context.Background()

	stats, err := pool.Stat(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, stats)

	procs := spawnN(t, pool, 3)
	for _, p := range procs {
		require.NoError(t, p.Open(ctx))
	}

	stats, err = pool.Stat(ctx, nil)
	require.NoError(t, err)
	require.Len(t, stats, 3)
	for i, st := range stats {
		assert.Equal(t, procs[i].ID, st.ID)
		assert.Equal(t, procs[i].Pid(), st.PID)
		assert.NoError(t, st.Err)
	}

	// A failed entry keeps its slot and the first error is returned
	require.NoError(t, procs[1].Close(ctx))
	stats, err = pool.Stat(ctx, nil)
	require.ErrorIs(t, err, ErrClosed)
	require.Len(t, stats, 3)
	assert.NoError(t, stats[0].Err)
	assert.ErrorIs(t, stats[1].Err, ErrClosed)
	assert.Equal(t, procs[1].ID, stats[1].ID)
	assert.NoError(t, stats[2].Err)

	stats, err = pool.Stat(ctx, Where{"id": 3})
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 3, stats[0].ID)

	require.NoError(t, pool.Close(ctx))
}

func TestPoolClose(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sp := newMockSpawner()
	pool := newMockPool(t, sp)
	ctx := context.Background()

	procs := spawnN(t, pool, 4)
	require.NoError(t, procs[0].Open(ctx))
	require.NoError(t, procs[1].Open(ctx))
	require.NoError(t, procs[2].Open(ctx))
	require.NoError(t, procs[2].Close(ctx))
	// procs[3] is never opened

	require.NoError(t, pool.Close(ctx))
	assert.Equal(t, StateClosed, pool.State())
	for _, p := range procs {
		assert.Equal(t, StateClosed, p.State())
	}

	_, err := pool.Spawn("mock", nil, Config{})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, pool.Close(ctx), ErrClosed)
	assert.ErrorIs(t, pool.Open(ctx), ErrClosed)
}

func TestPoolCloseReportsFirstError(t *testing.T) {
	pool := NewPool[*stubResource](func(id int, spec Spec, _ ...ProcessOption) (*stubResource, error) {
		return &stubResource{id: id, closeErr: spec.Name, lc: newLifecycle(nil)}, nil
	}, isolated()...)
	ctx := context.Background()

	_, err := pool.Create(Spec{})
	require.NoError(t, err)
	_, err = pool.Create(Spec{Name: "broken"})
	require.NoError(t, err)

	err = pool.Close(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Equal(t, StateClosed, pool.State())
}

func TestPoolAutoOpen(t *testing.T) {
	sp := newMockSpawner()
	pool := newMockPool(t, sp, WithAutoOpen(true))
	ctx := context.Background()

	procs := spawnN(t, pool, 3)
	require.Eventually(t, func() bool {
		return len(pool.Query(Where{"state": StateOpened})) == len(procs)
	}, time.Second, time.Millisecond)

	stats, err := pool.Stat(ctx, Where{})
	require.NoError(t, err)
	assert.Len(t, stats, 3)

	require.NoError(t, pool.Close(ctx))
}

func TestPoolAutoOpenFailure(t *testing.T) {
	sp := newMockSpawner()
	sp.err = errors.New("exec format error")
	pool := newMockPool(t, sp, WithAutoOpen(true))

	errs := make(chan error, 1)
	p, err := pool.Create(Spec{
		Exec: "mock",
	})
	require.NoError(t, err)
	p.OnError(func(err error) { errs <- err })

	// The handler may be registered after the open already failed
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrSpawn)
	case <-time.After(200 * time.Millisecond):
		require.Eventually(t, func() bool { return errors.Is(p.Err(), ErrSpawn) }, time.Second, time.Millisecond)
	}
	assert.Equal(t, StateUnopened, p.State())
}

func TestPoolOpen(t *testing.T) {
	pool := newMockPool(t, newMockSpawner())
	ctx := context.Background()

	assert.Equal(t, StateUnopened, pool.State())
	require.NoError(t, pool.Open(ctx))
	assert.Equal(t, StateOpened, pool.State())
	assert.ErrorIs(t, pool.Open(ctx), ErrAlreadyOpen)

	size, ok := pool.Attr("size")
	require.True(t, ok)
	assert.Equal(t, 0, size)
	name, _ := pool.Attr("name")
	assert.Equal(t, "test", name)
}

func TestWhereMatch(t *testing.T) {
	r := &stubResource{id: 5}
	assert.True(t, Where(nil).Match(r))
	assert.True(t, Where{}.Match(r))
	assert.True(t, Where{"id": 5}.Match(r))
	assert.False(t, Where{"id": int64(5)}.Match(r))
	assert.True(t, Where{"state": "unopened"}.Match(r))
	assert.False(t, Where{"state": "opened"}.Match(r))
}

// stubResource is a Resource with scripted errors
type stubResource struct {
	id       int
	closeErr string
	lc       *lifecycle
}

func (r *stubResource) life() *lifecycle {
	if r.lc == nil {
		r.lc = newLifecycle(nil)
	}
	return r.lc
}

func (r *stubResource) Open(context.Context) error {
	if err := r.life().beginOpen(false); err != nil {
		return err
	}
	r.life().endOpen(nil)
	return nil
}

func (r *stubResource) Close(ctx context.Context) error {
	if r.closeErr != "" {
		return errors.New(r.closeErr)
	}
	return nil
}

func (r *stubResource) State() State { return r.life().State() }

func (r *stubResource) Attr(key string) (any, bool) {
	switch key {
	case "id":
		return r.id, true
	case "state":
		return r.State(), true
	}
	return nil, false
}

func TestPoolCloseEmptiesPool(t *testing.T) {
	pool := newMockPool(t, newMockSpawner())
	ctx := context.Background()

	spawnN(t, pool, 2)
	require.NoError(t, pool.Close(ctx))
	assert.Equal(t, 0, pool.Len())
	assert.Empty(t, pool.List())
	_, ok := pool.Get(1)
	assert.False(t, ok)
}
