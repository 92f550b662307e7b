package procbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Supervisor owns a set of service pools and starts, stops and inspects
// all of their services together
type Supervisor struct {
	// Name identifies the supervisor in errors and logs
	Name string

	pools    *Pool[*ServicePool]
	poolOpts []PoolOption
	logger   *slog.Logger

	mu       sync.Mutex
	implicit *ServicePool
}

// SupervisorOption configures a Supervisor
type SupervisorOption func(*Supervisor)

// WithSupervisorPoolOptions applies opts to the supervisor and to every
// service pool it creates
func WithSupervisorPoolOptions(opts ...PoolOption) SupervisorOption {
	return func(s *Supervisor) {
		s.poolOpts = append(s.poolOpts, opts...)
	}
}

// WithSupervisorLogger sets the logger for supervisor events
func WithSupervisorLogger(l *slog.Logger) SupervisorOption {
	return func(s *Supervisor) {
		s.logger = l
		s.poolOpts = append(s.poolOpts, WithPoolLogger(l))
	}
}

// NewSupervisor creates a supervisor. An empty name is replaced by a
// generated one.
func NewSupervisor(name string, opts ...SupervisorOption) *Supervisor {
	if name == "" {
		name = generateName("supervisor")
	}
	s := &Supervisor{Name: name}
	for _, opt := range opts {
		opt(s)
	}

	outer := append(slices.Clone(s.poolOpts), WithPoolName(name), WithAutoOpen(true))
	s.pools = NewPool[*ServicePool](s.newPool, outer...)
	return s
}

func (s *Supervisor) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return Logger()
}

// newPool is the factory of the supervisor's outer pool
func (s *Supervisor) newPool(id int, spec Spec, _ ...ProcessOption) (*ServicePool, error) {
	name := spec.Name
	if name == "" {
		name = generateName("pool")
	}
	pool := NewServicePool(append(slices.Clone(s.poolOpts), WithPoolName(name))...)
	pool.id = id
	return pool, nil
}

// Pool creates a named service pool owned by the supervisor. The pool is
// opened in the background.
func (s *Supervisor) Pool(name string) (*ServicePool, error) {
	return s.pools.Create(Spec{Name: name})
}

// Pools returns the supervisor's pools in creation order
func (s *Supervisor) Pools() []*ServicePool {
	return s.pools.List()
}

func (s *Supervisor) implicitPool() (*ServicePool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.implicit != nil {
		return s.implicit, nil
	}
	pool, err := s.pools.Create(Spec{Name: s.Name + "-default"})
	if err != nil {
		return nil, err
	}
	s.implicit = pool
	return pool, nil
}

func (s *Supervisor) owns(pool *ServicePool) bool {
	return slices.Contains(s.pools.List(), pool)
}

// Service creates a service named name from spec in spec.Pool, or in the
// supervisor's implicit pool when spec.Pool is nil. An empty name falls
// back to spec.Name; one of them is required.
func (s *Supervisor) Service(name string, spec Spec) (*Service, error) {
	if name == "" {
		name = spec.Name
	}
	if name == "" {
		return nil, &OpError{Op: OpCreate, Name: s.Name, Err: fmt.Errorf("%w: service name is required", ErrConfig)}
	}
	spec.Name = name

	pool := spec.Pool
	if pool == nil {
		var err error
		if pool, err = s.implicitPool(); err != nil {
			return nil, err
		}
	} else if !s.owns(pool) {
		return nil, &OpError{Op: OpCreate, Name: s.Name, Err: fmt.Errorf("%w: pool %q is not owned by this supervisor", ErrConfig, pool.Name())}
	}

	svc, err := pool.Create(spec)
	if err != nil {
		return nil, err
	}
	s.log().Debug("service added", "supervisor", s.Name, "service", svc.Name, "pool", pool.Name())
	return svc, nil
}

// Query returns the services of every pool matching where, pool by pool
// in creation order
func (s *Supervisor) Query(where Where) []*Service {
	var out []*Service
	for _, pool := range s.pools.List() {
		out = append(out, pool.Query(where)...)
	}
	return out
}

// Start starts every service that is not already started, concurrently,
// then opens the supervisor
func (s *Supervisor) Start(ctx context.Context) error {
	services := s.Query(nil)
	err := s.pools.runner.run(ctx, len(services), func(ctx context.Context, i int) error {
		svc := services[i]
		if svc.Started() {
			return nil
		}
		return svc.Start(ctx)
	})
	if err != nil {
		return opErr(OpStart, s.Name, err)
	}

	if err := s.pools.Open(ctx); err != nil && !errors.Is(err, ErrAlreadyOpen) {
		return err
	}
	return nil
}

// Stop stops every running service, concurrently, and returns the
// supervisor to its unstarted state. Pools and services stay registered
// so Start can run them again.
func (s *Supervisor) Stop(ctx context.Context) error {
	services := s.Query(nil)
	err := s.pools.runner.run(ctx, len(services), func(ctx context.Context, i int) error {
		svc := services[i]
		switch svc.State() {
		case StateOpening, StateOpened:
			return svc.Stop(ctx)
		}
		return nil
	})
	s.pools.lc.reset(false)
	return opErr(OpStop, s.Name, err)
}

// Restart stops then starts every service
func (s *Supervisor) Restart(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil {
		return err
	}
	return s.Start(ctx)
}

// Stat stats the services matching where, concurrently. Each entry is
// tagged with its service and entries keep query order.
func (s *Supervisor) Stat(ctx context.Context, where Where) ([]Stat, error) {
	stats, err := statAll(ctx, s.pools.runner, s.Query(where), func(svc *Service, st *Stat) {
		st.Service = svc
	})
	return stats, opErr(OpStat, s.Name, err)
}

// Close closes every pool and with them every service. A closed
// supervisor cannot be started again.
func (s *Supervisor) Close(ctx context.Context) error {
	return s.pools.Close(ctx)
}

// State returns the supervisor's own lifecycle state
func (s *Supervisor) State() State {
	return s.pools.State()
}

// Started reports whether Start has completed since the last Stop
func (s *Supervisor) Started() bool {
	return s.State() == StateOpened
}
