package procbox

import (
	"context"
	"errors"
	"io"
	"maps"

	"github.com/google/uuid"
)

// Service is a named, restartable Process
type Service struct {
	*Process

	// Description is free text shown in listings
	Description string

	// Exec is the executable the service runs
	Exec string

	// Env holds the environment overrides the service was created with
	Env map[string]string

	// Pool is the pool that owns the service, if any
	Pool *ServicePool
}

// NewService creates an unstarted service from spec. A service without a
// name gets a generated one.
func NewService(spec Spec, opts ...ProcessOption) *Service {
	name := spec.Name
	if name == "" {
		name = generateName("svc")
	}
	opts = append([]ProcessOption{WithName(name)}, opts...)
	return &Service{
		Process:     NewProcess(spec.Exec, spec.Args, spec.Config, opts...),
		Description: spec.Description,
		Exec:        spec.Exec,
		Env:         maps.Clone(spec.Env),
		Pool:        spec.Pool,
	}
}

// generateName returns prefix plus a short random suffix
func generateName(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

// Start spawns the service. A stopped service starts again with a new
// child.
func (s *Service) Start(ctx context.Context) error {
	return s.open(ctx, OpStart, true)
}

// Stop terminates the service. Afterwards Stopped reports true until the
// next Start.
func (s *Service) Stop(ctx context.Context) error {
	if err := s.Close(ctx); err != nil {
		return opErr(OpStop, s.Name, err)
	}
	s.lc.reset(true)
	return nil
}

// Restart stops then starts the service. A failed stop skips the start;
// a service that was never started is just started.
func (s *Service) Restart(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil && !errors.Is(err, ErrNotOpen) {
		return err
	}
	return s.Start(ctx)
}

// Started reports whether the service is running
func (s *Service) Started() bool {
	return s.State() == StateOpened
}

// Starting reports whether a start is in flight
func (s *Service) Starting() bool {
	return s.State() == StateOpening
}

// Stopped reports whether the service was stopped and not started since
func (s *Service) Stopped() bool {
	f := s.Flags()
	return f.Closed && !f.Closing && !f.Opened && !f.Opening
}

// CreateLogStream returns an independent stream of the service's stderr
// from now on. Each stream must be read or closed. Without a piped stderr
// the stream is already ended.
func (s *Service) CreateLogStream() io.ReadCloser {
	return s.logStream()
}

// Attr returns a queryable attribute. On top of the process attributes a
// service answers description and pool.
func (s *Service) Attr(key string) (any, bool) {
	switch key {
	case "description":
		return s.Description, true
	case "pool":
		if s.Pool == nil {
			return "", true
		}
		return s.Pool.Name(), true
	default:
		return s.Process.Attr(key)
	}
}

func (s *Service) attachPool(owner any) {
	if pool, ok := owner.(*ServicePool); ok {
		s.Pool = pool
	}
}
