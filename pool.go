package procbox

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// Resource is anything a Pool can hold
type Resource interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error
	State() State
	Attr(key string) (any, bool)
}

// Where selects resources whose attributes equal every entry. A string
// value also matches an attribute whose String method returns it, so
// Where{"state": "opened"} works.
type Where map[string]any

// Match reports whether r satisfies w. An empty Where matches everything.
func (w Where) Match(r interface{ Attr(string) (any, bool) }) bool {
	for key, want := range w {
		got, ok := r.Attr(key)
		if !ok || !attrEqual(got, want) {
			return false
		}
	}
	return true
}

func attrEqual(got, want any) bool {
	if reflect.DeepEqual(got, want) {
		return true
	}
	if s, ok := want.(string); ok {
		if str, ok := got.(fmt.Stringer); ok {
			return str.String() == s
		}
	}
	return false
}

// Factory builds the resource for spec. id is assigned by the pool.
type Factory[R Resource] func(id int, spec Spec, opts ...ProcessOption) (R, error)

// PoolOption configures a Pool
type PoolOption func(*poolConfig)

type poolConfig struct {
	name        string
	autoOpen    bool
	procOpts    []ProcessOption
	registrar   Registrar
	noRegister  bool
	logger      *slog.Logger
	concurrency int
	timeout     time.Duration
}

// WithPoolName sets the pool name used in errors, logs and queries
func WithPoolName(name string) PoolOption {
	return func(c *poolConfig) {
		c.name = name
	}
}

// WithAutoOpen opens each created resource in the background
func WithAutoOpen(enabled bool) PoolOption {
	return func(c *poolConfig) {
		c.autoOpen = enabled
	}
}

// WithProcessOptions passes opts to the factory of every created resource
func WithProcessOptions(opts ...ProcessOption) PoolOption {
	return func(c *poolConfig) {
		c.procOpts = append(c.procOpts, opts...)
	}
}

// WithRegistrar sets the exit registry the pool joins. A nil registrar
// keeps the pool out of every registry.
func WithRegistrar(r Registrar) PoolOption {
	return func(c *poolConfig) {
		c.registrar = r
		c.noRegister = r == nil
	}
}

// WithPoolLogger sets the logger for pool events
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(c *poolConfig) {
		c.logger = l
	}
}

// WithConcurrency caps the number of concurrent operations in a batch
func WithConcurrency(n int) PoolOption {
	return func(c *poolConfig) {
		c.concurrency = n
	}
}

// WithTimeout bounds each operation of a batch
func WithTimeout(d time.Duration) PoolOption {
	return func(c *poolConfig) {
		c.timeout = d
	}
}

// Pool owns a set of resources and applies lifecycle operations to all
// of them at once. Resources keep their insertion order.
type Pool[R Resource] struct {
	name     string
	id       int
	factory  Factory[R]
	autoOpen bool
	procOpts []ProcessOption
	logger   *slog.Logger
	runner   batcher

	lc *lifecycle

	mu     sync.RWMutex
	nextID int
	ids    []int
	items  map[int]R
}

// ProcessPool is a pool of plain processes
type ProcessPool = Pool[*Process]

// ServicePool is a pool of services
type ServicePool = Pool[*Service]

// NewPool creates a pool building resources with factory. Unless told
// otherwise the pool registers with DefaultRegistry so it is drained at
// exit.
func NewPool[R Resource](factory Factory[R], opts ...PoolOption) *Pool[R] {
	cfg := poolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.registrar == nil && !cfg.noRegister {
		cfg.registrar = DefaultRegistry()
	}

	p := &Pool[R]{
		name:     cfg.name,
		factory:  factory,
		autoOpen: cfg.autoOpen,
		procOpts: cfg.procOpts,
		logger:   cfg.logger,
		runner:   batcher{concurrency: cfg.concurrency, timeout: cfg.timeout},
		items:    make(map[int]R),
	}
	p.lc = newLifecycle(p.notify)

	if cfg.registrar != nil {
		cfg.registrar.Register(p)
	}
	return p
}

func (p *Pool[R]) log() *slog.Logger {
	if p.logger != nil {
		return p.logger
	}
	return Logger()
}

func (p *Pool[R]) notify(from, to State) {
	p.log().Debug("pool state change", "pool", p.name, "from", from.String(), "to", to.String())
}

// Name returns the pool name
func (p *Pool[R]) Name() string {
	return p.name
}

// Create builds a resource from spec and adds it to the pool. With auto
// open the resource is opened in the background; open failures go to
// the resource's error handlers.
func (p *Pool[R]) Create(spec Spec) (R, error) {
	var zero R
	if st := p.State(); st == StateClosing || st == StateClosed {
		return zero, &OpError{Op: OpCreate, Name: p.name, Err: ErrClosed}
	}

	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.mu.Unlock()

	r, err := p.factory(id, spec, p.procOpts...)
	if err != nil {
		return zero, opErr(OpCreate, p.name, err)
	}
	if a, ok := any(r).(poolAttacher); ok {
		a.attachPool(p)
	}

	p.mu.Lock()
	p.items[id] = r
	p.ids = append(p.ids, id)
	p.mu.Unlock()

	if p.autoOpen {
		go p.openInBackground(r)
	}
	return r, nil
}

func (p *Pool[R]) openInBackground(r R) {
	err := r.Open(context.Background())
	if err == nil {
		return
	}
	if rep, ok := any(r).(errorReporter); ok {
		rep.emitError(err)
		return
	}
	p.log().Warn("auto open failed", "pool", p.name, "error", err)
}

// Spawn creates a resource running command with args
func (p *Pool[R]) Spawn(command string, args []string, cfg Config) (R, error) {
	return p.Create(Spec{Exec: command, Args: args, Config: cfg})
}

// Get returns the resource with the given pool ID
func (p *Pool[R]) Get(id int) (R, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.items[id]
	return r, ok
}

// Remove drops a resource from the pool without closing it
func (p *Pool[R]) Remove(id int) (R, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.items[id]
	if !ok {
		return r, false
	}
	delete(p.items, id)
	for i, v := range p.ids {
		if v == id {
			p.ids = append(p.ids[:i], p.ids[i+1:]...)
			break
		}
	}
	return r, true
}

// Len returns the number of resources in the pool
func (p *Pool[R]) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.ids)
}

// List returns every resource in insertion order
func (p *Pool[R]) List() []R {
	return p.Query(nil)
}

// Query returns the resources matching where, in insertion order
func (p *Pool[R]) Query(where Where) []R {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]R, 0, len(p.ids))
	for _, id := range p.ids {
		r := p.items[id]
		if where.Match(r) {
			out = append(out, r)
		}
	}
	return out
}

// Filter returns the resources for which keep returns true
func (p *Pool[R]) Filter(keep func(R) bool) []R {
	out := make([]R, 0)
	for _, r := range p.List() {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// Stat stats every resource matching where concurrently. The result has
// one entry per matched resource that can report stats, in query order,
// and the first error is returned after all stats finished.
func (p *Pool[R]) Stat(ctx context.Context, where Where) ([]Stat, error) {
	stats, err := statAll(ctx, p.runner, p.Query(where), nil)
	return stats, opErr(OpStat, p.name, err)
}

// Open marks the pool open. It does not open the pooled resources.
func (p *Pool[R]) Open(_ context.Context) error {
	if err := p.lc.beginOpen(false); err != nil {
		return &OpError{Op: OpOpen, Name: p.name, Err: err}
	}
	p.lc.endOpen(nil)
	return nil
}

// Close closes every resource concurrently, empties the pool and then
// closes the pool itself. Resources that were already closed or never
// opened are not errors. A closed pool cannot be reopened.
func (p *Pool[R]) Close(ctx context.Context) error {
	c, owner, err := p.lc.beginClose(ctx, false)
	if err != nil {
		return opErr(OpClose, p.name, err)
	}
	if owner {
		go p.closeAll(c)
	}
	return opErr(OpClose, p.name, c.wait(ctx))
}

func (p *Pool[R]) closeAll(c *completion) {
	p.lc.waitIdle()

	items := p.List()
	p.log().Debug("closing pool", "pool", p.name, "resources", len(items))

	err := p.runner.run(context.Background(), len(items), func(ctx context.Context, i int) error {
		if err := items[i].Close(ctx); err != nil && !isSettled(err) {
			return err
		}
		return nil
	})

	p.mu.Lock()
	p.ids = nil
	p.items = make(map[int]R)
	p.mu.Unlock()

	p.lc.endClose(c, err)
}

// State returns the pool's own lifecycle state
func (p *Pool[R]) State() State {
	return p.lc.State()
}

// Flags returns a snapshot of the pool's lifecycle flags
func (p *Pool[R]) Flags() Flags {
	return p.lc.Flags()
}

// Attr returns a queryable attribute: id, name, size or state
func (p *Pool[R]) Attr(key string) (any, bool) {
	switch key {
	case "id":
		return p.id, true
	case "name":
		return p.name, true
	case "size":
		return p.Len(), true
	case "state":
		return p.State(), true
	default:
		return nil, false
	}
}

// poolAttacher is implemented by resources that keep a reference to
// their owning pool
type poolAttacher interface {
	attachPool(owner any)
}

// errorReporter is implemented by resources with error handlers
type errorReporter interface {
	emitError(err error)
}
