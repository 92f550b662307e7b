package procbox

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// batcher runs one operation per item concurrently. The first error is
// returned, but only after every operation has finished.
type batcher struct {
	// concurrency caps parallel operations, zero is unlimited
	concurrency int
	// timeout bounds each operation, zero is none
	timeout time.Duration
}

func (b batcher) run(ctx context.Context, n int, op func(ctx context.Context, i int) error) error {
	if n == 0 {
		return nil
	}

	// A plain Group: one failure must not cancel the other operations
	var g errgroup.Group
	if b.concurrency > 0 {
		g.SetLimit(b.concurrency)
	}

	for i := 0; i < n; i++ {
		g.Go(func() error {
			opCtx := ctx
			if b.timeout > 0 {
				var cancel context.CancelFunc
				opCtx, cancel = context.WithTimeout(ctx, b.timeout)
				defer cancel()
			}
			return op(opCtx, i)
		})
	}

	return g.Wait()
}

// Statter is a resource that can report a Stat
type Statter interface {
	Stat(ctx context.Context) (Stat, error)
}

// statAll stats every item that is a Statter, keeping the order of items.
// Failed entries carry their error in Stat.Err.
func statAll[R any](ctx context.Context, b batcher, items []R, tag func(R, *Stat)) ([]Stat, error) {
	owners := make([]R, 0, len(items))
	statters := make([]Statter, 0, len(items))
	for _, item := range items {
		if s, ok := any(item).(Statter); ok {
			owners = append(owners, item)
			statters = append(statters, s)
		}
	}

	stats := make([]Stat, len(statters))
	err := b.run(ctx, len(statters), func(ctx context.Context, i int) error {
		st, err := statters[i].Stat(ctx)
		st.Err = err
		if tag != nil {
			tag(owners[i], &st)
		}
		stats[i] = st
		return err
	})
	return stats, err
}
