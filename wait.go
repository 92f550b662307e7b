package procbox

import (
	"context"
	"slices"
)

// WaitState blocks until the record for name in dir reaches one of
// states, or ctx ends. With no states it returns the first record seen
// for name, which is the current one when the file already exists.
func WaitState(ctx context.Context, dir, name string, states ...State) (StateRecord, error) {
	events, cleanup, err := WatchStateDir(ctx, dir)
	if err != nil {
		return StateRecord{}, err
	}
	defer func() { _ = cleanup() }()

	want := StateFileName(name)
	for {
		select {
		case event, ok := <-events:
			if !ok {
				if err := ctx.Err(); err != nil {
					return StateRecord{}, err
				}
				return StateRecord{}, &OpError{Op: OpWatch, Name: dir, Err: ErrClosed}
			}
			if event.Err != nil {
				return StateRecord{}, event.Err
			}
			if StateFileName(event.Record.Name) != want {
				continue
			}
			if len(states) == 0 || slices.Contains(states, event.Record.State) {
				return event.Record, nil
			}
		case <-ctx.Done():
			return StateRecord{}, ctx.Err()
		}
	}
}
