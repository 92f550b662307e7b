package procbox

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"vawter.tech/stopper"
)

// WatchEvent is a state record change observed in a state directory
type WatchEvent struct {
	Record StateRecord
	Err    error
}

// WatchCleanupFunc stops a watch and waits for its goroutine to exit
type WatchCleanupFunc func() error

// WatchStateDir streams the records in dir, first the current ones and
// then every change. Bursts of writes to the same file are debounced.
// The channel is closed when ctx ends or cleanup is called.
func WatchStateDir(ctx context.Context, dir string) (<-chan WatchEvent, WatchCleanupFunc, error) {
	return watchStateDir(ctx, dir, DefaultWatchDebounce)
}

//nolint:gocyclo // one select loop owns all watch state
func watchStateDir(ctx context.Context, dir string, debounce time.Duration) (<-chan WatchEvent, WatchCleanupFunc, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, &OpError{Op: OpWatch, Name: dir, Err: err}
	}

	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, nil, &OpError{Op: OpWatch, Name: dir, Err: err}
	}

	ch := make(chan WatchEvent, 10)

	sctx := stopper.WithContext(ctx)

	cleanup := func() error {
		sctx.Stop(100 * time.Millisecond)
		return sctx.Wait()
	}

	sctx.Go(func(sctx *stopper.Context) error {
		// Every send happens on this goroutine, so closing here is safe
		defer close(ch)
		defer func() { _ = watcher.Close() }()

		send := func(ev WatchEvent) bool {
			select {
			case ch <- ev:
				return true
			case <-sctx.Stopping():
				return false
			case <-ctx.Done():
				return false
			}
		}

		records, err := ReadStateDir(dir)
		if err != nil && !send(WatchEvent{Err: err}) {
			return nil
		}
		for _, rec := range records {
			if !send(WatchEvent{Record: rec}) {
				return nil
			}
		}

		pending := make(map[string]struct{})
		debouncer := time.NewTimer(debounce)
		debouncer.Stop()
		defer debouncer.Stop()

		for {
			select {
			case <-sctx.Stopping():
				return nil

			case <-ctx.Done():
				return nil

			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if !isStateFile(filepath.Base(event.Name)) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				pending[event.Name] = struct{}{}
				debouncer.Reset(debounce)

			case <-debouncer.C:
				for path := range pending {
					delete(pending, path)
					rec, err := ReadStateFile(path)
					if errors.Is(err, fs.ErrNotExist) {
						continue
					}
					if !send(WatchEvent{Record: rec, Err: err}) {
						return nil
					}
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				if err != nil && !send(WatchEvent{Err: err}) {
					return nil
				}
			}
		}
	})

	return ch, cleanup, nil
}
