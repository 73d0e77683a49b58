package store

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
)

type snapshotFunc func(ctx context.Context) (map[string]json.RawMessage, error)

// watcher delivers collection snapshots to one subscriber. Change signals are
// coalesced: a burst of writes produces at least one snapshot after the last
// write, never one per write.
type watcher struct {
	path     string
	signal   chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func startWatcher(ctx context.Context, path string, snapshot snapshotFunc, fn func(map[string]json.RawMessage)) *watcher {
	ctx, cancel := context.WithCancel(ctx)
	w := &watcher{
		path:   path,
		signal: make(chan struct{}, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	w.notify()

	go func() {
		defer close(w.done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.signal:
				children, err := snapshot(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					log.Printf("Store: snapshot of %s failed: %v", path, err)
					continue
				}
				fn(children)
			}
		}
	}()

	return w
}

func (w *watcher) notify() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

// matches reports whether a write at changed affects the watched collection.
func (w *watcher) matches(changed string) bool {
	return changed == w.path || strings.HasPrefix(changed, w.path+"/")
}

func (w *watcher) stop() {
	w.stopOnce.Do(func() {
		w.cancel()
		<-w.done
	})
}
