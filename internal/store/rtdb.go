package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"firebase.google.com/go/v4/db"
)

// RealtimeStore is backed by the Firebase Realtime Database. The database is
// a JSON tree, so Get on a document also returns any nested collections; the
// typed decoders ignore fields they do not know.
type RealtimeStore struct {
	client       *db.Client
	pollInterval time.Duration
}

func NewRealtimeStore(client *db.Client, pollInterval time.Duration) *RealtimeStore {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &RealtimeStore{client: client, pollInterval: pollInterval}
}

func (s *RealtimeStore) Get(ctx context.Context, path string) (json.RawMessage, error) {
	p, err := cleanPath(path)
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if err := s.client.NewRef(p).Get(ctx, &raw); err != nil {
		return nil, unavailable("get", p, err)
	}
	if IsAbsent(raw) {
		return nil, ErrNotFound
	}
	return raw, nil
}

func (s *RealtimeStore) List(ctx context.Context, path string) (map[string]json.RawMessage, error) {
	p, err := cleanPath(path)
	if err != nil {
		return nil, err
	}

	children := make(map[string]json.RawMessage)
	if err := s.client.NewRef(p).Get(ctx, &children); err != nil {
		return nil, unavailable("list", p, err)
	}
	if children == nil {
		children = make(map[string]json.RawMessage)
	}
	return children, nil
}

func (s *RealtimeStore) Keys(ctx context.Context, path string) ([]string, error) {
	children, err := s.List(ctx, path)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(children))
	for k := range children {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *RealtimeStore) Set(ctx context.Context, path string, value any) error {
	p, err := cleanPath(path)
	if err != nil {
		return err
	}
	if err := s.client.NewRef(p).Set(ctx, value); err != nil {
		return unavailable("set", p, err)
	}
	return nil
}

// Update merges fields into an existing record. The native update would
// create a missing node, so it runs as a transaction that refuses to.
func (s *RealtimeStore) Update(ctx context.Context, path string, fields map[string]any) error {
	return s.Transaction(ctx, path, func(current json.RawMessage) (any, error) {
		if IsAbsent(current) {
			return nil, ErrNotFound
		}
		return mergeFields(current, fields)
	})
}

func (s *RealtimeStore) Remove(ctx context.Context, path string) error {
	p, err := cleanPath(path)
	if err != nil {
		return err
	}
	if err := s.client.NewRef(p).Delete(ctx); err != nil {
		return unavailable("remove", p, err)
	}
	return nil
}

func (s *RealtimeStore) Push(ctx context.Context, path string, value any) (string, error) {
	p, err := cleanPath(path)
	if err != nil {
		return "", err
	}
	ref, err := s.client.NewRef(p).Push(ctx, value)
	if err != nil {
		return "", unavailable("push", p, err)
	}
	return ref.Key, nil
}

func (s *RealtimeStore) Transaction(ctx context.Context, path string, fn TxFunc) error {
	p, err := cleanPath(path)
	if err != nil {
		return err
	}

	var fnErr error
	err = s.client.NewRef(p).Transaction(ctx, func(node db.TransactionNode) (interface{}, error) {
		fnErr = nil
		var current json.RawMessage
		if err := node.Unmarshal(&current); err != nil {
			fnErr = fmt.Errorf("decode %s: %w", p, err)
			return nil, fnErr
		}
		if IsAbsent(current) {
			current = nil
		}
		next, err := fn(current)
		if err != nil {
			fnErr = err
			return nil, err
		}
		return next, nil
	})
	if err != nil {
		if fnErr != nil {
			return fnErr
		}
		return unavailable("transaction", p, err)
	}
	return nil
}

// Subscribe polls the collection with ETags; the Admin SDK has no streaming
// listener.
func (s *RealtimeStore) Subscribe(ctx context.Context, path string, fn func(map[string]json.RawMessage)) (func(), error) {
	p, err := cleanPath(path)
	if err != nil {
		return nil, err
	}

	w := startWatcher(ctx, p, func(ctx context.Context) (map[string]json.RawMessage, error) {
		return s.List(ctx, p)
	}, fn)

	pollCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		ref := s.client.NewRef(p)
		var discard json.RawMessage
		etag, err := ref.GetWithETag(pollCtx, &discard)
		if err != nil {
			log.Printf("Store: initial ETag for %s failed: %v", p, err)
		}

		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				changed, newTag, err := ref.GetIfChanged(pollCtx, etag, &discard)
				if err != nil {
					if pollCtx.Err() == nil {
						log.Printf("Store: poll of %s failed: %v", p, err)
					}
					continue
				}
				if changed {
					etag = newTag
					w.notify()
				}
			}
		}
	}()

	return func() {
		cancel()
		w.stop()
	}, nil
}
