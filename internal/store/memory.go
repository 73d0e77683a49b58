package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. All operations are serialized under one
// mutex, which makes it linearizable per path (and across paths).
type MemoryStore struct {
	mu       sync.Mutex
	records  map[string]json.RawMessage
	watchers map[*watcher]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]json.RawMessage),
		watchers: make(map[*watcher]struct{}),
	}
}

func (s *MemoryStore) Get(ctx context.Context, path string) (json.RawMessage, error) {
	p, err := cleanPath(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.records[p]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(raw), nil
}

func (s *MemoryStore) List(ctx context.Context, path string) (map[string]json.RawMessage, error) {
	p, err := cleanPath(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	children := make(map[string]json.RawMessage)
	for key, raw := range s.records {
		if parentOf(key) == p {
			children[lastSegment(key)] = clone(raw)
		}
	}
	return children, nil
}

func (s *MemoryStore) Keys(ctx context.Context, path string) ([]string, error) {
	p, err := cleanPath(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	prefix := p + "/"
	for key := range s.records {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		child := strings.SplitN(strings.TrimPrefix(key, prefix), "/", 2)[0]
		seen[child] = true
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) Set(ctx context.Context, path string, value any) error {
	p, err := cleanPath(path)
	if err != nil {
		return err
	}
	raw, err := toRaw(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", p, err)
	}

	s.mu.Lock()
	s.records[p] = clone(raw)
	s.mu.Unlock()

	s.changed(p)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, path string, fields map[string]any) error {
	p, err := cleanPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	raw, ok := s.records[p]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	merged, err := mergeFields(raw, fields)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("update %s: %w", p, err)
	}
	s.records[p] = merged
	s.mu.Unlock()

	s.changed(p)
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, path string) error {
	p, err := cleanPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	_, existed := s.records[p]
	delete(s.records, p)
	s.mu.Unlock()

	if existed {
		s.changed(p)
	}
	return nil
}

func (s *MemoryStore) Push(ctx context.Context, path string, value any) (string, error) {
	key, err := NewPushKey()
	if err != nil {
		return "", err
	}
	if err := s.Set(ctx, path+"/"+key, value); err != nil {
		return "", err
	}
	return key, nil
}

// Transaction runs fn while holding the store lock; fn must not call back
// into the store.
func (s *MemoryStore) Transaction(ctx context.Context, path string, fn TxFunc) error {
	p, err := cleanPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	current, ok := s.records[p]
	if ok {
		current = clone(current)
	}
	next, err := fn(current)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if next == nil {
		delete(s.records, p)
	} else {
		raw, err := toRaw(next)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("encode %s: %w", p, err)
		}
		s.records[p] = clone(raw)
	}
	s.mu.Unlock()

	s.changed(p)
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, path string, fn func(map[string]json.RawMessage)) (func(), error) {
	p, err := cleanPath(path)
	if err != nil {
		return nil, err
	}

	w := startWatcher(ctx, p, func(ctx context.Context) (map[string]json.RawMessage, error) {
		return s.List(ctx, p)
	}, fn)

	s.mu.Lock()
	s.watchers[w] = struct{}{}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.watchers, w)
		s.mu.Unlock()
		w.stop()
	}, nil
}

func (s *MemoryStore) changed(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for w := range s.watchers {
		if w.matches(path) {
			w.notify()
		}
	}
}

// NewPushKey returns a chronologically sortable record key.
func NewPushKey() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate push key: %w", err)
	}
	return id.String(), nil
}

func clone(raw json.RawMessage) json.RawMessage {
	return append(json.RawMessage(nil), raw...)
}

func mergeFields(raw json.RawMessage, fields map[string]any) (json.RawMessage, error) {
	doc := make(map[string]json.RawMessage)
	if !IsAbsent(raw) {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("record is not an object: %w", err)
		}
	}
	for k, v := range fields {
		enc, err := toRaw(v)
		if err != nil {
			return nil, err
		}
		doc[k] = enc
	}
	return json.Marshal(doc)
}
