package store

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math/rand"
	"time"
)

// RetryPolicy controls how RetryStore backs off on ErrUnavailable.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// OnRetry is called before every retry with the operation name.
	OnRetry func(op string)
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:  4,
		BaseDelay: 50 * time.Millisecond,
		MaxDelay:  2 * time.Second,
	}
}

// RetryStore retries transient failures of the wrapped store with
// exponential backoff and full jitter. Push is not retried: a lost response
// after a successful push would create a duplicate child.
type RetryStore struct {
	inner  Store
	policy RetryPolicy
}

func WithRetry(inner Store, policy RetryPolicy) *RetryStore {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 50 * time.Millisecond
	}
	if policy.MaxDelay < policy.BaseDelay {
		policy.MaxDelay = policy.BaseDelay
	}
	return &RetryStore{inner: inner, policy: policy}
}

func (s *RetryStore) do(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < s.policy.Attempts; attempt++ {
		if attempt > 0 {
			if s.policy.OnRetry != nil {
				s.policy.OnRetry(op)
			}
			log.Printf("Store: retrying %s (attempt %d/%d): %v", op, attempt+1, s.policy.Attempts, err)

			timer := time.NewTimer(s.backoff(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err = fn()
		if err == nil || !errors.Is(err, ErrUnavailable) {
			return err
		}
	}
	return err
}

func (s *RetryStore) backoff(attempt int) time.Duration {
	d := s.policy.BaseDelay << (attempt - 1)
	if d <= 0 || d > s.policy.MaxDelay {
		d = s.policy.MaxDelay
	}
	return time.Duration(rand.Int63n(int64(d)) + 1)
}

func (s *RetryStore) Get(ctx context.Context, path string) (json.RawMessage, error) {
	var raw json.RawMessage
	err := s.do(ctx, "get", func() error {
		var err error
		raw, err = s.inner.Get(ctx, path)
		return err
	})
	return raw, err
}

func (s *RetryStore) List(ctx context.Context, path string) (map[string]json.RawMessage, error) {
	var children map[string]json.RawMessage
	err := s.do(ctx, "list", func() error {
		var err error
		children, err = s.inner.List(ctx, path)
		return err
	})
	return children, err
}

func (s *RetryStore) Keys(ctx context.Context, path string) ([]string, error) {
	var keys []string
	err := s.do(ctx, "keys", func() error {
		var err error
		keys, err = s.inner.Keys(ctx, path)
		return err
	})
	return keys, err
}

func (s *RetryStore) Set(ctx context.Context, path string, value any) error {
	return s.do(ctx, "set", func() error {
		return s.inner.Set(ctx, path, value)
	})
}

func (s *RetryStore) Update(ctx context.Context, path string, fields map[string]any) error {
	return s.do(ctx, "update", func() error {
		return s.inner.Update(ctx, path, fields)
	})
}

func (s *RetryStore) Remove(ctx context.Context, path string) error {
	return s.do(ctx, "remove", func() error {
		return s.inner.Remove(ctx, path)
	})
}

func (s *RetryStore) Push(ctx context.Context, path string, value any) (string, error) {
	return s.inner.Push(ctx, path, value)
}

func (s *RetryStore) Transaction(ctx context.Context, path string, fn TxFunc) error {
	return s.do(ctx, "transaction", func() error {
		return s.inner.Transaction(ctx, path, fn)
	})
}

func (s *RetryStore) Subscribe(ctx context.Context, path string, fn func(map[string]json.RawMessage)) (func(), error) {
	return s.inner.Subscribe(ctx, path, fn)
}
