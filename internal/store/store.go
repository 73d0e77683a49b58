package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when the record at a path does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrUnavailable wraps transient I/O failures of the backing store.
	ErrUnavailable = errors.New("store unavailable")
	// ErrInvalidPath is returned for empty or malformed paths.
	ErrInvalidPath = errors.New("invalid store path")
)

// TxFunc receives the current value at a path (nil when absent) and returns
// the value to write back. Returning a nil value removes the record.
// It may be invoked more than once for a single Transaction call.
type TxFunc func(current json.RawMessage) (any, error)

// Store is the shared keyed record store. Every operation is atomic for a
// single path; nothing spans paths.
type Store interface {
	Get(ctx context.Context, path string) (json.RawMessage, error)
	List(ctx context.Context, path string) (map[string]json.RawMessage, error)
	Keys(ctx context.Context, path string) ([]string, error)
	Set(ctx context.Context, path string, value any) error
	Update(ctx context.Context, path string, fields map[string]any) error
	Remove(ctx context.Context, path string) error
	Push(ctx context.Context, path string, value any) (string, error)
	Transaction(ctx context.Context, path string, fn TxFunc) error
	Subscribe(ctx context.Context, path string, fn func(map[string]json.RawMessage)) (func(), error)
}

// IsAbsent reports whether a raw value represents a missing record.
func IsAbsent(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}

func cleanPath(path string) (string, error) {
	p := strings.Trim(path, "/")
	if p == "" {
		return "", ErrInvalidPath
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", ErrInvalidPath
		}
	}
	return p, nil
}

func parentOf(path string) string {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return ""
	}
	return path[:i]
}

func lastSegment(path string) string {
	return path[strings.LastIndex(path, "/")+1:]
}

func toRaw(value any) (json.RawMessage, error) {
	if raw, ok := value.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(value)
}
