package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const notifyChannel = "record_changes"

// Schema creates the records table used by PostgresStore.
const Schema = `
CREATE TABLE IF NOT EXISTS records (
	path       TEXT PRIMARY KEY,
	parent     TEXT NOT NULL,
	value      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS records_parent_idx ON records (parent);
CREATE INDEX IF NOT EXISTS records_path_prefix_idx ON records (path text_pattern_ops);
`

// PostgresStore keeps every record as one JSONB row keyed by its path.
// Per-path atomicity comes from a transaction-scoped advisory lock on the
// path; change notification uses LISTEN/NOTIFY.
type PostgresStore struct {
	db *pgxpool.Pool

	mu       sync.Mutex
	watchers map[*watcher]struct{}
	listenOn sync.Once
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		db:       db,
		watchers: make(map[*watcher]struct{}),
	}
}

// Migrate creates the records table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create records table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, path string) (json.RawMessage, error) {
	p, err := cleanPath(path)
	if err != nil {
		return nil, err
	}

	var raw []byte
	err = s.db.QueryRow(ctx, `SELECT value FROM records WHERE path = $1`, p).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, unavailable("get", p, err)
	}
	return raw, nil
}

func (s *PostgresStore) List(ctx context.Context, path string) (map[string]json.RawMessage, error) {
	p, err := cleanPath(path)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, `SELECT path, value FROM records WHERE parent = $1`, p)
	if err != nil {
		return nil, unavailable("list", p, err)
	}
	defer rows.Close()

	children := make(map[string]json.RawMessage)
	for rows.Next() {
		var childPath string
		var raw []byte
		if err := rows.Scan(&childPath, &raw); err != nil {
			return nil, unavailable("list", p, err)
		}
		children[lastSegment(childPath)] = raw
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list", p, err)
	}
	return children, nil
}

func (s *PostgresStore) Keys(ctx context.Context, path string) ([]string, error) {
	p, err := cleanPath(path)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT DISTINCT split_part(substr(path, $2), '/', 1) AS child
		FROM records
		WHERE path LIKE $1
		ORDER BY child
	`
	rows, err := s.db.Query(ctx, query, escapeLike(p)+"/%", len(p)+2)
	if err != nil {
		return nil, unavailable("keys", p, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, unavailable("keys", p, err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("keys", p, err)
	}
	return keys, nil
}

func (s *PostgresStore) Set(ctx context.Context, path string, value any) error {
	p, err := cleanPath(path)
	if err != nil {
		return err
	}
	raw, err := toRaw(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", p, err)
	}

	return s.inTx(ctx, "set", p, func(tx pgx.Tx) error {
		return upsert(ctx, tx, p, raw)
	})
}

func (s *PostgresStore) Update(ctx context.Context, path string, fields map[string]any) error {
	p, err := cleanPath(path)
	if err != nil {
		return err
	}
	patch, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode %s: %w", p, err)
	}

	return s.inTx(ctx, "update", p, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE records SET value = value || $2::jsonb, updated_at = NOW()
			WHERE path = $1
		`, p, patch)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *PostgresStore) Remove(ctx context.Context, path string) error {
	p, err := cleanPath(path)
	if err != nil {
		return err
	}

	return s.inTx(ctx, "remove", p, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM records WHERE path = $1`, p)
		return err
	})
}

func (s *PostgresStore) Push(ctx context.Context, path string, value any) (string, error) {
	key, err := NewPushKey()
	if err != nil {
		return "", err
	}
	if err := s.Set(ctx, path+"/"+key, value); err != nil {
		return "", err
	}
	return key, nil
}

func (s *PostgresStore) Transaction(ctx context.Context, path string, fn TxFunc) error {
	p, err := cleanPath(path)
	if err != nil {
		return err
	}

	return s.inTx(ctx, "transaction", p, func(tx pgx.Tx) error {
		var current []byte
		err := tx.QueryRow(ctx, `SELECT value FROM records WHERE path = $1`, p).Scan(&current)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		next, err := fn(current)
		if err != nil {
			return &txAbort{err: err}
		}
		if next == nil {
			_, err := tx.Exec(ctx, `DELETE FROM records WHERE path = $1`, p)
			return err
		}
		raw, err := toRaw(next)
		if err != nil {
			return &txAbort{err: fmt.Errorf("encode %s: %w", p, err)}
		}
		return upsert(ctx, tx, p, raw)
	})
}

func (s *PostgresStore) Subscribe(ctx context.Context, path string, fn func(map[string]json.RawMessage)) (func(), error) {
	p, err := cleanPath(path)
	if err != nil {
		return nil, err
	}

	s.listenOn.Do(func() {
		go s.listen(context.Background())
	})

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

// listen holds one pooled connection in LISTEN mode and fans notifications
// out to matching watchers. It reconnects after failures.
func (s *PostgresStore) listen(ctx context.Context) {
	for {
		if err := s.listenOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Store: LISTEN %s failed, retrying: %v", notifyChannel, err)
			time.Sleep(2 * time.Second)
		}
	}
}

func (s *PostgresStore) listenOnce(ctx context.Context) error {
	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return err
	}

	// Anything written while we were disconnected is unknown; refresh everyone.
	s.broadcast("")

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		s.broadcast(n.Payload)
	}
}

func (s *PostgresStore) broadcast(changed string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for w := range s.watchers {
		if changed == "" || w.matches(changed) {
			w.notify()
		}
	}
}

type txAbort struct{ err error }

func (e *txAbort) Error() string { return e.err.Error() }
func (e *txAbort) Unwrap() error { return e.err }

// inTx runs fn inside a transaction that holds the advisory lock for path and
// emits a change notification on commit.
func (s *PostgresStore) inTx(ctx context.Context, op, path string, fn func(tx pgx.Tx) error) error {
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, path); err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, path)
		return err
	})
	if err == nil {
		return nil
	}

	var abort *txAbort
	if errors.As(err, &abort) {
		return abort.err
	}
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return unavailable(op, path, err)
}

func upsert(ctx context.Context, tx pgx.Tx, path string, raw []byte) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO records (path, parent, value, updated_at)
		VALUES ($1, $2, $3::jsonb, NOW())
		ON CONFLICT (path) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, path, parentOf(path), raw)
	return err
}

func unavailable(op, path string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrUnavailable, op, path, err)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
