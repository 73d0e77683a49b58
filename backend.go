package main

import (
	"context"
	"fmt"
	"log"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/jackc/pgx/v5/pgxpool"

	"makanMatesAPI/internal/config"
	"makanMatesAPI/internal/firebaseapp"
	"makanMatesAPI/internal/metrics"
	"makanMatesAPI/internal/store"
)

// backend is the configured record store plus the resources behind it.
type backend struct {
	store    store.Store
	firebase *firebase.App
	closers  []func()
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openStore(ctx context.Context, cfg *config.Config) (*backend, error) {
	b := &backend{}

	var inner store.Store
	switch cfg.StoreBackend {
	case config.BackendMemory:
		log.Println("Warning: using the in-memory store, data is lost on restart")
		inner = store.NewMemoryStore()

	case config.BackendPostgres:
		pool, err := openPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() {
			log.Println("Closing database connection pool...")
			pool.Close()
		})
		inner = store.NewPostgresStore(pool)

	case config.BackendRealtime:
		app, err := firebaseapp.New(ctx, cfg.FirebaseCredsFile, cfg.FirebaseDBURL)
		if err != nil {
			return nil, err
		}
		client, err := app.Database(ctx)
		if err != nil {
			return nil, fmt.Errorf("error getting realtime database client: %w", err)
		}
		b.firebase = app
		inner = store.NewRealtimeStore(client, cfg.RTDBPollInterval)

	case config.BackendFirestore:
		app, err := firebaseapp.New(ctx, cfg.FirebaseCredsFile, "")
		if err != nil {
			return nil, err
		}
		client, err := app.Firestore(ctx)
		if err != nil {
			return nil, fmt.Errorf("error getting firestore client: %w", err)
		}
		fs := store.NewFirestoreStore(client)
		b.closers = append(b.closers, func() { fs.Close() })
		b.firebase = app
		inner = fs

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	if b.firebase == nil {
		// push notifications still go through firebase when credentials exist
		if app, err := firebaseapp.New(ctx, cfg.FirebaseCredsFile, ""); err == nil {
			b.firebase = app
		} else {
			log.Printf("Firebase not configured: %v", err)
		}
	}

	policy := store.DefaultRetryPolicy()
	policy.Attempts = cfg.StoreRetryAttempts
	policy.OnRetry = func(op string) {
		metrics.StoreRetries.WithLabelValues(op).Inc()
	}
	b.store = store.WithRetry(inner, policy)
	return b, nil
}

func openPool(ctx context.Context, dbURL string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Successfully connected to Postgres")
	return pool, nil
}
