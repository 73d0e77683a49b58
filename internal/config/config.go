package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendMemory    = "memory"
	BackendPostgres  = "postgres"
	BackendRealtime  = "rtdb"
	BackendFirestore = "firestore"

	AuthClerk = "clerk"
	// AuthDev trusts the X-User-Id header. Local development only.
	AuthDev   = "dev"
)

type Config struct {
	Port string

	StoreBackend      string
	DatabaseURL       string
	FirebaseDBURL     string
	FirebaseCredsFile string
	RTDBPollInterval  time.Duration

	StoreRetryAttempts int

	Timezone               string
	StreakDecayDays        int
	FinalizedRetentionDays int
	ReconcileSchedule      string
	AchievementsFile       string

	AuthMode            string
	ClerkSecretKey      string
	MetricsUser         string
	MetricsPass         string
	NotificationWorkers int

	RateLimitPerSecond float64
	RateLimitBurst     int
}

// Load reads .env when present and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := &Config{
		Port:              getEnv("PORT", "3333"),
		StoreBackend:      getEnv("STORE_BACKEND", BackendMemory),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		FirebaseDBURL:     os.Getenv("FIREBASE_DATABASE_URL"),
		FirebaseCredsFile: getEnv("FIREBASE_CREDENTIALS_FILE", "./serviceAccountKey.json"),
		Timezone:          getEnv("TIMEZONE", "Asia/Singapore"),
		ReconcileSchedule: getEnv("RECONCILE_SCHEDULE", "@every 15m"),
		AchievementsFile:  os.Getenv("ACHIEVEMENTS_FILE"),
		AuthMode:          getEnv("AUTH_MODE", AuthClerk),
		ClerkSecretKey:    os.Getenv("CLERK_SECRET_KEY"),
		MetricsUser:       os.Getenv("METRICS_USER"),
		MetricsPass:       os.Getenv("METRICS_PASS"),
	}

	var err error
	if cfg.StreakDecayDays, err = getInt("STREAK_DECAY_DAYS", 7); err != nil {
		return nil, err
	}
	if cfg.FinalizedRetentionDays, err = getInt("FINALIZED_RETENTION_DAYS", 90); err != nil {
		return nil, err
	}
	if cfg.StoreRetryAttempts, err = getInt("STORE_RETRY_ATTEMPTS", 4); err != nil {
		return nil, err
	}
	if cfg.NotificationWorkers, err = getInt("NOTIFICATION_WORKERS", 5); err != nil {
		return nil, err
	}
	if cfg.RateLimitBurst, err = getInt("RATE_LIMIT_BURST", 30); err != nil {
		return nil, err
	}
	if cfg.RateLimitPerSecond, err = getFloat("RATE_LIMIT_RPS", 5); err != nil {
		return nil, err
	}
	if cfg.RTDBPollInterval, err = getDuration("RTDB_POLL_INTERVAL", 2*time.Second); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory, BackendFirestore:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL environment variable is not set")
		}
	case BackendRealtime:
		if c.FirebaseDBURL == "" {
			return fmt.Errorf("FIREBASE_DATABASE_URL environment variable is not set")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.AuthMode {
	case AuthClerk:
		if c.ClerkSecretKey == "" {
			return fmt.Errorf("CLERK_SECRET_KEY environment variable is not set")
		}
	case AuthDev:
	default:
		return fmt.Errorf("unknown AUTH_MODE %q", c.AuthMode)
	}

	if c.StreakDecayDays < 1 {
		return fmt.Errorf("STREAK_DECAY_DAYS must be positive")
	}
	if c.FinalizedRetentionDays <= c.StreakDecayDays {
		return fmt.Errorf("FINALIZED_RETENTION_DAYS must exceed STREAK_DECAY_DAYS")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", key, err)
	}
	return f, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}
