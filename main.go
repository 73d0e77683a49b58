package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	clerk "github.com/clerk/clerk-sdk-go/v2"
	gorilllaHandlers "github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"makanMatesAPI/handlers"
	"makanMatesAPI/internal/achievement"
	"makanMatesAPI/internal/clock"
	"makanMatesAPI/internal/config"
	"makanMatesAPI/internal/notification"
	"makanMatesAPI/internal/store"
	"makanMatesAPI/middleware"
	"makanMatesAPI/services"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "makanmates",
		Short:        "makanMates API - meal confirmations, streaks and achievements",
		SilenceUsage: true,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newMigrateCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, event watcher and reconcile sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the records table for the postgres backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.StoreBackend != config.BackendPostgres {
				return fmt.Errorf("migrate only applies to STORE_BACKEND=%s", config.BackendPostgres)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			pool, err := openPool(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := store.NewPostgresStore(pool).Migrate(ctx); err != nil {
				return err
			}
			log.Println("Migration complete")
			return nil
		},
	}
}

func serve(cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	cal, err := clock.LoadCalendar(clock.Real(), cfg.Timezone)
	if err != nil {
		return err
	}

	backend, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	table := achievement.DefaultTable
	if cfg.AchievementsFile != "" {
		if table, err = achievement.LoadTable(cfg.AchievementsFile); err != nil {
			return err
		}
		log.Printf("Loaded %d achievements from %s", len(table), cfg.AchievementsFile)
	}

	var pushProvider services.PushProvider = services.LogPushProvider{}
	if backend.firebase != nil {
		if fcm, err := notification.NewFCMService(ctx, backend.firebase); err != nil {
			log.Printf("Warning: Could not initialize FCM: %v", err)
		} else {
			pushProvider = fcm
			log.Println("FCM Push Provider initialized successfully")
		}
	}

	st := backend.store
	notificationService := services.NewNotificationService(st, cal, pushProvider, cfg.NotificationWorkers)
	eventService := services.NewEventService(st, cal)
	progressionService := services.NewProgressionService(st, cal, cfg.StreakDecayDays, cfg.FinalizedRetentionDays)
	confirmationService := services.NewConfirmationService(eventService, progressionService, notificationService)
	requestService := services.NewRequestService(st, cal, eventService, notificationService)
	achievementService := services.NewAchievementService(progressionService, table)
	watcher := services.NewEventWatcher(st, confirmationService)
	reconcileWorker := services.NewReconcileWorker(st, eventService, confirmationService, cal.Location())

	if err := reconcileWorker.Start(cfg.ReconcileSchedule); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	middleware.InitPrometheus(registry)

	var auth func(http.Handler) http.Handler
	switch cfg.AuthMode {
	case config.AuthDev:
		auth = middleware.DevAuthMiddleware
		log.Println("Warning: AUTH_MODE=dev, trusting the X-User-Id header")
	default:
		clerk.SetKey(cfg.ClerkSecretKey)
		auth = middleware.ClerkAuthMiddleware
		log.Println("Clerk initialized successfully")
	}

	limiterCtx, stopLimiter := context.WithCancel(context.Background())
	defer stopLimiter()
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst)
	go rateLimiter.Cleanup(limiterCtx)

	r := handlers.NewRouter(handlers.Dependencies{
		Store:         st,
		Calendar:      cal,
		Events:        eventService,
		Confirmations: confirmationService,
		Progression:   progressionService,
		Achievements:  achievementService,
		Requests:      requestService,
		Notifications: notificationService,
		Watcher:       watcher,
		Auth:          auth,
		RateLimiter:   rateLimiter,
		Gatherer:      registry,
		MetricsUser:   cfg.MetricsUser,
		MetricsPass:   cfg.MetricsPass,
	})

	corsHandler := gorilllaHandlers.CORS(
		gorilllaHandlers.AllowedOrigins([]string{"*"}),
		gorilllaHandlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		gorilllaHandlers.AllowedHeaders([]string{"Content-Type", "Authorization", middleware.DevUserHeader}),
		gorilllaHandlers.ExposedHeaders([]string{"Content-Length"}),
	)

	server := http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      corsHandler(r),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("Starting server on port %s (store: %s, timezone: %s)", cfg.Port, cfg.StoreBackend, cfg.Timezone)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Println("Got signal:", sig)
	case err := <-serverErr:
		log.Printf("Error starting server: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	watcher.Stop()
	reconcileWorker.Stop()
	notificationService.Stop()

	log.Println("Server shutdown complete")
	return nil
}
