package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"makanMatesAPI/internal/clock"
	"makanMatesAPI/internal/store"
	"makanMatesAPI/middleware"
	"makanMatesAPI/services"
)

// Dependencies are the services the HTTP surface is built on.
type Dependencies struct {
	Store         store.Store
	Calendar      *clock.Calendar
	Events        *services.EventService
	Confirmations *services.ConfirmationService
	Progression   *services.ProgressionService
	Achievements  *services.AchievementService
	Requests      *services.RequestService
	Notifications *services.NotificationService
	Watcher       *services.EventWatcher

	Auth        func(http.Handler) http.Handler
	RateLimiter *middleware.RateLimiter
	Gatherer    prometheus.Gatherer
	MetricsUser string
	MetricsPass string
}

func NewRouter(d Dependencies) *mux.Router {
	eventHandler := NewEventHandler(d.Events, d.Confirmations, d.Watcher, d.Calendar)
	requestHandler := NewRequestHandler(d.Requests)
	progressHandler := NewProgressHandler(d.Progression, d.Achievements)
	deviceHandler := NewDeviceHandler(d.Notifications)

	r := mux.NewRouter()
	r.Use(middleware.MonitorMiddleware)

	if d.Gatherer != nil {
		metricsHandler := promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})
		r.Handle("/metrics", middleware.BasicAuthMiddleware(d.MetricsUser, d.MetricsPass)(metricsHandler))
	}

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if _, err := d.Store.Get(ctx, store.HealthPath); err != nil && !errors.Is(err, store.ErrNotFound) {
			respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  "store unavailable",
			})
			return
		}
		respondWithJSON(w, http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": "makanMates-api",
		})
	}).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	auth := d.Auth
	if auth == nil {
		auth = middleware.ClerkAuthMiddleware
	}
	api.Use(auth)
	if d.RateLimiter != nil {
		api.Use(d.RateLimiter.Middleware)
	}

	api.HandleFunc("/events/today", eventHandler.ListToday).Methods("GET")
	api.HandleFunc("/events/today.ics", eventHandler.ExportToday).Methods("GET")
	api.HandleFunc("/events/{eventId}/confirm", eventHandler.Confirm).Methods("POST")
	api.HandleFunc("/events/{eventId}/decline", eventHandler.Decline).Methods("POST")

	api.HandleFunc("/requests", requestHandler.Create).Methods("POST")
	api.HandleFunc("/requests/{kind}", requestHandler.List).Methods("GET")
	api.HandleFunc("/requests/{kind}/{requestId}/accept", requestHandler.Accept).Methods("POST")
	api.HandleFunc("/requests/{kind}/{requestId}/decline", requestHandler.Decline).Methods("POST")

	api.HandleFunc("/achievements", progressHandler.GetAchievements).Methods("GET")
	api.HandleFunc("/counters", progressHandler.GetCounters).Methods("GET")
	api.HandleFunc("/streaks/{friendUid}", progressHandler.GetStreak).Methods("GET")
	api.HandleFunc("/friends/{friendUid}", progressHandler.AddFriend).Methods("POST")

	api.HandleFunc("/devices", deviceHandler.RegisterDevice).Methods("POST")

	return r
}
