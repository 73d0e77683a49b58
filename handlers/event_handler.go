package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"makanMatesAPI/internal/calendar"
	"makanMatesAPI/internal/clock"
	"makanMatesAPI/middleware"
	"makanMatesAPI/services"
)

type EventHandler struct {
	events        *services.EventService
	confirmations *services.ConfirmationService
	watcher       *services.EventWatcher
	cal           *clock.Calendar
}

func NewEventHandler(events *services.EventService, confirmations *services.ConfirmationService, watcher *services.EventWatcher, cal *clock.Calendar) *EventHandler {
	return &EventHandler{
		events:        events,
		confirmations: confirmations,
		watcher:       watcher,
		cal:           cal,
	}
}

func (h *EventHandler) ListToday(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	uid, ok := middleware.GetUserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	events, err := h.events.ListToday(ctx, uid)
	if err != nil {
		respondWithServiceError(w, "ListToday", err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"day":    h.cal.Today(),
		"events": events,
	})
}

func (h *EventHandler) ExportToday(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	uid, ok := middleware.GetUserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	events, err := h.events.ListToday(ctx, uid)
	if err != nil {
		respondWithServiceError(w, "ExportToday", err)
		return
	}

	body, err := calendar.Render(events, h.cal.Location(), h.cal.Now())
	if err != nil {
		respondWithServiceError(w, "ExportToday", err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="today.ics"`)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}

func (h *EventHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	uid, ok := middleware.GetUserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}
	eventID := mux.Vars(r)["eventId"]
	if eventID == "" {
		respondWithError(w, http.StatusBadRequest, "Missing event id")
		return
	}

	result, err := h.confirmations.Confirm(ctx, uid, eventID)
	if err != nil {
		respondWithServiceError(w, "Confirm", err)
		return
	}

	if result.AwaitingPartner && h.watcher != nil {
		h.watchPair(ctx, uid, eventID)
	}

	respondWithJSON(w, http.StatusOK, result)
}

// watchPair keeps both collections of a half-confirmed pair under
// subscription so the pair closes as soon as the partner confirms.
func (h *EventHandler) watchPair(ctx context.Context, uid, eventID string) {
	ev, err := h.events.Get(ctx, uid, eventID)
	if err != nil {
		return
	}
	for _, watched := range []string{uid, ev.CounterpartUID} {
		if err := h.watcher.Watch(watched); err != nil {
			log.Printf("Confirm: failed to watch %s: %v", watched, err)
		}
	}
}

func (h *EventHandler) Decline(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	uid, ok := middleware.GetUserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}
	eventID := mux.Vars(r)["eventId"]
	if eventID == "" {
		respondWithError(w, http.StatusBadRequest, "Missing event id")
		return
	}

	if err := h.confirmations.Decline(ctx, uid, eventID); err != nil {
		respondWithServiceError(w, "Decline", err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"eventId": eventID,
		"state":   services.StateRemoved,
	})
}
