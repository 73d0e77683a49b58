package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"makanMatesAPI/middleware"
	"makanMatesAPI/services"
)

type ProgressHandler struct {
	progression  *services.ProgressionService
	achievements *services.AchievementService
}

func NewProgressHandler(progression *services.ProgressionService, achievements *services.AchievementService) *ProgressHandler {
	return &ProgressHandler{progression: progression, achievements: achievements}
}

func (h *ProgressHandler) GetAchievements(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	uid, ok := middleware.GetUserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	achievements, err := h.achievements.AchievementsFor(ctx, uid)
	if err != nil {
		respondWithServiceError(w, "GetAchievements", err)
		return
	}

	respondWithJSON(w, http.StatusOK, achievements)
}

func (h *ProgressHandler) GetCounters(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	uid, ok := middleware.GetUserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	counters, err := h.progression.GetCounters(ctx, uid)
	if err != nil {
		respondWithServiceError(w, "GetCounters", err)
		return
	}

	respondWithJSON(w, http.StatusOK, counters)
}

func (h *ProgressHandler) GetStreak(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	uid, ok := middleware.GetUserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	streak, err := h.progression.GetStreak(ctx, uid, mux.Vars(r)["friendUid"])
	if err != nil {
		respondWithServiceError(w, "GetStreak", err)
		return
	}

	respondWithJSON(w, http.StatusOK, streak)
}

func (h *ProgressHandler) AddFriend(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	uid, ok := middleware.GetUserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	friendUID := mux.Vars(r)["friendUid"]
	if friendUID == "" || friendUID == uid {
		respondWithError(w, http.StatusBadRequest, "Invalid friend")
		return
	}

	if err := h.progression.RecordFriendship(ctx, uid, friendUID); err != nil {
		respondWithServiceError(w, "AddFriend", err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Friendship recorded"})
}
