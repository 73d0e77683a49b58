package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"makanMatesAPI/internal/notification"
	"makanMatesAPI/middleware"
	"makanMatesAPI/services"
)

type DeviceHandler struct {
	notifications *services.NotificationService
}

func NewDeviceHandler(notifications *services.NotificationService) *DeviceHandler {
	return &DeviceHandler{notifications: notifications}
}

func (h *DeviceHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	uid, ok := middleware.GetUserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	var req notification.RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !req.Valid() {
		respondWithError(w, http.StatusBadRequest, "token and platform (ios, android, web) are required")
		return
	}

	device, err := h.notifications.RegisterDevice(ctx, uid, &req)
	if err != nil {
		respondWithServiceError(w, "RegisterDevice", err)
		return
	}

	respondWithJSON(w, http.StatusOK, device)
}
