package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"makanMatesAPI/internal/request"
	"makanMatesAPI/services"
)

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "Internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithServiceError maps service errors onto status codes. Transient
// store failures are flagged as retryable for the client.
func respondWithServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		respondWithError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, services.ErrAlreadyConfirmed):
		respondWithError(w, http.StatusConflict, "Event already confirmed by both participants")
	case errors.Is(err, services.ErrInconsistentMirror):
		log.Printf("%s: %v", op, err)
		respondWithError(w, http.StatusConflict, "Event records are inconsistent")
	case errors.Is(err, request.ErrInvalid):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrStoreUnavailable):
		log.Printf("%s: %v", op, err)
		respondWithJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":     "Temporarily unavailable, please retry",
			"retryable": true,
		})
	default:
		log.Printf("%s: %v", op, err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}
