package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"makanMatesAPI/internal/request"
	"makanMatesAPI/middleware"
	"makanMatesAPI/services"
)

type RequestHandler struct {
	requests *services.RequestService
}

func NewRequestHandler(requests *services.RequestService) *RequestHandler {
	return &RequestHandler{requests: requests}
}

func (h *RequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	uid, ok := middleware.GetUserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	var body request.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req, err := h.requests.CreateRequest(ctx, &request.Request{
		Kind:          body.Kind,
		SenderUID:     uid,
		SenderName:    body.SenderName,
		RecipientUID:  body.RecipientUID,
		RecipientName: body.RecipientName,
		Day:           body.Day,
		Time:          body.Time,
	})
	if err != nil {
		respondWithServiceError(w, "CreateRequest", err)
		return
	}

	respondWithJSON(w, http.StatusCreated, req)
}

func (h *RequestHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	uid, ok := middleware.GetUserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	requests, err := h.requests.ListRequests(ctx, uid, request.Kind(mux.Vars(r)["kind"]))
	if err != nil {
		respondWithServiceError(w, "ListRequests", err)
		return
	}

	respondWithJSON(w, http.StatusOK, requests)
}

func (h *RequestHandler) Accept(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	uid, ok := middleware.GetUserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}
	vars := mux.Vars(r)

	pair, err := h.requests.AcceptRequest(ctx, uid, request.Kind(vars["kind"]), vars["requestId"])
	if err != nil {
		respondWithServiceError(w, "AcceptRequest", err)
		return
	}

	respondWithJSON(w, http.StatusCreated, pair)
}

func (h *RequestHandler) Decline(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	uid, ok := middleware.GetUserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}
	vars := mux.Vars(r)

	if err := h.requests.DeclineRequest(ctx, uid, request.Kind(vars["kind"]), vars["requestId"]); err != nil {
		respondWithServiceError(w, "DeclineRequest", err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Request declined"})
}
