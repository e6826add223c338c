package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"riskauth-service/internal/repository/clickhouse"
	"riskauth-service/internal/service"
	"riskauth-service/internal/util"
)

// AuthHandler handles HTTP requests for authentication and the risk
// feature surfaces.
type AuthHandler struct {
	authService *service.AuthService
	logger      *zap.Logger
}

func NewAuthHandler(authService *service.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		logger:      logger,
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// RegisterRoutes registers the auth and feature routes.
func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Get("/", h.Status)
	router.Post("/auth", h.Auth)
	router.Post("/events", h.RecordEvent)
	router.Get("/users/{displayID}/features", h.LatestFeatures)
}

// Status is the static liveness payload. It is intentionally constant so
// callers can poll it.
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

// Auth dispatches register/login by the action field of the body.
func (h *AuthHandler) Auth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req service.AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.authService.Handle(ctx, &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidAction), errors.Is(err, service.ErrInvalidInput):
			h.respondWithError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("Auth request failed",
				util.String("action", req.Action),
				util.ErrorField(err))
			h.respondWithError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	h.respondWithJSON(w, http.StatusOK, resp)
	h.logger.Info("Auth request handled",
		util.String("action", req.Action),
		util.Bool("success", resp.Success),
		util.Duration("duration", time.Since(startTime)))
}

// RecordEvent appends an api_call event to the ledger.
func (h *AuthHandler) RecordEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req service.EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.authService.RecordAPICall(ctx, &req); err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			h.respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("Failed to record event",
			util.String("user_id", req.UserID),
			util.ErrorField(err))
		h.respondWithError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.respondWithJSON(w, http.StatusAccepted, map[string]bool{"recorded": true})
}

// LatestFeatures returns the most recent persisted feature vector for a
// user.
func (h *AuthHandler) LatestFeatures(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	displayID := chi.URLParam(r, "displayID")

	fv, err := h.authService.LatestFeatures(ctx, displayID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidInput):
			h.respondWithError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, clickhouse.ErrNoFeatures):
			h.respondWithError(w, http.StatusNotFound, "no features recorded")
		default:
			h.logger.Error("Failed to load latest features",
				util.String("display_id", displayID),
				util.ErrorField(err))
			h.respondWithError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	h.respondWithJSON(w, http.StatusOK, fv)
}

func (h *AuthHandler) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response", util.ErrorField(err))
	}
}

func (h *AuthHandler) respondWithError(w http.ResponseWriter, status int, message string) {
	h.respondWithJSON(w, status, errorBody{Error: message})
}
