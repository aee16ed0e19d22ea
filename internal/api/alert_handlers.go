package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/technosupport/ts-guardian/internal/alerts"
	"github.com/technosupport/ts-guardian/internal/data"
	"github.com/technosupport/ts-guardian/internal/middleware"
)

type AlertHandler struct {
	Service *alerts.Service
}

func NewAlertHandler(svc *alerts.Service) *AlertHandler {
	return &AlertHandler{Service: svc}
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps the engine taxonomy onto HTTP statuses.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, alerts.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, alerts.ErrNotFound):
		respondError(w, http.StatusNotFound, "alert not found")
	case errors.Is(err, alerts.ErrAlreadyTerminal):
		respondError(w, http.StatusConflict, "alert already closed")
	case errors.Is(err, alerts.ErrNotEligible):
		respondError(w, http.StatusForbidden, "not in notified set")
	case errors.Is(err, alerts.ErrUnavailable):
		respondError(w, http.StatusServiceUnavailable, "store unavailable, retry")
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func alertIDParam(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	return id, err == nil
}

type alertResponse struct {
	*data.Alert
	ConfirmationRate float64 `json:"confirmation_rate"`
}

// POST /api/v1/alerts
func (h *AlertHandler) Create(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.GetAuthContext(r.Context())
	if !ok {
		respondError(w, http.StatusForbidden, "Forbidden")
		return
	}

	var req struct {
		Location          string   `json:"location"`
		Description       string   `json:"description"`
		NotifiedIDs       []string `json:"notified_ids"`
		DurationMinutes   int      `json:"duration_minutes"`
		DeviceInfo        string   `json:"device_info"`
		NetworkInfo       string   `json:"network_info"`
		ExtendedRecording bool     `json:"extended_recording"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	a, err := h.Service.Create(r.Context(), alerts.CreateRequest{
		OriginatorID:      ac.UserID,
		OriginatorName:    ac.Name,
		OriginatorEmail:   ac.Email,
		Location:          req.Location,
		Description:       req.Description,
		NotifiedIDs:       req.NotifiedIDs,
		DurationMinutes:   req.DurationMinutes,
		DeviceInfo:        req.DeviceInfo,
		NetworkInfo:       req.NetworkInfo,
		ExtendedRecording: req.ExtendedRecording,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, alertResponse{Alert: a, ConfirmationRate: alerts.ConfirmationRate(a)})
}

// GET /api/v1/alerts/{id}
func (h *AlertHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := alertIDParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid alert ID")
		return
	}

	a, err := h.Service.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, alertResponse{Alert: a, ConfirmationRate: alerts.ConfirmationRate(a)})
}

// GET /api/v1/alerts?status=active&limit=50
func (h *AlertHandler) List(w http.ResponseWriter, r *http.Request) {
	status := data.AlertStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = data.AlertStatusActive
	}
	switch status {
	case data.AlertStatusActive, data.AlertStatusResolved, data.AlertStatusExpired:
	default:
		respondError(w, http.StatusBadRequest, "Invalid status")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	out, err := h.Service.List(r.Context(), status, limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"alerts": out})
}

// POST /api/v1/alerts/{id}/resolve
func (h *AlertHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.GetAuthContext(r.Context())
	if !ok {
		respondError(w, http.StatusForbidden, "Forbidden")
		return
	}
	id, ok := alertIDParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid alert ID")
		return
	}

	if err := h.Service.Resolve(r.Context(), id, ac.UserID); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

// POST /api/v1/alerts/{id}/ack
func (h *AlertHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.GetAuthContext(r.Context())
	if !ok {
		respondError(w, http.StatusForbidden, "Forbidden")
		return
	}
	id, ok := alertIDParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid alert ID")
		return
	}

	if err := h.Service.Acknowledge(r.Context(), id, ac.UserID); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}
