package api

import (
	"encoding/json"
	"net/http"

	"github.com/technosupport/ts-guardian/internal/middleware"
	"github.com/technosupport/ts-guardian/internal/presence"
)

type PresenceHandler struct {
	Registry *presence.Registry
}

func NewPresenceHandler(reg *presence.Registry) *PresenceHandler {
	return &PresenceHandler{Registry: reg}
}

// POST /api/v1/alerts/{id}/heartbeat
func (h *PresenceHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
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

	var req struct {
		IsTyping bool `json:"is_typing"`
	}
	// An empty body is a plain heartbeat.
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if err := h.Registry.Heartbeat(r.Context(), id, ac.UserID, ac.Name, req.IsTyping); err != nil {
		respondError(w, http.StatusServiceUnavailable, "presence store unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"interval_seconds": int(presence.HeartbeatInterval.Seconds()),
	})
}

// POST /api/v1/alerts/{id}/offline
func (h *PresenceHandler) MarkOffline(w http.ResponseWriter, r *http.Request) {
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

	// Best-effort departure: a failure here just means the lease ages out.
	if err := h.Registry.MarkOffline(r.Context(), id, ac.UserID); err != nil {
		respondError(w, http.StatusServiceUnavailable, "presence store unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /api/v1/alerts/{id}/presence
func (h *PresenceHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	id, ok := alertIDParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid alert ID")
		return
	}

	entries, err := h.Registry.Snapshot(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "presence store unavailable")
		return
	}
	if entries == nil {
		entries = []presence.Entry{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"online": entries})
}
