package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/technosupport/ts-guardian/internal/chat"
	"github.com/technosupport/ts-guardian/internal/data"
	"github.com/technosupport/ts-guardian/internal/middleware"
)

type ChatHandler struct {
	Service *chat.Service
}

func NewChatHandler(svc *chat.Service) *ChatHandler {
	return &ChatHandler{Service: svc}
}

// POST /api/v1/alerts/{id}/messages
func (h *ChatHandler) Post(w http.ResponseWriter, r *http.Request) {
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
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	msg, err := h.Service.Post(r.Context(), id, ac.UserID, ac.Name, req.Body)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

// GET /api/v1/alerts/{id}/messages?after_seq=0&limit=100
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := alertIDParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid alert ID")
		return
	}

	afterSeq, _ := strconv.ParseInt(r.URL.Query().Get("after_seq"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	msgs, err := h.Service.History(r.Context(), id, afterSeq, limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if msgs == nil {
		msgs = []data.ChatMessage{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}
