package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/technosupport/ts-guardian/internal/alerts"
	"github.com/technosupport/ts-guardian/internal/hub"
	"github.com/technosupport/ts-guardian/internal/middleware"
	"github.com/technosupport/ts-guardian/internal/presence"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for dev; restrict in prod
	},
}

// WSHandler attaches a viewer to an alert room. Outbound: the hub pushes the
// merged, deduplicated event stream. Inbound: the client sends heartbeat and
// typing pings, which drive the presence registry.
type WSHandler struct {
	Alerts   *alerts.Service
	Hub      *hub.Hub
	Presence *presence.Registry
}

func NewWSHandler(a *alerts.Service, h *hub.Hub, p *presence.Registry) *WSHandler {
	return &WSHandler{Alerts: a, Hub: h, Presence: p}
}

// GET /api/v1/alerts/{id}/ws?token=...
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.GetAuthContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	alertID, ok := alertIDParam(r)
	if !ok {
		http.Error(w, "invalid alert id", http.StatusBadRequest)
		return
	}

	// Viewers of closed alerts are allowed: the log is read-only history.
	if _, err := h.Alerts.Get(r.Context(), alertID); err != nil {
		respondServiceError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WS Upgrade Failed: %v", err)
		return
	}

	h.Hub.AddClient(alertID, conn)
	log.Printf("WS Connected: user=%s alert=%s", ac.UserID, alertID)

	defer func() {
		h.Hub.RemoveClient(alertID, conn)
		conn.Close()
		// Clean departure signal; if this write is lost the lease ages out.
		if err := h.Presence.MarkOffline(context.Background(), alertID, ac.UserID); err != nil {
			log.Printf("WS: mark offline failed for %s: %v", ac.UserID, err)
		}
	}()

	// First heartbeat on connect so the viewer shows up immediately.
	if err := h.Presence.Heartbeat(r.Context(), alertID, ac.UserID, ac.Name, false); err != nil {
		log.Printf("WS: initial heartbeat failed for %s: %v", ac.UserID, err)
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			log.Printf("WS Read Error: %v", err)
			return
		}

		var payload struct {
			Type     string `json:"type"`
			IsTyping bool   `json:"is_typing"`
		}
		if err := json.Unmarshal(msg, &payload); err != nil {
			continue
		}

		switch payload.Type {
		case "heartbeat", "typing":
			if err := h.Presence.Heartbeat(r.Context(), alertID, ac.UserID, ac.Name, payload.IsTyping); err != nil {
				log.Printf("WS: heartbeat failed for %s: %v", ac.UserID, err)
			}
		default:
			// Unknown client message types are ignored.
		}
	}
}
