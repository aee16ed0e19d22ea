package hub

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/technosupport/ts-guardian/internal/data"
	"github.com/technosupport/ts-guardian/internal/dispatch"
	"github.com/technosupport/ts-guardian/internal/metrics"
)

// SeqSource tells a new bridge where "now" is in the durable log.
type SeqSource interface {
	LatestSeq(ctx context.Context, alertID uuid.UUID) (int64, error)
}

// Hub maintains one room of websocket viewers per alert. The first viewer of
// an alert starts a bridge goroutine that merges the transient channel with
// the durable change feed; the same logical event can arrive on both, so the
// bridge dedups on (alertID, eventID) before broadcasting. The last viewer
// leaving tears the bridge down.
type Hub struct {
	transient dispatch.Subscriber // nil when no transient channel is up
	feed      *dispatch.Feed
	seqs      SeqSource
	dedup     *dispatch.EventDedup

	mu      sync.Mutex
	rooms   map[uuid.UUID]map[*websocket.Conn]bool
	bridges map[uuid.UUID]context.CancelFunc
}

func New(transient dispatch.Subscriber, feed *dispatch.Feed, seqs SeqSource, dedup *dispatch.EventDedup) *Hub {
	return &Hub{
		transient: transient,
		feed:      feed,
		seqs:      seqs,
		dedup:     dedup,
		rooms:     make(map[uuid.UUID]map[*websocket.Conn]bool),
		bridges:   make(map[uuid.UUID]context.CancelFunc),
	}
}

// AddClient registers a viewer connection to an alert room.
func (h *Hub) AddClient(alertID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[alertID]; !ok {
		h.rooms[alertID] = make(map[*websocket.Conn]bool)

		ctx, cancel := context.WithCancel(context.Background())
		h.bridges[alertID] = cancel
		go h.bridge(ctx, alertID)
	}
	h.rooms[alertID][conn] = true
	metrics.WSSessions.Inc()
}

// RemoveClient drops a viewer connection, stopping the bridge when the room
// empties.
func (h *Hub) RemoveClient(alertID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.rooms[alertID]
	if !ok {
		return
	}
	if !conns[conn] {
		return
	}
	delete(conns, conn)
	metrics.WSSessions.Dec()
	if len(conns) == 0 {
		delete(h.rooms, alertID)
		if cancel, ok := h.bridges[alertID]; ok {
			cancel()
			delete(h.bridges, alertID)
		}
	}
}

// bridge pumps merged events into the room. It is the room's only writer, so
// websocket writes need no extra locking.
func (h *Hub) bridge(ctx context.Context, alertID uuid.UUID) {
	events := make(chan *data.AlertEvent, 64)

	if h.transient != nil {
		cancelSub, err := h.transient.Subscribe(alertID, events)
		if err != nil {
			log.Printf("Hub: transient subscribe failed for %s: %v", alertID, err)
		} else {
			defer cancelSub()
		}
	}

	// Tail the durable log from "now". Viewers load history over REST; the
	// bridge only carries live events.
	fromSeq, err := h.seqs.LatestSeq(ctx, alertID)
	if err != nil {
		log.Printf("Hub: latest seq lookup failed for %s: %v", alertID, err)
		fromSeq = 0
	}
	go h.feed.Tail(ctx, alertID, fromSeq, events)

	for {
		select {
		case ev := <-events:
			if h.dedup.IsDuplicate(ev.AlertID, ev.EventID) {
				continue
			}
			h.broadcast(alertID, ev)
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) broadcast(alertID uuid.UUID, ev *data.AlertEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.rooms[alertID]))
	for conn := range h.rooms[alertID] {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("Hub: websocket write error: %v", err)
			conn.Close()
			h.RemoveClient(alertID, conn)
		}
	}
}

// Close tears down every room, e.g. on shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for alertID, conns := range h.rooms {
		for conn := range conns {
			conn.Close()
			metrics.WSSessions.Dec()
		}
		delete(h.rooms, alertID)
		if cancel, ok := h.bridges[alertID]; ok {
			cancel()
			delete(h.bridges, alertID)
		}
	}
}
