package data

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventAlertCreated  EventKind = "alert_created"
	EventAlertResolved EventKind = "alert_resolved"
	EventAlertExpired  EventKind = "alert_expired"
	EventAcknowledged  EventKind = "acknowledged"
	EventChatMessage   EventKind = "chat_message"
)

// AlertEvent is one row of the append-only change log. event_id is assigned
// here, at the durable write, and is the consumer-side dedup key together
// with alert_id.
type AlertEvent struct {
	Seq       int64           `json:"seq"`
	EventID   uuid.UUID       `json:"event_id"`
	AlertID   uuid.UUID       `json:"alert_id"`
	Kind      EventKind       `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type EventModel struct {
	DB DBTX
}

// Append writes the event durably and fills in seq, event_id and created_at.
func (m EventModel) Append(ctx context.Context, ev *AlertEvent) error {
	query := `
		INSERT INTO alert_events (event_id, alert_id, kind, payload, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING seq, created_at`

	if ev.EventID == uuid.Nil {
		ev.EventID = uuid.New()
	}
	if len(ev.Payload) == 0 {
		ev.Payload = json.RawMessage(`{}`)
	}

	return m.DB.QueryRowContext(ctx, query,
		ev.EventID, ev.AlertID, ev.Kind, ev.Payload,
	).Scan(&ev.Seq, &ev.CreatedAt)
}

// LatestSeq returns the newest sequence for one alert (0 when the log is
// empty), for subscribers that want "from now on" rather than a full replay.
func (m EventModel) LatestSeq(ctx context.Context, alertID uuid.UUID) (int64, error) {
	query := `SELECT COALESCE(MAX(seq), 0) FROM alert_events WHERE alert_id = $1`

	var seq int64
	err := m.DB.QueryRowContext(ctx, query, alertID).Scan(&seq)
	return seq, err
}

// ListAfter tails the log for one alert. At-least-once: a reader that crashes
// and restarts from an older seq simply sees events again; dedup is the
// consumer's job.
func (m EventModel) ListAfter(ctx context.Context, alertID uuid.UUID, afterSeq int64, limit int) ([]AlertEvent, error) {
	query := `
		SELECT seq, event_id, alert_id, kind, payload, created_at
		FROM alert_events
		WHERE alert_id = $1 AND seq > $2
		ORDER BY seq
		LIMIT $3`

	rows, err := m.DB.QueryContext(ctx, query, alertID, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AlertEvent
	for rows.Next() {
		var ev AlertEvent
		if err := rows.Scan(&ev.Seq, &ev.EventID, &ev.AlertID, &ev.Kind, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
