package data

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type MessageKind string

const (
	MessageKindChat      MessageKind = "message"
	MessageKindSystem    MessageKind = "system"
	MessageKindEmergency MessageKind = "emergency"
)

// ChatMessage is immutable once written. Ordering key is (created_at, seq);
// seq breaks ties between messages landing in the same clock tick.
type ChatMessage struct {
	ID         uuid.UUID   `json:"id"`
	Seq        int64       `json:"seq"`
	AlertID    uuid.UUID   `json:"alert_id"`
	AuthorID   string      `json:"author_id"`
	AuthorName string      `json:"author_name"`
	Body       string      `json:"body"`
	Kind       MessageKind `json:"kind"`
	CreatedAt  time.Time   `json:"created_at"`
}

type MessageModel struct {
	DB DBTX
}

// Insert appends a message with a server-assigned timestamp and sequence.
func (m MessageModel) Insert(ctx context.Context, msg *ChatMessage) error {
	query := `
		INSERT INTO alert_messages (id, alert_id, author_id, author_name, body, kind, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING seq, created_at`

	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.Kind == "" {
		msg.Kind = MessageKindChat
	}

	return m.DB.QueryRowContext(ctx, query,
		msg.ID, msg.AlertID, msg.AuthorID, msg.AuthorName, msg.Body, msg.Kind,
	).Scan(&msg.Seq, &msg.CreatedAt)
}

// ListAfter returns messages for one alert with seq > afterSeq, oldest first.
// Passing afterSeq=0 replays the log from the beginning.
func (m MessageModel) ListAfter(ctx context.Context, alertID uuid.UUID, afterSeq int64, limit int) ([]ChatMessage, error) {
	query := `
		SELECT id, seq, alert_id, author_id, author_name, body, kind, created_at
		FROM alert_messages
		WHERE alert_id = $1 AND seq > $2
		ORDER BY created_at, seq
		LIMIT $3`

	rows, err := m.DB.QueryContext(ctx, query, alertID, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChatMessage
	for rows.Next() {
		var msg ChatMessage
		if err := rows.Scan(&msg.ID, &msg.Seq, &msg.AlertID, &msg.AuthorID, &msg.AuthorName, &msg.Body, &msg.Kind, &msg.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}
