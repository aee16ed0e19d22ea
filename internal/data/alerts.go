package data

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type AlertStatus string

const (
	AlertStatusActive   AlertStatus = "active"
	AlertStatusResolved AlertStatus = "resolved"
	AlertStatusExpired  AlertStatus = "expired"
)

// Alert is the persisted emergency incident record. Originator identity,
// location snapshot and the notified set are fixed at creation; only the
// status block changes afterwards, exactly once.
type Alert struct {
	ID                uuid.UUID   `json:"id"`
	OriginatorID      string      `json:"originator_id"`
	OriginatorName    string      `json:"originator_name"`
	OriginatorEmail   string      `json:"originator_email,omitempty"`
	Location          string      `json:"location"`
	Description       string      `json:"description"`
	Status            AlertStatus `json:"status"`
	NotifiedIDs       []string    `json:"notified_ids"`
	AcknowledgedIDs   []string    `json:"acknowledged_ids"`
	DurationMinutes   int         `json:"duration_minutes"`
	DeviceInfo        string      `json:"device_info,omitempty"`
	NetworkInfo       string      `json:"network_info,omitempty"`
	ExtendedRecording bool        `json:"extended_recording"`
	CreatedAt         time.Time   `json:"created_at"`
	ExpiresAt         time.Time   `json:"expires_at"`
	ResolvedAt        *time.Time  `json:"resolved_at,omitempty"`
	ResolvedBy        string      `json:"resolved_by,omitempty"`
	AutoResolved      bool        `json:"auto_resolved"`
}

func (a *Alert) Terminal() bool {
	return a.Status != AlertStatusActive
}

type AlertModel struct {
	DB DBTX
}

// Insert persists a new alert. created_at and expires_at are assigned by the
// database clock so caller clock skew cannot shift the expiry window.
func (m AlertModel) Insert(ctx context.Context, a *Alert) error {
	query := `
		INSERT INTO alerts
			(id, originator_id, originator_name, originator_email, location, description,
			 status, notified_ids, duration_minutes, device_info, network_info, extended_recording,
			 created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'active', $7, $8, $9, $10, $11,
			NOW(), NOW() + make_interval(mins => $8))
		RETURNING created_at, expires_at`

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	err := m.DB.QueryRowContext(ctx, query,
		a.ID, a.OriginatorID, a.OriginatorName, a.OriginatorEmail, a.Location, a.Description,
		pq.Array(a.NotifiedIDs), a.DurationMinutes, a.DeviceInfo, a.NetworkInfo, a.ExtendedRecording,
	).Scan(&a.CreatedAt, &a.ExpiresAt)
	if err != nil {
		return err
	}
	a.Status = AlertStatusActive
	return nil
}

func (m AlertModel) Get(ctx context.Context, id uuid.UUID) (*Alert, error) {
	query := `
		SELECT id, originator_id, originator_name, originator_email, location, description,
		       status, notified_ids, duration_minutes, device_info, network_info, extended_recording,
		       created_at, expires_at, resolved_at, resolved_by, auto_resolved
		FROM alerts
		WHERE id = $1`

	var a Alert
	var resolvedAt sql.NullTime
	var resolvedBy sql.NullString

	err := m.DB.QueryRowContext(ctx, query, id).Scan(
		&a.ID, &a.OriginatorID, &a.OriginatorName, &a.OriginatorEmail, &a.Location, &a.Description,
		&a.Status, pq.Array(&a.NotifiedIDs), &a.DurationMinutes, &a.DeviceInfo, &a.NetworkInfo, &a.ExtendedRecording,
		&a.CreatedAt, &a.ExpiresAt, &resolvedAt, &resolvedBy, &a.AutoResolved,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	if resolvedAt.Valid {
		a.ResolvedAt = &resolvedAt.Time
	}
	if resolvedBy.Valid {
		a.ResolvedBy = resolvedBy.String
	}

	acks, err := m.listAcks(ctx, id)
	if err != nil {
		return nil, err
	}
	a.AcknowledgedIDs = acks
	return &a, nil
}

func (m AlertModel) listAcks(ctx context.Context, id uuid.UUID) ([]string, error) {
	query := `
		SELECT identity FROM alert_acks
		WHERE alert_id = $1
		ORDER BY acked_at`

	rows, err := m.DB.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var acks []string
	for rows.Next() {
		var identity string
		if err := rows.Scan(&identity); err != nil {
			return nil, err
		}
		acks = append(acks, identity)
	}
	return acks, rows.Err()
}

// Terminate moves an active alert into a terminal status. The WHERE clause on
// status='active' is the CAS guard: exactly one of N racing callers gets
// applied=true, the rest see applied=false and must treat the alert as
// already terminal.
func (m AlertModel) Terminate(ctx context.Context, id uuid.UUID, to AlertStatus, actor string, auto bool) (applied bool, err error) {
	query := `
		UPDATE alerts
		SET status = $2, resolved_at = NOW(), resolved_by = $3, auto_resolved = $4
		WHERE id = $1 AND status = 'active'`

	res, err := m.DB.ExecContext(ctx, query, id, to, actor, auto)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Acknowledge records a confirmation. ON CONFLICT DO NOTHING makes the
// set-union atomic and idempotent; a repeat ack is a no-op, never an error.
func (m AlertModel) Acknowledge(ctx context.Context, id uuid.UUID, identity string) error {
	query := `
		INSERT INTO alert_acks (alert_id, identity, acked_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (alert_id, identity) DO NOTHING`

	_, err := m.DB.ExecContext(ctx, query, id, identity)
	return err
}

// ListExpiredActive returns ids of active alerts whose window has elapsed,
// judged by the database clock.
func (m AlertModel) ListExpiredActive(ctx context.Context, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT id FROM alerts
		WHERE status = 'active' AND expires_at <= NOW()
		ORDER BY expires_at
		LIMIT $1`

	rows, err := m.DB.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListByStatus is a read-only accessor for the surrounding application
// (listings, reports). Acks are not joined in; use Get for the full record.
func (m AlertModel) ListByStatus(ctx context.Context, status AlertStatus, limit int) ([]Alert, error) {
	query := `
		SELECT id, originator_id, originator_name, location, description,
		       status, notified_ids, duration_minutes, created_at, expires_at, auto_resolved
		FROM alerts
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := m.DB.QueryContext(ctx, query, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		var a Alert
		if err := rows.Scan(
			&a.ID, &a.OriginatorID, &a.OriginatorName, &a.Location, &a.Description,
			&a.Status, pq.Array(&a.NotifiedIDs), &a.DurationMinutes, &a.CreatedAt, &a.ExpiresAt, &a.AutoResolved,
		); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
