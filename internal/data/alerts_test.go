package data

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertModel_Insert_ServerAssignedTimestamps(t *testing.T) {
	db, mockDB, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := AlertModel{DB: db}
	created := time.Now().UTC()
	expires := created.Add(5 * time.Minute)

	a := &Alert{
		OriginatorID:    "origin",
		NotifiedIDs:     []string{"x", "y"},
		DurationMinutes: 5,
	}

	mockDB.ExpectQuery("INSERT INTO alerts").
		WithArgs(sqlmock.AnyArg(), "origin", "", "", "", "",
			pq.Array(a.NotifiedIDs), 5, "", "", false).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "expires_at"}).AddRow(created, expires))

	require.NoError(t, m.Insert(context.Background(), a))
	assert.Equal(t, AlertStatusActive, a.Status)
	assert.Equal(t, created, a.CreatedAt)
	assert.Equal(t, expires, a.ExpiresAt)
	assert.NotEqual(t, uuid.Nil, a.ID)
	assert.NoError(t, mockDB.ExpectationsWereMet())
}

func TestAlertModel_Terminate_CAS(t *testing.T) {
	db, mockDB, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := AlertModel{DB: db}
	id := uuid.New()

	// Winner: one row updated.
	mockDB.ExpectExec("UPDATE alerts").
		WithArgs(id, AlertStatusResolved, "actor", false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	applied, err := m.Terminate(context.Background(), id, AlertStatusResolved, "actor", false)
	require.NoError(t, err)
	assert.True(t, applied)

	// Loser: the status guard matches nothing.
	mockDB.ExpectExec("UPDATE alerts").
		WithArgs(id, AlertStatusExpired, "system", true).
		WillReturnResult(sqlmock.NewResult(0, 0))

	applied, err = m.Terminate(context.Background(), id, AlertStatusExpired, "system", true)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.NoError(t, mockDB.ExpectationsWereMet())
}

func TestAlertModel_Acknowledge_UpsertOnConflict(t *testing.T) {
	db, mockDB, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := AlertModel{DB: db}
	id := uuid.New()

	// First ack inserts, second hits ON CONFLICT DO NOTHING; both succeed.
	mockDB.ExpectExec("INSERT INTO alert_acks").
		WithArgs(id, "x").WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectExec("INSERT INTO alert_acks").
		WithArgs(id, "x").WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, m.Acknowledge(context.Background(), id, "x"))
	assert.NoError(t, m.Acknowledge(context.Background(), id, "x"))
	assert.NoError(t, mockDB.ExpectationsWereMet())
}

func TestAlertModel_Get_NotFound(t *testing.T) {
	db, mockDB, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := AlertModel{DB: db}
	id := uuid.New()

	mockDB.ExpectQuery("SELECT (.+) FROM alerts").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = m.Get(context.Background(), id)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestAlertModel_ListExpiredActive(t *testing.T) {
	db, mockDB, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := AlertModel{DB: db}
	a, b := uuid.New(), uuid.New()

	mockDB.ExpectQuery("SELECT id FROM alerts").
		WithArgs(200).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(a).AddRow(b))

	ids, err := m.ListExpiredActive(context.Background(), 200)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a, b}, ids)
}

func TestEventModel_Append_AssignsEventID(t *testing.T) {
	db, mockDB, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := EventModel{DB: db}
	created := time.Now().UTC()

	ev := &AlertEvent{AlertID: uuid.New(), Kind: EventAcknowledged}

	mockDB.ExpectQuery("INSERT INTO alert_events").
		WithArgs(sqlmock.AnyArg(), ev.AlertID, EventAcknowledged, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"seq", "created_at"}).AddRow(int64(7), created))

	require.NoError(t, m.Append(context.Background(), ev))
	assert.NotEqual(t, uuid.Nil, ev.EventID)
	assert.Equal(t, int64(7), ev.Seq)
	assert.Equal(t, created, ev.CreatedAt)
}
