package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/technosupport/ts-guardian/internal/alerts"
	"github.com/technosupport/ts-guardian/internal/chat"
	"github.com/technosupport/ts-guardian/internal/data"
	"github.com/technosupport/ts-guardian/internal/middleware"
)

// memAlertRepo mimics the Postgres model's semantics in memory, including the
// conditional terminal update and the idempotent ack union.
type memAlertRepo struct {
	mu     sync.Mutex
	alerts map[uuid.UUID]*data.Alert
}

func newMemAlertRepo() *memAlertRepo {
	return &memAlertRepo{alerts: make(map[uuid.UUID]*data.Alert)}
}

func (r *memAlertRepo) Insert(ctx context.Context, a *data.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a.Status = data.AlertStatusActive
	a.CreatedAt = time.Now()
	a.ExpiresAt = a.CreatedAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
	cp := *a
	r.alerts[a.ID] = &cp
	return nil
}

func (r *memAlertRepo) Get(ctx context.Context, id uuid.UUID) (*data.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memAlertRepo) Terminate(ctx context.Context, id uuid.UUID, to data.AlertStatus, actor string, auto bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok || a.Status != data.AlertStatusActive {
		return false, nil
	}
	now := time.Now()
	a.Status = to
	a.ResolvedAt = &now
	a.ResolvedBy = actor
	a.AutoResolved = auto
	return true, nil
}

func (r *memAlertRepo) Acknowledge(ctx context.Context, id uuid.UUID, identity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok {
		return nil
	}
	for _, existing := range a.AcknowledgedIDs {
		if existing == identity {
			return nil
		}
	}
	a.AcknowledgedIDs = append(a.AcknowledgedIDs, identity)
	return nil
}

func (r *memAlertRepo) ListExpiredActive(ctx context.Context, limit int) ([]uuid.UUID, error) {
	return nil, nil
}

func (r *memAlertRepo) ListByStatus(ctx context.Context, status data.AlertStatus, limit int) ([]data.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []data.Alert
	for _, a := range r.alerts {
		if a.Status == status && len(out) < limit {
			out = append(out, *a)
		}
	}
	return out, nil
}

type memMessageRepo struct {
	mu   sync.Mutex
	msgs []data.ChatMessage
	seq  int64
}

func (r *memMessageRepo) Insert(ctx context.Context, msg *data.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	msg.ID = uuid.New()
	msg.Seq = r.seq
	msg.CreatedAt = time.Now()
	r.msgs = append(r.msgs, *msg)
	return nil
}

func (r *memMessageRepo) ListAfter(ctx context.Context, alertID uuid.UUID, afterSeq int64, limit int) ([]data.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []data.ChatMessage
	for _, m := range r.msgs {
		if m.AlertID == alertID && m.Seq > afterSeq && len(out) < limit {
			out = append(out, m)
		}
	}
	return out, nil
}

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(ctx context.Context, alertID uuid.UUID, kind data.EventKind, payload any) (*data.AlertEvent, error) {
	return &data.AlertEvent{EventID: uuid.New(), AlertID: alertID, Kind: kind}, nil
}

type nopSirens struct{}

func (nopSirens) Start(ctx context.Context, alertID uuid.UUID, identity string) error { return nil }
func (nopSirens) Stop(ctx context.Context, alertID uuid.UUID, identity string) error  { return nil }

func testAuth(userID, name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := middleware.WithAuthContext(r.Context(), &middleware.AuthContext{
				UserID: userID,
				Name:   name,
				Email:  userID + "@example.com",
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newTestRouter(userID string) (*chi.Mux, *memAlertRepo) {
	repo := newMemAlertRepo()
	msgs := &memMessageRepo{}
	svc := alerts.NewService(repo, nopDispatcher{}, nopSirens{}, msgs)
	chatSvc := chat.NewService(msgs, svc, nopDispatcher{}, 0, 10*time.Millisecond)

	ah := NewAlertHandler(svc)
	ch := NewChatHandler(chatSvc)

	r := chi.NewRouter()
	r.Route("/api/v1/alerts", func(r chi.Router) {
		r.Use(testAuth(userID, "Test User"))
		r.Post("/", ah.Create)
		r.Get("/", ah.List)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", ah.Get)
			r.Post("/resolve", ah.Resolve)
			r.Post("/ack", ah.Acknowledge)
			r.Post("/messages", ch.Post)
			r.Get("/messages", ch.History)
		})
	})
	return r, repo
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func createAlert(t *testing.T, router http.Handler, notified []string) uuid.UUID {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/v1/alerts", map[string]any{
		"location":         "12 Elm St",
		"description":      "intruder at the back door",
		"notified_ids":     notified,
		"duration_minutes": 30,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		ID uuid.UUID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.ID
}

func TestCreateAlert(t *testing.T) {
	router, _ := newTestRouter("originator")

	rec := doJSON(t, router, http.MethodPost, "/api/v1/alerts", map[string]any{
		"location":         "12 Elm St",
		"notified_ids":     []string{"neighbor-1", "neighbor-2"},
		"duration_minutes": 30,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		ID               uuid.UUID `json:"id"`
		Status           string    `json:"status"`
		OriginatorID     string    `json:"originator_id"`
		ConfirmationRate float64   `json:"confirmation_rate"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEqual(t, uuid.Nil, resp.ID)
	assert.Equal(t, "active", resp.Status)
	assert.Equal(t, "originator", resp.OriginatorID)
	assert.Zero(t, resp.ConfirmationRate)
}

func TestCreateAlert_EmptyNotifiedSet(t *testing.T) {
	router, _ := newTestRouter("originator")

	rec := doJSON(t, router, http.MethodPost, "/api/v1/alerts", map[string]any{
		"location":         "12 Elm St",
		"notified_ids":     []string{"  "},
		"duration_minutes": 30,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAlert_NotFound(t *testing.T) {
	router, _ := newTestRouter("originator")

	rec := doJSON(t, router, http.MethodGet, "/api/v1/alerts/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/alerts/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolveAlert_SecondResolveConflicts(t *testing.T) {
	router, _ := newTestRouter("originator")
	id := createAlert(t, router, []string{"neighbor-1"})

	rec := doJSON(t, router, http.MethodPost, "/api/v1/alerts/"+id.String()+"/resolve", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/alerts/"+id.String()+"/resolve", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAcknowledge(t *testing.T) {
	originRouter, repo := newTestRouter("originator")
	id := createAlert(t, originRouter, []string{"neighbor-1"})

	// Same store behind a router authenticated as the notified neighbor.
	svc := alerts.NewService(repo, nopDispatcher{}, nopSirens{}, &memMessageRepo{})
	ah := NewAlertHandler(svc)
	neighborRouter := chi.NewRouter()
	neighborRouter.With(testAuth("neighbor-1", "Neighbor")).
		Post("/api/v1/alerts/{id}/ack", ah.Acknowledge)
	strangerRouter := chi.NewRouter()
	strangerRouter.With(testAuth("stranger", "Stranger")).
		Post("/api/v1/alerts/{id}/ack", ah.Acknowledge)

	rec := doJSON(t, strangerRouter, http.MethodPost, "/api/v1/alerts/"+id.String()+"/ack", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, neighborRouter, http.MethodPost, "/api/v1/alerts/"+id.String()+"/ack", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Repeat ack is idempotent at the HTTP surface too.
	rec = doJSON(t, neighborRouter, http.MethodPost, "/api/v1/alerts/"+id.String()+"/ack", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, originRouter, http.MethodGet, "/api/v1/alerts/"+id.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		AcknowledgedIDs  []string `json:"acknowledged_ids"`
		ConfirmationRate float64  `json:"confirmation_rate"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"neighbor-1"}, resp.AcknowledgedIDs)
	assert.Equal(t, 1.0, resp.ConfirmationRate)
}

func TestListAlerts(t *testing.T) {
	router, _ := newTestRouter("originator")
	createAlert(t, router, []string{"neighbor-1"})
	id := createAlert(t, router, []string{"neighbor-1"})

	rec := doJSON(t, router, http.MethodPost, "/api/v1/alerts/"+id.String()+"/resolve", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/alerts?status=active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Alerts []data.Alert `json:"alerts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Alerts, 1)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/alerts?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatRoundtrip(t *testing.T) {
	router, _ := newTestRouter("originator")
	id := createAlert(t, router, []string{"neighbor-1"})

	rec := doJSON(t, router, http.MethodPost, "/api/v1/alerts/"+id.String()+"/messages",
		map[string]string{"body": "police are on the way"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodGet, "/api/v1/alerts/"+id.String()+"/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []data.ChatMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	// The emergency system entry from creation precedes the posted message.
	require.NotEmpty(t, resp.Messages)
	last := resp.Messages[len(resp.Messages)-1]
	assert.Equal(t, "police are on the way", last.Body)
	assert.Equal(t, data.MessageKindChat, last.Kind)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/alerts/"+id.String()+"/messages",
		map[string]string{"body": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMissingAuthContext(t *testing.T) {
	repo := newMemAlertRepo()
	svc := alerts.NewService(repo, nopDispatcher{}, nopSirens{}, &memMessageRepo{})
	ah := NewAlertHandler(svc)

	r := chi.NewRouter()
	r.Post("/api/v1/alerts", ah.Create)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/alerts", map[string]any{})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
