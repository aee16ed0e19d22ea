package alerts

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/technosupport/ts-guardian/internal/data"
	"github.com/technosupport/ts-guardian/internal/metrics"
)

const systemActor = "system"

// AlertRepository is the durable store contract consumed by the engine.
// Terminate must be a single conditional update at the store (no
// read-then-write), see data.AlertModel.
type AlertRepository interface {
	Insert(ctx context.Context, a *data.Alert) error
	Get(ctx context.Context, id uuid.UUID) (*data.Alert, error)
	Terminate(ctx context.Context, id uuid.UUID, to data.AlertStatus, actor string, auto bool) (bool, error)
	Acknowledge(ctx context.Context, id uuid.UUID, identity string) error
	ListExpiredActive(ctx context.Context, limit int) ([]uuid.UUID, error)
	ListByStatus(ctx context.Context, status data.AlertStatus, limit int) ([]data.Alert, error)
}

// Dispatcher fans a state-changing event out over both channels. The durable
// append inside it is the source of truth; its failure fails the operation.
type Dispatcher interface {
	Dispatch(ctx context.Context, alertID uuid.UUID, kind data.EventKind, payload any) (*data.AlertEvent, error)
}

// SirenController is the external alarm collaborator. Start/Stop failures are
// logged, never surfaced.
type SirenController interface {
	Start(ctx context.Context, alertID uuid.UUID, identity string) error
	Stop(ctx context.Context, alertID uuid.UUID, identity string) error
}

// MessageAppender writes system/emergency entries into the alert's chat log.
type MessageAppender interface {
	Insert(ctx context.Context, msg *data.ChatMessage) error
}

type CreateRequest struct {
	OriginatorID      string
	OriginatorName    string
	OriginatorEmail   string
	Location          string
	Description       string
	NotifiedIDs       []string
	DurationMinutes   int
	DeviceInfo        string
	NetworkInfo       string
	ExtendedRecording bool
}

type Service struct {
	repo       AlertRepository
	dispatcher Dispatcher
	sirens     SirenController
	messages   MessageAppender
}

func NewService(repo AlertRepository, d Dispatcher, sirens SirenController, messages MessageAppender) *Service {
	return &Service{
		repo:       repo,
		dispatcher: d,
		sirens:     sirens,
		messages:   messages,
	}
}

// Create raises a new alert. Timestamps come from the store clock: ExpiresAt
// is computed at write time, never from the caller's clock.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*data.Alert, error) {
	if req.OriginatorID == "" {
		return nil, fmt.Errorf("%w: missing originator", ErrInvalidInput)
	}
	notified := dedupeIdentities(req.NotifiedIDs)
	if len(notified) == 0 {
		return nil, fmt.Errorf("%w: notified set is empty", ErrInvalidInput)
	}
	if req.DurationMinutes < 1 {
		return nil, fmt.Errorf("%w: duration must be >= 1 minute", ErrInvalidInput)
	}

	a := &data.Alert{
		ID:                uuid.New(),
		OriginatorID:      req.OriginatorID,
		OriginatorName:    req.OriginatorName,
		OriginatorEmail:   req.OriginatorEmail,
		Location:          req.Location,
		Description:       req.Description,
		NotifiedIDs:       notified,
		DurationMinutes:   req.DurationMinutes,
		DeviceInfo:        req.DeviceInfo,
		NetworkInfo:       req.NetworkInfo,
		ExtendedRecording: req.ExtendedRecording,
	}

	if err := s.repo.Insert(ctx, a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if _, err := s.dispatcher.Dispatch(ctx, a.ID, data.EventAlertCreated, alertEventPayload(a)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.appendLogMessage(ctx, a, data.MessageKindEmergency, a.OriginatorID, a.OriginatorName,
		fmt.Sprintf("Emergency alert raised at %s", a.Location))

	// Siren start for everyone notified except the person who pressed the
	// button. Best-effort: the collaborator owns delivery.
	for _, identity := range a.NotifiedIDs {
		if identity == a.OriginatorID {
			continue
		}
		if err := s.sirens.Start(ctx, a.ID, identity); err != nil {
			log.Printf("Alerts: siren start failed for %s on %s: %v", identity, a.ID, err)
		}
	}

	metrics.AlertsCreated.Inc()
	metrics.AlertsActive.Inc()
	return a, nil
}

// Resolve closes an alert on behalf of a human actor. A second resolve is
// rejected with ErrAlreadyTerminal so a stale client cannot silently succeed.
func (s *Service) Resolve(ctx context.Context, id uuid.UUID, actorID string) error {
	if actorID == "" {
		return fmt.Errorf("%w: missing actor", ErrInvalidInput)
	}
	return s.terminate(ctx, id, data.AlertStatusResolved, actorID, false)
}

// Expire is invoked only by the sweeper. The caller swallows
// ErrAlreadyTerminal: losing the race to a human resolve is an acceptable
// terminal outcome.
func (s *Service) Expire(ctx context.Context, id uuid.UUID) error {
	return s.terminate(ctx, id, data.AlertStatusExpired, systemActor, true)
}

func (s *Service) terminate(ctx context.Context, id uuid.UUID, to data.AlertStatus, actor string, auto bool) error {
	applied, err := s.repo.Terminate(ctx, id, to, actor, auto)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !applied {
		// CAS miss: either the row is gone or someone got there first.
		if _, err := s.getAlert(ctx, id); err != nil {
			return err
		}
		return ErrAlreadyTerminal
	}

	a, err := s.getAlert(ctx, id)
	if err != nil {
		return err
	}

	kind := data.EventAlertResolved
	if to == data.AlertStatusExpired {
		kind = data.EventAlertExpired
	}
	if _, err := s.dispatcher.Dispatch(ctx, id, kind, alertEventPayload(a)); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	body := fmt.Sprintf("Alert resolved by %s", actor)
	if auto {
		body = "Alert expired automatically"
	}
	s.appendLogMessage(ctx, a, data.MessageKindSystem, systemActor, "System", body)

	// Any outstanding siren must be told to stop.
	for _, identity := range a.NotifiedIDs {
		if err := s.sirens.Stop(ctx, id, identity); err != nil {
			log.Printf("Alerts: siren stop failed for %s on %s: %v", identity, id, err)
		}
	}

	if auto {
		metrics.AlertsExpired.Inc()
	} else {
		metrics.AlertsResolved.Inc()
	}
	metrics.AlertsActive.Dec()
	return nil
}

// Acknowledge records a confirmation of receipt. Idempotent: a repeat ack is
// a no-op. Acks after a terminal transition are still recorded for the audit
// trail, so no terminal guard here.
func (s *Service) Acknowledge(ctx context.Context, id uuid.UUID, identity string) error {
	a, err := s.getAlert(ctx, id)
	if err != nil {
		return err
	}
	if !containsIdentity(a.NotifiedIDs, identity) {
		return fmt.Errorf("%w: %s", ErrNotEligible, identity)
	}

	if err := s.repo.Acknowledge(ctx, id, identity); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if _, err := s.dispatcher.Dispatch(ctx, id, data.EventAcknowledged, map[string]string{"identity": identity}); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := s.sirens.Stop(ctx, id, identity); err != nil {
		log.Printf("Alerts: siren stop failed for %s on %s: %v", identity, id, err)
	}

	metrics.Acknowledgments.Inc()
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*data.Alert, error) {
	return s.getAlert(ctx, id)
}

func (s *Service) List(ctx context.Context, status data.AlertStatus, limit int) ([]data.Alert, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	out, err := s.repo.ListByStatus(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out, nil
}

// ListExpiredCandidates feeds the sweeper.
func (s *Service) ListExpiredCandidates(ctx context.Context, limit int) ([]uuid.UUID, error) {
	ids, err := s.repo.ListExpiredActive(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ids, nil
}

// ConfirmationRate reports acknowledged/notified for one alert.
func ConfirmationRate(a *data.Alert) float64 {
	if len(a.NotifiedIDs) == 0 {
		return 0
	}
	return float64(len(a.AcknowledgedIDs)) / float64(len(a.NotifiedIDs))
}

func (s *Service) getAlert(ctx context.Context, id uuid.UUID) (*data.Alert, error) {
	a, err := s.repo.Get(ctx, id)
	if err == data.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return a, nil
}

func (s *Service) appendLogMessage(ctx context.Context, a *data.Alert, kind data.MessageKind, authorID, authorName, body string) {
	msg := &data.ChatMessage{
		AlertID:    a.ID,
		AuthorID:   authorID,
		AuthorName: authorName,
		Body:       body,
		Kind:       kind,
	}
	if err := s.messages.Insert(ctx, msg); err != nil {
		// Log entry is decoration on top of the event log; don't fail the op.
		log.Printf("Alerts: %s log message failed for %s: %v", kind, a.ID, err)
	}
}

func containsIdentity(ids []string, identity string) bool {
	for _, id := range ids {
		if id == identity {
			return true
		}
	}
	return false
}

func dedupeIdentities(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func alertEventPayload(a *data.Alert) map[string]any {
	return map[string]any{
		"status":        a.Status,
		"originator_id": a.OriginatorID,
		"location":      a.Location,
		"expires_at":    a.ExpiresAt,
		"auto_resolved": a.AutoResolved,
		"resolved_by":   a.ResolvedBy,
	}
}
