package chat

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/technosupport/ts-guardian/internal/alerts"
	"github.com/technosupport/ts-guardian/internal/data"
	"github.com/technosupport/ts-guardian/internal/metrics"
)

const (
	subscribeBatchSize  = 100
	defaultMaxBodyBytes = 4096
)

// MessageRepository is the durable chat log.
type MessageRepository interface {
	Insert(ctx context.Context, msg *data.ChatMessage) error
	ListAfter(ctx context.Context, alertID uuid.UUID, afterSeq int64, limit int) ([]data.ChatMessage, error)
}

// AlertGetter validates that the target alert exists. No terminal guard:
// messages after resolution are allowed for post-incident debrief.
type AlertGetter interface {
	Get(ctx context.Context, id uuid.UUID) (*data.Alert, error)
}

type Service struct {
	repo         MessageRepository
	alerts       AlertGetter
	dispatcher   alerts.Dispatcher
	maxBodyBytes int
	pollInterval time.Duration
}

func NewService(repo MessageRepository, ag AlertGetter, d alerts.Dispatcher, maxBodyBytes int, pollInterval time.Duration) *Service {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Service{
		repo:         repo,
		alerts:       ag,
		dispatcher:   d,
		maxBodyBytes: maxBodyBytes,
		pollInterval: pollInterval,
	}
}

// Post appends a message to the alert's log and dispatches it over both
// channels. The timestamp and tie-break sequence are store-assigned.
func (s *Service) Post(ctx context.Context, alertID uuid.UUID, authorID, authorName, body string) (*data.ChatMessage, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("%w: empty message body", alerts.ErrInvalidInput)
	}
	if len(body) > s.maxBodyBytes {
		return nil, fmt.Errorf("%w: message body too large", alerts.ErrInvalidInput)
	}
	if authorID == "" {
		return nil, fmt.Errorf("%w: missing author", alerts.ErrInvalidInput)
	}

	if _, err := s.alerts.Get(ctx, alertID); err != nil {
		return nil, err
	}

	msg := &data.ChatMessage{
		AlertID:    alertID,
		AuthorID:   authorID,
		AuthorName: authorName,
		Body:       body,
		Kind:       data.MessageKindChat,
	}
	if err := s.repo.Insert(ctx, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", alerts.ErrUnavailable, err)
	}

	if _, err := s.dispatcher.Dispatch(ctx, alertID, data.EventChatMessage, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", alerts.ErrUnavailable, err)
	}

	metrics.ChatMessages.Inc()
	return msg, nil
}

// History is the restartable read model: everything after afterSeq in
// (created_at, seq) order. afterSeq=0 replays from the beginning.
func (s *Service) History(ctx context.Context, alertID uuid.UUID, afterSeq int64, limit int) ([]data.ChatMessage, error) {
	if limit <= 0 || limit > 500 {
		limit = subscribeBatchSize
	}
	msgs, err := s.repo.ListAfter(ctx, alertID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", alerts.ErrUnavailable, err)
	}
	return msgs, nil
}

// Subscribe streams the alert's message log, live, in order, until ctx is
// cancelled. It reads only the durable log, so the sequence is identical no
// matter which channel delivered a message to the writer first, and a
// restarted subscriber can always replay from the beginning.
func (s *Service) Subscribe(ctx context.Context, alertID uuid.UUID) (<-chan data.ChatMessage, error) {
	if _, err := s.alerts.Get(ctx, alertID); err != nil {
		return nil, err
	}

	out := make(chan data.ChatMessage, subscribeBatchSize)
	go func() {
		defer close(out)

		var cursor int64
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			batch, err := s.repo.ListAfter(ctx, alertID, cursor, subscribeBatchSize)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("Chat: subscribe list failed for %s: %v", alertID, err)
				batch = nil
			}

			for _, msg := range batch {
				select {
				case out <- msg:
					cursor = msg.Seq
				case <-ctx.Done():
					return
				}
			}

			if len(batch) == subscribeBatchSize {
				continue
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
