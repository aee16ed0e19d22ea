package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/technosupport/ts-guardian/internal/data"
	"github.com/technosupport/ts-guardian/internal/metrics"
)

// EventAppender is the durable leg: the append must succeed or the whole
// operation fails.
type EventAppender interface {
	Append(ctx context.Context, ev *data.AlertEvent) error
}

// Dispatcher implements dual-channel delivery. Every mutating event is
// written durably first (assigning event_id and seq), then pushed over the
// transient channel for connected viewers. The transient leg is best-effort:
// its failure is logged and swallowed because the durable feed redelivers.
type Dispatcher struct {
	events    EventAppender
	transient Publisher // nil when no transient channel is configured
}

func NewDispatcher(events EventAppender, transient Publisher) *Dispatcher {
	return &Dispatcher{events: events, transient: transient}
}

func (d *Dispatcher) Dispatch(ctx context.Context, alertID uuid.UUID, kind data.EventKind, payload any) (*data.AlertEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("dispatch: marshal payload: %w", err)
	}

	ev := &data.AlertEvent{
		AlertID: alertID,
		Kind:    kind,
		Payload: raw,
	}

	// 1. Durable write: source of truth.
	if err := d.events.Append(ctx, ev); err != nil {
		return nil, fmt.Errorf("dispatch: durable append: %w", err)
	}

	// 2. Transient push: best-effort.
	if d.transient != nil {
		if err := d.transient.Publish(ev); err != nil {
			log.Printf("Dispatch: transient publish dropped for %s (%s): %v", alertID, kind, err)
			metrics.PublishFailures.Inc()
		}
	}

	return ev, nil
}
