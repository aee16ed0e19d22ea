package dispatch

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/technosupport/ts-guardian/internal/data"
)

const feedBatchSize = 100

// EventLister tails the durable change log.
type EventLister interface {
	ListAfter(ctx context.Context, alertID uuid.UUID, afterSeq int64, limit int) ([]data.AlertEvent, error)
}

// Feed is the change-subscription side of the Alert Store contract,
// implemented by polling the append-only event log. Delivery is at-least-once
// and restartable from any seq (0 replays everything); consumers dedup on
// (alertID, eventID).
type Feed struct {
	events       EventLister
	pollInterval time.Duration
}

func NewFeed(events EventLister, pollInterval time.Duration) *Feed {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Feed{events: events, pollInterval: pollInterval}
}

// Tail streams events for one alert into out until ctx is cancelled.
// Transient store errors back off one poll interval and retry; the cursor
// only advances past events that were delivered.
func (f *Feed) Tail(ctx context.Context, alertID uuid.UUID, fromSeq int64, out chan<- *data.AlertEvent) {
	cursor := fromSeq
	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		batch, err := f.events.ListAfter(ctx, alertID, cursor, feedBatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Feed: list failed for %s: %v", alertID, err)
			batch = nil
		}

		for i := range batch {
			select {
			case out <- &batch[i]:
				cursor = batch[i].Seq
			case <-ctx.Done():
				return
			}
		}

		// A full batch means the log is probably ahead of us; poll again
		// immediately instead of waiting a tick.
		if len(batch) == feedBatchSize {
			continue
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}
