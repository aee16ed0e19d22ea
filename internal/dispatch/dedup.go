package dispatch

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// EventDedup filters the second copy of an event that arrives over both the
// transient channel and the durable change feed. Keyed by (alertID, eventID).
type EventDedup struct {
	cache *lru.Cache[string, time.Time]
	ttl   time.Duration
}

func NewEventDedup(maxKeys int, ttl time.Duration) *EventDedup {
	c, _ := lru.New[string, time.Time](maxKeys)
	return &EventDedup{cache: c, ttl: ttl}
}

func (d *EventDedup) IsDuplicate(alertID, eventID uuid.UUID) bool {
	key := fmt.Sprintf("%s|%s", alertID, eventID)
	if addedAt, ok := d.cache.Get(key); ok {
		if time.Since(addedAt) < d.ttl {
			return true
		}
	}
	d.cache.Add(key, time.Now())
	return false
}
