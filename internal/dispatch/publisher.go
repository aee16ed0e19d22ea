package dispatch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/technosupport/ts-guardian/internal/data"
)

// Publisher is the transient channel contract: best-effort, no delivery or
// ordering guarantee.
type Publisher interface {
	Publish(ev *data.AlertEvent) error
}

// Subscriber hands back a live event stream for one alert's topic.
type Subscriber interface {
	Subscribe(alertID uuid.UUID, out chan<- *data.AlertEvent) (func(), error)
}

type NATSChannel struct {
	conn          *nats.Conn
	subjectPrefix string
	maxRetries    int
}

func NewNATSChannel(conn *nats.Conn, subjectPrefix string, maxRetries int) *NATSChannel {
	return &NATSChannel{
		conn:          conn,
		subjectPrefix: subjectPrefix,
		maxRetries:    maxRetries,
	}
}

func (c *NATSChannel) subject(alertID uuid.UUID) string {
	return fmt.Sprintf("%s.%s", c.subjectPrefix, alertID)
}

// Publish retries a few times with linear backoff, then gives up. Callers
// never treat this error as fatal; the durable change feed is the fallback
// delivery path.
func (c *NATSChannel) Publish(ev *data.AlertEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	subject := c.subject(ev.AlertID)
	for i := 0; i <= c.maxRetries; i++ {
		err = c.conn.Publish(subject, payload)
		if err == nil {
			return nil
		}
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}

	return fmt.Errorf("publish failed after %d retries: %w", c.maxRetries, err)
}

// Subscribe feeds decoded events into out until the returned cancel func is
// called. Undecodable payloads are dropped silently; the durable feed still
// carries them.
func (c *NATSChannel) Subscribe(alertID uuid.UUID, out chan<- *data.AlertEvent) (func(), error) {
	sub, err := c.conn.Subscribe(c.subject(alertID), func(msg *nats.Msg) {
		var ev data.AlertEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return
		}
		select {
		case out <- &ev:
		default:
			// Consumer is slow; drop. The durable feed redelivers.
		}
	})
	if err != nil {
		return nil, err
	}
	return func() { _ = sub.Unsubscribe() }, nil
}
