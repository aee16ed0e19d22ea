package siren

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// ControlMessage is the hand-off to the external alarm/notification
// collaborator. Delivery mechanics past this point are its problem.
type ControlMessage struct {
	AlertID  uuid.UUID `json:"alert_id"`
	Identity string    `json:"identity"`
	Action   string    `json:"action"` // "start" | "stop"
}

// NATSController publishes siren control messages on a per-identity subject.
type NATSController struct {
	conn          *nats.Conn
	subjectPrefix string
}

func NewNATSController(conn *nats.Conn, subjectPrefix string) *NATSController {
	return &NATSController{conn: conn, subjectPrefix: subjectPrefix}
}

func (c *NATSController) Start(ctx context.Context, alertID uuid.UUID, identity string) error {
	return c.publish(alertID, identity, "start")
}

func (c *NATSController) Stop(ctx context.Context, alertID uuid.UUID, identity string) error {
	return c.publish(alertID, identity, "stop")
}

func (c *NATSController) publish(alertID uuid.UUID, identity, action string) error {
	payload, err := json.Marshal(ControlMessage{AlertID: alertID, Identity: identity, Action: action})
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("%s.%s", c.subjectPrefix, identity)
	return c.conn.Publish(subject, payload)
}

// Noop stands in when no collaborator is configured (tests, dev without NATS).
type Noop struct{}

func (Noop) Start(ctx context.Context, alertID uuid.UUID, identity string) error { return nil }
func (Noop) Stop(ctx context.Context, alertID uuid.UUID, identity string) error  { return nil }
