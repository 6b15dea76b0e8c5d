package notification

import (
	"context"
	"encoding/json"
	"fmt"
)

// DefaultSubject is the NATS subject balance changes are published on.
const DefaultSubject = "cards.balance.changed"

// Publisher is the subset of *nats.Conn used by NATSNotifier.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes balance changes as JSON on a NATS subject.
type NATSNotifier struct {
	conn    Publisher
	subject string
}

// NewNATSNotifier builds a notifier on top of an established NATS connection.
func NewNATSNotifier(conn Publisher, subject string) *NATSNotifier {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSNotifier{conn: conn, subject: subject}
}

// Send publishes the message. Publish on a NATS connection is buffered, so a
// nil error only means the message was accepted by the client.
func (n *NATSNotifier) Send(_ context.Context, message Message) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := n.conn.Publish(n.subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", n.subject, err)
	}
	return nil
}
