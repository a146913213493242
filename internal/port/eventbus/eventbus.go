// Package eventbus defines the port for publishing durable events onto a
// message bus, distinct from broadcast.Broadcaster's in-process fan-out to
// connected WebSocket clients: eventbus is for external consumers that may
// not be online at publish time.
package eventbus

import "context"

// Publisher publishes a message onto a subject. Implementations should
// treat subject as an opaque routing key (e.g. NATS subject hierarchies).
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}
