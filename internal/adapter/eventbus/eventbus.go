// Package eventbus implements the eventbus.Publisher port using NATS
// JetStream, grounded on internal/adapter/nats.Queue's publish path but
// trimmed to publish-only: nothing in this module consumes
// verifications.>, scan.progress, or candidates.>, those subjects exist for
// external observers (dashboards, other scanner processes), so no
// consumer/DLQ machinery is needed here.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/CodeForge/internal/resilience"
)

const streamName = "SCANNER_EVENTS"

// Bus publishes verification outcomes, scan progress, and (optionally)
// discovered candidates onto a shared NATS JetStream stream.
type Bus struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	breaker *resilience.Breaker
}

// Connect establishes a connection to NATS and ensures the event stream
// exists, covering the three subject hierarchies named in §4's domain
// stack: verifications.>, scan.progress, candidates.>.
func Connect(ctx context.Context, url string) (*Bus, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("eventbus connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("eventbus jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{"verifications.>", "scan.progress", "candidates.>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("eventbus stream create: %w", err)
	}

	slog.Info("eventbus connected", "url", url, "stream", streamName)
	return &Bus{nc: nc, js: js}, nil
}

// SetBreaker attaches a circuit breaker to the publish path.
func (b *Bus) SetBreaker(breaker *resilience.Breaker) {
	b.breaker = breaker
}

// Publish sends data to subject, breaking through resilience.Breaker when
// one is attached.
func (b *Bus) Publish(ctx context.Context, subject string, data []byte) error {
	publish := func() error {
		_, err := b.js.Publish(ctx, subject, data)
		if err != nil {
			return fmt.Errorf("eventbus publish %s: %w", subject, err)
		}
		return nil
	}

	if b.breaker != nil {
		return b.breaker.Execute(publish)
	}
	return publish()
}

// Close shuts down the NATS connection.
func (b *Bus) Close() error {
	b.nc.Close()
	return nil
}
