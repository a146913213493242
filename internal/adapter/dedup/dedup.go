// Package dedup implements the Scan Controller's cross-process Dedup port
// on top of Redis SETNX, mirroring internal/adapter/natskv.Cache's thin
// wrap-a-client-in-a-port shape.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// defaultTTL bounds how long a (ip,port) pair is remembered as seen; a scan
// run that takes longer than this will re-probe a candidate, which is
// harmless since verification is idempotent.
const defaultTTL = 6 * time.Hour

const keyPrefix = "codeforge:scan:seen:"

// Dedup marks (ip,port) pairs as seen across concurrent scanner processes
// sharing one Redis instance.
type Dedup struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a Redis-backed Dedup. client must already be connected.
func New(client *redis.Client) *Dedup {
	return &Dedup{client: client, ttl: defaultTTL}
}

// SeenOrMark atomically marks (ip,port) as seen and reports whether it had
// already been marked, using SETNX so two scanners racing on the same
// candidate never both win.
func (d *Dedup) SeenOrMark(ctx context.Context, ip string, port int) bool {
	key := fmt.Sprintf("%s%s:%d", keyPrefix, ip, port)
	ok, err := d.client.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		// On a Redis outage, fail open: treat as unseen so the scan still
		// makes progress rather than silently skipping every candidate.
		return false
	}
	return !ok
}

// InProcess is the in-process fallback used when no Redis URL is
// configured (§4.6: cross-process dedup is optional). It is safe for
// concurrent use by the Scan Controller's worker pool.
type InProcess struct {
	mu   chan struct{}
	seen map[string]struct{}
}

// NewInProcess creates an in-memory Dedup with no cross-process visibility.
func NewInProcess() *InProcess {
	return &InProcess{mu: make(chan struct{}, 1), seen: make(map[string]struct{})}
}

// SeenOrMark marks (ip,port) as seen within this process only.
func (d *InProcess) SeenOrMark(_ context.Context, ip string, port int) bool {
	d.mu <- struct{}{}
	defer func() { <-d.mu }()

	key := fmt.Sprintf("%s:%d", ip, port)
	if _, ok := d.seen[key]; ok {
		return true
	}
	d.seen[key] = struct{}{}
	return false
}
