// Package probe defines the Probe Client port (C2): a single-endpoint HTTP
// probe over tags, generate, and optional diagnostics.
package probe

import (
	"context"

	"github.com/Strob0t/CodeForge/internal/domain/verification"
)

// Client performs the ordered probe sequence of §4.2 against one (ip, port).
// Implementations must be stateless and pure with respect to the Catalog
// Store: a Client never touches the database.
type Client interface {
	Probe(ctx context.Context, ip string, port int) verification.ProbeResult
}
