// Package discoverysource defines the Discovery Source port (C5): a
// pluggable lazy producer of Candidate values.
package discoverysource

import (
	"context"
	"iter"

	"github.com/Strob0t/CodeForge/internal/domain/discovery"
)

// Source produces a lazy sequence of candidates. One query's failure must
// not terminate the source; the yielded error is reported to the caller
// (typically logged) and iteration continues with the next result.
type Source interface {
	Name() string
	Candidates(ctx context.Context) iter.Seq2[discovery.Candidate, error]
}
