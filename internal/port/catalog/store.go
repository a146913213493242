// Package catalog defines the Catalog Store port (C1): the thin typed
// surface every other component uses to read and write the relational
// catalog. Implementations own transactions, pooling, and retry.
package catalog

import (
	"context"
	"time"

	"github.com/Strob0t/CodeForge/internal/domain/benchmark"
	"github.com/Strob0t/CodeForge/internal/domain/dispatch"
	"github.com/Strob0t/CodeForge/internal/domain/endpoint"
	"github.com/Strob0t/CodeForge/internal/domain/model"
	"github.com/Strob0t/CodeForge/internal/domain/verification"
)

// Stats is the aggregate view served by Query Service "statistics".
type Stats struct {
	ByAPIType          map[endpoint.APIType]int64
	TotalEndpoints     int64
	TotalVerified       int64
	TotalModels        int64
	TopModels          []ModelCount
	ParameterHistogram map[string]int64
	QuantizationHistogram map[string]int64
}

// ModelCount names a model and the number of endpoints hosting it.
type ModelCount struct {
	Name  string
	Count int64
}

// ModelListFilter narrows a Query Service model listing.
type ModelListFilter struct {
	NameContains string
	ParamSize    string
	Quantization string
	SortBy       string // "name", "params", "quant", "count"
}

// BenchmarkListFilter narrows a benchmark result history listing, grounded
// on ollama_benchmark.py's "query" subcommand (--model, --limit).
type BenchmarkListFilter struct {
	ModelNameContains string
	Limit             int
}

// HealthReport is the Query Service "database health" view.
type HealthReport struct {
	TableRowCounts  map[string]int64
	IndexScanCounts map[string]int64
	DatabaseSizeMB  float64
}

// EndpointDetail is the joined projection served by Query Service endpoint
// detail lookups.
type EndpointDetail struct {
	Endpoint        endpoint.Endpoint
	Verified        *endpoint.VerifiedEndpoint
	Models          []model.Model
	LatestBenchmark *benchmark.Result
	RecentHistory   []dispatch.ChatHistoryEntry
}

// Store is the port interface for the Catalog Store (C1). Every write that
// touches more than one table runs inside WithTx.
type Store interface {
	// WithTx runs fn with a scoped transaction, committing on a nil return
	// and rolling back otherwise.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// KeepAlive executes a trivial query; on failure it reinitialises the
	// pool and retries once.
	KeepAlive(ctx context.Context) error

	// Endpoints
	GetEndpointByKey(ctx context.Context, key endpoint.Key) (*endpoint.Endpoint, error)
	GetEndpoint(ctx context.Context, id int64) (*endpoint.Endpoint, error)
	ListEndpoints(ctx context.Context, filter endpoint.ListFilter) ([]endpoint.Endpoint, error)
	EndpointDetail(ctx context.Context, id int64, historyLimit int) (*EndpointDetail, error)

	// Models
	ListModels(ctx context.Context, filter ModelListFilter) ([]model.Model, error)
	ListModelsByEndpoint(ctx context.Context, endpointID int64) ([]model.Model, error)

	// Dispatch resolution
	ResolveModel(ctx context.Context, selector string) (*dispatch.Resolved, error)
	AppendChatHistory(ctx context.Context, entry dispatch.ChatHistoryEntry) error

	// Benchmarks
	AppendBenchmarkResult(ctx context.Context, r benchmark.Result) (*benchmark.Result, error)
	GetBenchmarkResult(ctx context.Context, id int64) (*benchmark.Result, error)
	LatestBenchmark(ctx context.Context, endpointID int64) (*benchmark.Result, error)
	ListBenchmarkResults(ctx context.Context, filter BenchmarkListFilter) ([]benchmark.Result, error)

	// Metadata
	GetMetadata(ctx context.Context, key string) (string, bool, error)
	SetMetadata(ctx context.Context, key, value string) error

	// Aggregates
	Stats(ctx context.Context) (*Stats, error)
	Health(ctx context.Context) (*HealthReport, error)
}

// Tx is the scoped transaction handle passed into Store.WithTx. It exposes
// exactly the operations the Verifier needs to perform atomically; all
// other reads/writes go through Store directly.
type Tx interface {
	UpsertEndpoint(ctx context.Context, key endpoint.Key, scanDate time.Time, status endpoint.UpsertStatus, preserveVerified bool) (*endpoint.Endpoint, error)
	MarkValid(ctx context.Context, endpointID int64, now time.Time) error
	MarkHoneypot(ctx context.Context, endpointID int64, reason string, now time.Time) error
	MarkInvalid(ctx context.Context, endpointID int64, reason string, authRequired bool, now time.Time) error

	UpsertVerifiedEndpoint(ctx context.Context, endpointID int64, now time.Time, method string) error
	DeleteVerifiedEndpoint(ctx context.Context, endpointID int64) error

	ListModelsByEndpoint(ctx context.Context, endpointID int64) ([]model.Model, error)
	ApplyModelDiff(ctx context.Context, endpointID int64, diff model.Diff) error

	AppendEndpointVerification(ctx context.Context, v verification.EndpointVerification) error

	SetMetadata(ctx context.Context, key, value string) error
}
