// Package postgres implements the Catalog Store (C1) on top of pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sethvargo/go-retry"

	cfotel "github.com/Strob0t/CodeForge/internal/adapter/otel"
	"github.com/Strob0t/CodeForge/internal/domain/benchmark"
	"github.com/Strob0t/CodeForge/internal/domain/dispatch"
	"github.com/Strob0t/CodeForge/internal/domain/endpoint"
	"github.com/Strob0t/CodeForge/internal/domain/model"
	"github.com/Strob0t/CodeForge/internal/port/catalog"
)

// Store implements catalog.Store using a pooled PostgreSQL connection. The
// pool is held behind an atomic pointer so KeepAlive can swap in a freshly
// reinitialized pool without a lock around every query.
type Store struct {
	pool    atomic.Pointer[pgxpool.Pool]
	metrics *cfotel.Metrics
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	s := &Store{}
	s.pool.Store(pool)
	return s
}

// WithMetrics attaches OTEL metric instruments so transaction durations are
// recorded. Returns the receiver for chaining.
func (s *Store) WithMetrics(metrics *cfotel.Metrics) *Store {
	s.metrics = metrics
	return s
}

// db returns the pool currently in use, safe for concurrent use alongside
// KeepAlive's pool swap.
func (s *Store) db() *pgxpool.Pool {
	return s.pool.Load()
}

// KeepAlive executes a trivial query against the current pool. On failure
// it transparently reinitializes the pool from the failing pool's own
// config (§4.1's "on failure, transparently reinitialises the pool and
// retries once") and retries the query a single time against the new pool.
// The old pool is closed only after the new one has taken over, so
// concurrent callers never observe a gap.
func (s *Store) KeepAlive(ctx context.Context) error {
	b := retry.WithMaxRetries(3, retry.NewExponential(time.Second))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		var one int
		if err := s.db().QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
			return retry.RetryableError(fmt.Errorf("keep alive: %w", err))
		}
		return nil
	})
	if err == nil {
		return nil
	}

	old := s.db()
	newPool, reinitErr := pgxpool.NewWithConfig(ctx, old.Config())
	if reinitErr != nil {
		return fmt.Errorf("keep alive: reinit pool: %w (after: %v)", reinitErr, err)
	}
	if pingErr := newPool.Ping(ctx); pingErr != nil {
		newPool.Close()
		return fmt.Errorf("keep alive: ping reinitialized pool: %w (after: %v)", pingErr, err)
	}

	s.pool.Store(newPool)
	old.Close()

	var one int
	if retryErr := s.db().QueryRow(ctx, `SELECT 1`).Scan(&one); retryErr != nil {
		return fmt.Errorf("keep alive: retry after pool reinit: %w", retryErr)
	}
	return nil
}

// WithTx runs fn with a scoped pgx transaction, committing on a nil return
// and rolling back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx catalog.Tx) error) error {
	ctx, span := cfotel.StartCatalogTxSpan(ctx, "catalog")
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.CatalogTxDuration.Record(ctx, time.Since(start).Seconds())
		}
		span.End()
	}()

	pgTx, err := s.db().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	txWrapper := &transaction{tx: pgTx}
	if err := fn(ctx, txWrapper); err != nil {
		if rbErr := pgTx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}

	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// --- Endpoints ---

const endpointColumns = `id, ip, port, api_type, api_version, capabilities, auth_required,
	scan_date, last_check_date, verification_date, verified, is_active,
	inactive_reason, is_honeypot, honeypot_reason, added_by, description`

func (s *Store) GetEndpointByKey(ctx context.Context, key endpoint.Key) (*endpoint.Endpoint, error) {
	row := s.db().QueryRow(ctx,
		`SELECT `+endpointColumns+` FROM endpoints WHERE ip = $1 AND port = $2`,
		key.IP, key.Port)
	e, err := scanEndpoint(row)
	if err != nil {
		return nil, notFoundWrap(err, "get endpoint %s", key)
	}
	return &e, nil
}

func (s *Store) GetEndpoint(ctx context.Context, id int64) (*endpoint.Endpoint, error) {
	row := s.db().QueryRow(ctx, `SELECT `+endpointColumns+` FROM endpoints WHERE id = $1`, id)
	e, err := scanEndpoint(row)
	if err != nil {
		return nil, notFoundWrap(err, "get endpoint %d", id)
	}
	return &e, nil
}

func (s *Store) ListEndpoints(ctx context.Context, filter endpoint.ListFilter) ([]endpoint.Endpoint, error) {
	q := `SELECT ` + endpointColumns + ` FROM endpoints WHERE 1=1`
	var args []any
	argN := 0
	next := func() string { argN++; return fmt.Sprintf("$%d", argN) }

	if filter.APIType != "" {
		args = append(args, filter.APIType)
		q += ` AND api_type = ` + next()
	}
	if filter.Capability != "" {
		args = append(args, string(filter.Capability))
		q += ` AND ` + next() + ` = ANY(capabilities)`
	}
	if filter.AuthRequired != nil {
		args = append(args, *filter.AuthRequired)
		q += ` AND auth_required = ` + next()
	}
	if filter.ActiveOnly {
		q += ` AND is_active = true`
	}
	q += ` ORDER BY scan_date DESC`

	rows, err := s.db().Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	defer rows.Close()

	var out []endpoint.Endpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) EndpointDetail(ctx context.Context, id int64, historyLimit int) (*catalog.EndpointDetail, error) {
	ep, err := s.GetEndpoint(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &catalog.EndpointDetail{Endpoint: *ep}

	verifiedRow := s.db().QueryRow(ctx,
		`SELECT id, endpoint_id, verification_date, verification_method, verified_by
		 FROM verified_endpoints WHERE endpoint_id = $1`, id)
	var ve endpoint.VerifiedEndpoint
	var method, by *string
	if err := verifiedRow.Scan(&ve.ID, &ve.EndpointID, &ve.VerificationDate, &method, &by); err == nil {
		ve.VerificationMethod = orEmptyStr(method)
		ve.VerifiedBy = orEmptyStr(by)
		detail.Verified = &ve
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("endpoint detail verified: %w", err)
	}

	models, err := s.ListModelsByEndpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	detail.Models = models

	bench, err := s.LatestBenchmark(ctx, id)
	if err != nil {
		return nil, err
	}
	detail.LatestBenchmark = bench

	historyRows, err := s.db().Query(ctx,
		`SELECT ch.id, ch.user_id, ch.model_id, ch.prompt, ch.system_prompt, ch.response,
		        ch.temperature, ch.max_tokens, ch."timestamp", ch.eval_count, ch.eval_duration
		 FROM chat_history ch
		 JOIN models m ON m.id = ch.model_id
		 WHERE m.endpoint_id = $1
		 ORDER BY ch."timestamp" DESC LIMIT $2`, id, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("endpoint detail history: %w", err)
	}
	defer historyRows.Close()
	for historyRows.Next() {
		h, err := scanChatHistory(historyRows)
		if err != nil {
			return nil, err
		}
		detail.RecentHistory = append(detail.RecentHistory, h)
	}

	return detail, historyRows.Err()
}

// --- Models ---

func (s *Store) ListModels(ctx context.Context, filter catalog.ModelListFilter) ([]model.Model, error) {
	q := `SELECT id, endpoint_id, name, parameter_size, quantization_level, size_mb, model_type, capabilities
	      FROM models WHERE 1=1`
	var args []any
	argN := 0
	next := func() string { argN++; return fmt.Sprintf("$%d", argN) }

	if filter.NameContains != "" {
		args = append(args, "%"+filter.NameContains+"%")
		q += ` AND name ILIKE ` + next()
	}
	if filter.ParamSize != "" {
		args = append(args, filter.ParamSize)
		q += ` AND parameter_size = ` + next()
	}
	if filter.Quantization != "" {
		args = append(args, filter.Quantization)
		q += ` AND quantization_level = ` + next()
	}

	switch filter.SortBy {
	case "params":
		q += ` ORDER BY parameter_size`
	case "quant":
		q += ` ORDER BY quantization_level`
	case "count":
		q += ` ORDER BY (SELECT count(*) FROM models h WHERE h.name = models.name) DESC, name`
	default:
		q += ` ORDER BY name`
	}

	rows, err := s.db().Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	var out []model.Model
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) ListModelsByEndpoint(ctx context.Context, endpointID int64) ([]model.Model, error) {
	rows, err := s.db().Query(ctx,
		`SELECT id, endpoint_id, name, parameter_size, quantization_level, size_mb, model_type, capabilities
		 FROM models WHERE endpoint_id = $1 ORDER BY name`, endpointID)
	if err != nil {
		return nil, fmt.Errorf("list models by endpoint: %w", err)
	}
	defer rows.Close()

	var out []model.Model
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Dispatch resolution ---

func (s *Store) ResolveModel(ctx context.Context, selector string) (*dispatch.Resolved, error) {
	q := `SELECT m.id, m.name, e.id, e.ip, e.port
	      FROM models m
	      JOIN endpoints e ON e.id = m.endpoint_id
	      JOIN verified_endpoints ve ON ve.endpoint_id = e.id
	      WHERE e.is_honeypot = false AND e.is_active = true`
	var args []any

	if id, err := parseModelID(selector); err == nil {
		q += ` AND m.id = $1`
		args = append(args, id)
	} else {
		q += ` AND m.name ILIKE $1 ORDER BY ve.verification_date DESC`
		args = append(args, "%"+selector+"%")
	}
	q += ` LIMIT 1`

	row := s.db().QueryRow(ctx, q, args...)
	var r dispatch.Resolved
	if err := row.Scan(&r.ModelID, &r.ModelName, &r.EndpointID, &r.IP, &r.Port); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("resolve %q: %w", selector, dispatch.ErrModelNotFound)
		}
		return nil, fmt.Errorf("resolve %q: %w", selector, err)
	}
	return &r, nil
}

func (s *Store) AppendChatHistory(ctx context.Context, entry dispatch.ChatHistoryEntry) error {
	_, err := s.db().Exec(ctx,
		`INSERT INTO chat_history (user_id, model_id, prompt, system_prompt, response, temperature, max_tokens, "timestamp", eval_count, eval_duration)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.UserID, entry.ModelID, entry.Prompt, nullIfEmpty(entry.SystemPrompt), entry.Response,
		entry.Temperature, entry.MaxTokens, entry.Timestamp, entry.EvalCount, durationPtrNanos(entry.EvalDuration))
	if err != nil {
		return fmt.Errorf("append chat history: %w", err)
	}
	return nil
}

// --- Benchmarks ---

func (s *Store) AppendBenchmarkResult(ctx context.Context, r benchmark.Result) (*benchmark.Result, error) {
	row := s.db().QueryRow(ctx,
		`INSERT INTO benchmark_results
		 (endpoint_id, model_id, test_date, avg_response_time, tokens_per_second, first_token_latency,
		  throughput_tokens, throughput_time, context_500_tps, context_1000_tps, context_2000_tps,
		  max_concurrent_requests, concurrency_success_rate, concurrency_avg_time, success_rate)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		 RETURNING id`,
		r.EndpointID, nullZero(r.ModelID), r.TestDate, r.AvgResponseTime, r.TokensPerSecond,
		r.FirstTokenLatency, r.ThroughputTokens, r.ThroughputTime, r.Context500TPS, r.Context1000TPS,
		r.Context2000TPS, r.MaxConcurrentRequests, r.ConcurrencySuccessRate, r.ConcurrencyAvgTime, r.SuccessRate)

	if err := row.Scan(&r.ID); err != nil {
		return nil, fmt.Errorf("append benchmark result: %w", err)
	}
	return &r, nil
}

func (s *Store) GetBenchmarkResult(ctx context.Context, id int64) (*benchmark.Result, error) {
	row := s.db().QueryRow(ctx, benchmarkSelect+` WHERE id = $1`, id)
	r, err := scanBenchmark(row)
	if err != nil {
		return nil, notFoundWrap(err, "get benchmark result %d", id)
	}
	return &r, nil
}

func (s *Store) ListBenchmarkResults(ctx context.Context, filter catalog.BenchmarkListFilter) ([]benchmark.Result, error) {
	q := `SELECT br.id, br.endpoint_id, br.model_id, br.test_date, br.avg_response_time, br.tokens_per_second,
	      br.first_token_latency, br.throughput_tokens, br.throughput_time, br.context_500_tps, br.context_1000_tps,
	      br.context_2000_tps, br.max_concurrent_requests, br.concurrency_success_rate, br.concurrency_avg_time, br.success_rate
	      FROM benchmark_results br`
	var args []any

	if filter.ModelNameContains != "" {
		q += ` JOIN models m ON m.id = br.model_id WHERE m.name ILIKE $1`
		args = append(args, "%"+filter.ModelNameContains+"%")
	}

	q += ` ORDER BY br.test_date DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}
	args = append(args, limit)
	q += fmt.Sprintf(` LIMIT $%d`, len(args))

	rows, err := s.db().Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list benchmark results: %w", err)
	}
	defer rows.Close()

	var out []benchmark.Result
	for rows.Next() {
		r, err := scanBenchmark(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) LatestBenchmark(ctx context.Context, endpointID int64) (*benchmark.Result, error) {
	row := s.db().QueryRow(ctx, benchmarkSelect+` WHERE endpoint_id = $1 ORDER BY test_date DESC LIMIT 1`, endpointID)
	r, err := scanBenchmark(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest benchmark: %w", err)
	}
	return &r, nil
}

// --- Metadata ---

func (s *Store) GetMetadata(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db().QueryRow(ctx, `SELECT value FROM metadata WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get metadata %s: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db().Exec(ctx,
		`INSERT INTO metadata (key, value, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value)
	if err != nil {
		return fmt.Errorf("set metadata %s: %w", key, err)
	}
	return nil
}

// --- Aggregates ---

func (s *Store) Stats(ctx context.Context) (*catalog.Stats, error) {
	stats := &catalog.Stats{
		ByAPIType:             map[endpoint.APIType]int64{},
		ParameterHistogram:    map[string]int64{},
		QuantizationHistogram: map[string]int64{},
	}

	if err := s.db().QueryRow(ctx, `SELECT count(*) FROM endpoints`).Scan(&stats.TotalEndpoints); err != nil {
		return nil, fmt.Errorf("stats total endpoints: %w", err)
	}
	if err := s.db().QueryRow(ctx, `SELECT count(*) FROM verified_endpoints`).Scan(&stats.TotalVerified); err != nil {
		return nil, fmt.Errorf("stats total verified: %w", err)
	}
	if err := s.db().QueryRow(ctx, `SELECT count(*) FROM models`).Scan(&stats.TotalModels); err != nil {
		return nil, fmt.Errorf("stats total models: %w", err)
	}

	typeRows, err := s.db().Query(ctx, `SELECT api_type, count(*) FROM endpoints GROUP BY api_type`)
	if err != nil {
		return nil, fmt.Errorf("stats by api_type: %w", err)
	}
	for typeRows.Next() {
		var t string
		var c int64
		if err := typeRows.Scan(&t, &c); err != nil {
			typeRows.Close()
			return nil, err
		}
		stats.ByAPIType[endpoint.APIType(t)] = c
	}
	typeRows.Close()
	if err := typeRows.Err(); err != nil {
		return nil, err
	}

	topRows, err := s.db().Query(ctx,
		`SELECT name, count(*) c FROM models GROUP BY name ORDER BY c DESC LIMIT 10`)
	if err != nil {
		return nil, fmt.Errorf("stats top models: %w", err)
	}
	for topRows.Next() {
		var mc catalog.ModelCount
		if err := topRows.Scan(&mc.Name, &mc.Count); err != nil {
			topRows.Close()
			return nil, err
		}
		stats.TopModels = append(stats.TopModels, mc)
	}
	topRows.Close()
	if err := topRows.Err(); err != nil {
		return nil, err
	}

	paramRows, err := s.db().Query(ctx,
		`SELECT coalesce(parameter_size, 'unknown'), count(*) FROM models GROUP BY parameter_size`)
	if err != nil {
		return nil, fmt.Errorf("stats param histogram: %w", err)
	}
	for paramRows.Next() {
		var k string
		var c int64
		if err := paramRows.Scan(&k, &c); err != nil {
			paramRows.Close()
			return nil, err
		}
		stats.ParameterHistogram[k] = c
	}
	paramRows.Close()
	if err := paramRows.Err(); err != nil {
		return nil, err
	}

	quantRows, err := s.db().Query(ctx,
		`SELECT coalesce(quantization_level, 'unknown'), count(*) FROM models GROUP BY quantization_level`)
	if err != nil {
		return nil, fmt.Errorf("stats quant histogram: %w", err)
	}
	for quantRows.Next() {
		var k string
		var c int64
		if err := quantRows.Scan(&k, &c); err != nil {
			quantRows.Close()
			return nil, err
		}
		stats.QuantizationHistogram[k] = c
	}
	quantRows.Close()
	return stats, quantRows.Err()
}

func (s *Store) Health(ctx context.Context) (*catalog.HealthReport, error) {
	report := &catalog.HealthReport{
		TableRowCounts:  map[string]int64{},
		IndexScanCounts: map[string]int64{},
	}

	tables := []string{"endpoints", "verified_endpoints", "models", "endpoint_verifications", "benchmark_results", "chat_history", "metadata"}
	for _, t := range tables {
		var n int64
		if err := s.db().QueryRow(ctx, `SELECT count(*) FROM `+pgIdent(t)).Scan(&n); err != nil {
			return nil, fmt.Errorf("health row count %s: %w", t, err)
		}
		report.TableRowCounts[t] = n
	}

	rows, err := s.db().Query(ctx,
		`SELECT relname, idx_scan FROM pg_stat_user_tables WHERE schemaname = 'public'`)
	if err != nil {
		return nil, fmt.Errorf("health index scans: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var scans int64
		if err := rows.Scan(&name, &scans); err != nil {
			return nil, err
		}
		report.IndexScanCounts[name] = scans
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db().QueryRow(ctx, `SELECT pg_database_size(current_database()) / (1024.0 * 1024.0)`).Scan(&report.DatabaseSizeMB); err != nil {
		return nil, fmt.Errorf("health database size: %w", err)
	}

	return report, nil
}
