// Package benchmark defines the BenchmarkResult entity: the outcome of a
// structured performance test against one model on one endpoint, and the
// request shapes used to run one.
package benchmark

import "time"

// Result is one row of append-only benchmark history (§3 "BenchmarkResult").
// Never mutated after insertion.
type Result struct {
	ID                     int64      `json:"id"`
	EndpointID             int64      `json:"endpoint_id"`
	ModelID                int64      `json:"model_id,omitempty"`
	TestDate               time.Time  `json:"test_date"`
	AvgResponseTime        float64    `json:"avg_response_time"`
	TokensPerSecond        float64    `json:"tokens_per_second"`
	FirstTokenLatency      *float64   `json:"first_token_latency,omitempty"`
	ThroughputTokens       *int64     `json:"throughput_tokens,omitempty"`
	ThroughputTime         *float64   `json:"throughput_time,omitempty"`
	Context500TPS          *float64   `json:"context_500_tps,omitempty"`
	Context1000TPS         *float64   `json:"context_1000_tps,omitempty"`
	Context2000TPS         *float64   `json:"context_2000_tps,omitempty"`
	MaxConcurrentRequests  *int       `json:"max_concurrent_requests,omitempty"`
	ConcurrencySuccessRate *float64   `json:"concurrency_success_rate,omitempty"`
	ConcurrencyAvgTime     *float64   `json:"concurrency_avg_time,omitempty"`
	SuccessRate            *float64   `json:"success_rate,omitempty"`
}

// RunRequest is the input to a benchmark run against a resolved model.
type RunRequest struct {
	EndpointID         int64
	ModelID            int64
	ModelName          string
	IP                 string
	Port               int
	RunConcurrencyTest bool
	ConcurrencyLevel   int
}

// CompareRequest specifies two benchmark results to compare side-by-side.
type CompareRequest struct {
	ResultIDA int64 `json:"result_id_a"`
	ResultIDB int64 `json:"result_id_b"`
}

// CompareResult holds the side-by-side comparison output.
type CompareResult struct {
	ResultA *Result `json:"result_a"`
	ResultB *Result `json:"result_b"`
}
