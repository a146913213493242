package postgres

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Strob0t/CodeForge/internal/domain/benchmark"
	"github.com/Strob0t/CodeForge/internal/domain/dispatch"
	"github.com/Strob0t/CodeForge/internal/domain/endpoint"
	"github.com/Strob0t/CodeForge/internal/domain/model"
	"github.com/Strob0t/CodeForge/internal/domain/verification"
)

func scanEndpoint(row scannable) (endpoint.Endpoint, error) {
	var e endpoint.Endpoint
	var apiType string
	var apiVersion, inactiveReason, honeypotReason, addedBy, description *string
	var capabilities []string
	var verificationDate *time.Time
	var verifiedInt int

	err := row.Scan(
		&e.ID, &e.IP, &e.Port, &apiType, &apiVersion, &capabilities, &e.AuthRequired,
		&e.ScanDate, &e.LastCheckDate, &verificationDate, &verifiedInt, &e.IsActive,
		&inactiveReason, &e.IsHoneypot, &honeypotReason, &addedBy, &description,
	)
	if err != nil {
		return endpoint.Endpoint{}, err
	}

	e.APIType = endpoint.APIType(apiType)
	e.APIVersion = orEmptyStr(apiVersion)
	e.InactiveReason = orEmptyStr(inactiveReason)
	e.HoneypotReason = orEmptyStr(honeypotReason)
	e.AddedBy = orEmptyStr(addedBy)
	e.Description = orEmptyStr(description)
	e.VerificationDate = verificationDate
	e.Verified = endpoint.VerifiedState(verifiedInt)
	for _, c := range capabilities {
		e.Capabilities = append(e.Capabilities, endpoint.Capability(c))
	}
	return e, nil
}

func scanModel(row scannable) (model.Model, error) {
	var m model.Model
	var paramSize, quant, modelType *string
	var sizeMB *float64
	var capabilities []string

	if err := row.Scan(&m.ID, &m.EndpointID, &m.Name, &paramSize, &quant, &sizeMB, &modelType, &capabilities); err != nil {
		return model.Model{}, fmt.Errorf("scan model: %w", err)
	}
	m.ParameterSize = orEmptyStr(paramSize)
	m.QuantizationLevel = orEmptyStr(quant)
	m.ModelType = orEmptyStr(modelType)
	if sizeMB != nil {
		m.SizeMB = *sizeMB
	}
	m.Capabilities = capabilities
	return m, nil
}

func scanChatHistory(row scannable) (dispatch.ChatHistoryEntry, error) {
	var h dispatch.ChatHistoryEntry
	var systemPrompt *string
	var evalCount *int64
	var evalDurationNanos *int64

	err := row.Scan(&h.ID, &h.UserID, &h.ModelID, &h.Prompt, &systemPrompt, &h.Response,
		&h.Temperature, &h.MaxTokens, &h.Timestamp, &evalCount, &evalDurationNanos)
	if err != nil {
		return dispatch.ChatHistoryEntry{}, fmt.Errorf("scan chat history: %w", err)
	}
	h.SystemPrompt = orEmptyStr(systemPrompt)
	h.EvalCount = evalCount
	if evalDurationNanos != nil {
		d := time.Duration(*evalDurationNanos)
		h.EvalDuration = &d
	}
	return h, nil
}

const benchmarkSelect = `SELECT id, endpoint_id, model_id, test_date, avg_response_time, tokens_per_second,
	first_token_latency, throughput_tokens, throughput_time, context_500_tps, context_1000_tps,
	context_2000_tps, max_concurrent_requests, concurrency_success_rate, concurrency_avg_time, success_rate
	FROM benchmark_results`

func scanBenchmark(row scannable) (benchmark.Result, error) {
	var r benchmark.Result
	var modelID *int64

	err := row.Scan(&r.ID, &r.EndpointID, &modelID, &r.TestDate, &r.AvgResponseTime, &r.TokensPerSecond,
		&r.FirstTokenLatency, &r.ThroughputTokens, &r.ThroughputTime, &r.Context500TPS, &r.Context1000TPS,
		&r.Context2000TPS, &r.MaxConcurrentRequests, &r.ConcurrencySuccessRate, &r.ConcurrencyAvgTime, &r.SuccessRate)
	if err != nil {
		return benchmark.Result{}, fmt.Errorf("scan benchmark result: %w", err)
	}
	if modelID != nil {
		r.ModelID = *modelID
	}
	return r, nil
}

func scanEndpointVerification(row scannable) (verification.EndpointVerification, error) {
	var v verification.EndpointVerification
	var detectedModelsJSON, metricsJSON []byte

	err := row.Scan(&v.ID, &v.EndpointID, &v.VerificationDate, &v.ResponseSample, &detectedModelsJSON, &v.IsHoneypot, &metricsJSON)
	if err != nil {
		return verification.EndpointVerification{}, fmt.Errorf("scan endpoint verification: %w", err)
	}
	_ = json.Unmarshal(detectedModelsJSON, &v.DetectedModels)
	_ = json.Unmarshal(metricsJSON, &v.ResponseMetrics)
	return v, nil
}

func parseModelID(selector string) (int64, error) {
	return strconv.ParseInt(selector, 10, 64)
}
