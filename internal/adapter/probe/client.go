// Package probe implements the Probe Client (C2): the single-endpoint HTTP
// probe sequence against a candidate (ip, port), modeled on the way
// internal/adapter/litellm drives its outbound HTTP calls through a
// circuit breaker and a central call wrapper.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	cfotel "github.com/Strob0t/CodeForge/internal/adapter/otel"
	"github.com/Strob0t/CodeForge/internal/domain/endpoint"
	"github.com/Strob0t/CodeForge/internal/domain/verification"
	"github.com/Strob0t/CodeForge/internal/resilience"
)

const (
	tagsTimeout           = 15 * time.Second
	generateTimeout       = 30 * time.Second
	systemGenerateTimeout = 25 * time.Second

	generateRetries  = 2
	generateBackoff  = 3 * time.Second

	commonPort = "http://%s:%d"
)

var heuristicSmallModel = regexp.MustCompile(`(?i)tiny|small|mini|1b|1\.5b|3b|7b|135m`)

// Client performs the ordered probe sequence of §4.2 against one (ip, port).
// It is stateless and pure with respect to the Catalog Store.
type Client struct {
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// New creates a Probe Client. A nil breaker disables circuit breaking.
func New(breaker *resilience.Breaker) *Client {
	return &Client{
		httpClient: &http.Client{},
		breaker:    breaker,
	}
}

// Probe runs steps 1-5 of §4.2 against ip:port, in order, never reordering.
// Step 1's failure short-circuits the probe before step 3 runs. A 404 on
// step 1 triggers the LiteLLM-flavored fallback chain (supplemental to §4.2,
// sourced from original_source/litellm_scanner.py): /v1/model/info,
// /v1/models, /health, in that order, before giving up on the candidate.
func (c *Client) Probe(ctx context.Context, ip string, port int) verification.ProbeResult {
	base := fmt.Sprintf(commonPort, ip, port)

	tags, err := c.fetchTags(ctx, base)
	if err != nil {
		if err.Kind == verification.KindProtocol && err.StatusCode == http.StatusNotFound {
			if result, ok := c.probeLiteLLM(ctx, base); ok {
				return result
			}
		}
		return verification.ProbeResult{Err: err, AuthRequired: err.Kind == verification.KindAuthRequired}
	}

	smallest := pickSmallestModel(tags)

	genBody, metrics, err := c.generate(ctx, base, smallest, "", 50)
	if err != nil {
		return verification.ProbeResult{
			Tags: tags, Err: err, AuthRequired: err.Kind == verification.KindAuthRequired,
		}
	}

	sysBody, sysWords, _ := c.systemGenerate(ctx, base, smallest)

	version := c.fetchVersion(ctx, base)

	return verification.ProbeResult{
		APIType:             string(endpoint.APITypeOllama),
		Tags:                tags,
		GenerateBody:        genBody,
		SystemGenerateBody:  sysBody,
		SystemGenerateWords: sysWords,
		Version:             version,
		Metrics:             metrics,
	}
}

type litellmModelInfoResponse struct {
	Data []struct {
		ModelName     string `json:"model_name"`
		LiteLLMParams struct {
			Model string `json:"model"`
		} `json:"litellm_params"`
	} `json:"data"`
}

type litellmModelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// probeLiteLLM is the supplemental fallback chain run after an Ollama-shaped
// 404: /v1/model/info (primary indicator), then /v1/models, then /health as
// a last-resort confirmation with no model listing. ok is false when none of
// the three match, meaning the candidate is not LiteLLM-shaped either.
func (c *Client) probeLiteLLM(ctx context.Context, base string) (verification.ProbeResult, bool) {
	if tags, ok := c.fetchLiteLLMModelInfo(ctx, base); ok {
		return c.completeLiteLLMProbe(ctx, base, tags), true
	}
	if tags, ok := c.fetchLiteLLMModels(ctx, base); ok {
		return c.completeLiteLLMProbe(ctx, base, tags), true
	}
	if c.fetchLiteLLMHealth(ctx, base) {
		return c.completeLiteLLMProbe(ctx, base, nil), true
	}
	return verification.ProbeResult{}, false
}

// fetchLiteLLMModelInfo is the primary LiteLLM indicator: GET /v1/model/info.
func (c *Client) fetchLiteLLMModelInfo(ctx context.Context, base string) ([]verification.TagEntry, bool) {
	reqCtx, cancel := context.WithTimeout(ctx, tagsTimeout)
	defer cancel()

	b, herr := c.get(reqCtx, base+"/v1/model/info")
	if herr != nil {
		return nil, false
	}
	var parsed litellmModelInfoResponse
	if err := json.Unmarshal(b, &parsed); err != nil {
		return nil, false
	}

	tags := make([]verification.TagEntry, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		name := m.ModelName
		if name == "" {
			name = m.LiteLLMParams.Model
		}
		if name == "" {
			continue
		}
		tags = append(tags, verification.TagEntry{Name: name})
	}
	return tags, true
}

// fetchLiteLLMModels is the OpenAI-compatible fallback: GET /v1/models.
func (c *Client) fetchLiteLLMModels(ctx context.Context, base string) ([]verification.TagEntry, bool) {
	reqCtx, cancel := context.WithTimeout(ctx, tagsTimeout)
	defer cancel()

	b, herr := c.get(reqCtx, base+"/v1/models")
	if herr != nil {
		return nil, false
	}
	var parsed litellmModelsResponse
	if err := json.Unmarshal(b, &parsed); err != nil {
		return nil, false
	}

	tags := make([]verification.TagEntry, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		if m.ID == "" {
			continue
		}
		tags = append(tags, verification.TagEntry{Name: m.ID})
	}
	return tags, true
}

// fetchLiteLLMHealth is the last-resort confirmation: GET /health, matched
// only when the body looks like a health-check payload (a "status" or
// "healthcheck" key), yielding no model listing.
func (c *Client) fetchLiteLLMHealth(ctx context.Context, base string) bool {
	reqCtx, cancel := context.WithTimeout(ctx, tagsTimeout)
	defer cancel()

	b, herr := c.get(reqCtx, base+"/health")
	if herr != nil {
		return false
	}
	var parsed map[string]any
	if err := json.Unmarshal(b, &parsed); err != nil {
		return false
	}
	_, hasStatus := parsed["status"]
	_, hasHealthcheck := parsed["healthcheck"]
	return hasStatus || hasHealthcheck
}

// completeLiteLLMProbe runs the generate/system-generate steps against the
// OpenAI-compatible /v1/chat/completions endpoint so the Honeypot Classifier
// can evaluate a LiteLLM-flavored candidate the same way it evaluates an
// Ollama one. api_type is recorded as LocalAI's (OpenAI-compatible) bucket,
// the closest match this catalog's APIType taxonomy has for a LiteLLM proxy.
func (c *Client) completeLiteLLMProbe(ctx context.Context, base string, tags []verification.TagEntry) verification.ProbeResult {
	smallest := ""
	if len(tags) > 0 {
		smallest = pickSmallestModel(tags)
	}

	genBody, metrics, err := c.chatComplete(ctx, base, smallest, "", 50)
	if err != nil {
		return verification.ProbeResult{
			APIType: string(endpoint.APITypeLocalAI), Tags: tags,
			Err: err, AuthRequired: err.Kind == verification.KindAuthRequired,
		}
	}

	sysBody, _, _ := c.chatComplete(ctx, base, smallest, "Respond in one short sentence, no more than 15 words.", 50)

	return verification.ProbeResult{
		APIType:             string(endpoint.APITypeLocalAI),
		Tags:                tags,
		GenerateBody:        genBody,
		SystemGenerateBody:  sysBody,
		SystemGenerateWords: len(strings.Fields(sysBody)),
		Metrics:             metrics,
	}
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

// chatComplete drives the OpenAI-compatible /v1/chat/completions endpoint,
// the LiteLLM-flavored equivalent of Ollama's /api/generate (step 3/4).
func (c *Client) chatComplete(ctx context.Context, base, model, system string, maxTokens int) (string, verification.Metrics, *verification.ProbeError) {
	step := "generate"
	if system != "" {
		step = "system_generate"
	}
	ctx, span := cfotel.StartProbeStepSpan(ctx, step)
	defer span.End()

	messages := []map[string]string{{"role": "user", "content": "Hello, please respond with a short message."}}
	if system != "" {
		messages = append([]map[string]string{{"role": "system", "content": system}}, messages...)
	}
	payload := map[string]any{
		"model":      model,
		"messages":   messages,
		"max_tokens": maxTokens,
	}
	body, _ := json.Marshal(payload)

	timeout := generateTimeout
	if system != "" {
		timeout = systemGenerateTimeout
	}

	start := time.Now()
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	respBody, herr := c.post(reqCtx, base+"/v1/chat/completions", body)
	cancel()
	elapsed := time.Since(start)
	if herr != nil {
		herr.Step = step
		return "", verification.Metrics{}, herr
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", verification.Metrics{}, &verification.ProbeError{Kind: verification.KindProtocol, Step: step, Err: err}
	}
	if len(parsed.Choices) == 0 {
		return "", verification.Metrics{}, &verification.ProbeError{Kind: verification.KindProtocol, Step: step, Err: fmt.Errorf("empty choices array")}
	}

	metrics := verification.Metrics{EvalCount: parsed.Usage.CompletionTokens}
	if elapsed > 0 && metrics.EvalCount > 0 {
		metrics.EvalDurationNanos = elapsed.Nanoseconds()
		metrics.TokensPerSecond = float64(metrics.EvalCount) / elapsed.Seconds()
	}

	return parsed.Choices[0].Message.Content, metrics, nil
}

type tagsResponse struct {
	Models []struct {
		Name    string `json:"name"`
		Size    *int64 `json:"size"`
		Details struct {
			ParameterSize     string `json:"parameter_size"`
			QuantizationLevel string `json:"quantization_level"`
		} `json:"details"`
	} `json:"models"`
}

// fetchTags is probe step 1: GET /api/tags (deadline 15s), retried up to
// twice on transport errors with a 3s linear backoff. 401/403 short-circuit
// with AuthRequired.
func (c *Client) fetchTags(ctx context.Context, base string) ([]verification.TagEntry, *verification.ProbeError) {
	ctx, span := cfotel.StartProbeStepSpan(ctx, "tags")
	defer span.End()

	var body []byte
	var probeErr *verification.ProbeError

	for attempt := 0; attempt <= generateRetries; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, tagsTimeout)
		b, herr := c.get(reqCtx, base+"/api/tags")
		cancel()

		if herr == nil {
			body = b
			probeErr = nil
			break
		}
		probeErr = herr
		if herr.Kind != verification.KindTransport || attempt == generateRetries {
			break
		}
		time.Sleep(generateBackoff)
	}
	if probeErr != nil {
		return nil, probeErr
	}

	var parsed tagsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &verification.ProbeError{Kind: verification.KindProtocol, Step: "tags", Err: err}
	}
	if parsed.Models == nil {
		return nil, &verification.ProbeError{Kind: verification.KindProtocol, Step: "tags", Err: fmt.Errorf("missing models array")}
	}

	entries := make([]verification.TagEntry, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		e := verification.TagEntry{
			Name:              m.Name,
			ParameterSize:     m.Details.ParameterSize,
			QuantizationLevel: m.Details.QuantizationLevel,
		}
		if m.Size != nil {
			e.Size = *m.Size
			e.HasSize = true
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// pickSmallestModel implements §4.2 step 2's selection order: minimum
// reported size, else a heuristic name match, else the first model.
func pickSmallestModel(tags []verification.TagEntry) string {
	if len(tags) == 0 {
		return ""
	}

	best := -1
	for i, t := range tags {
		if !t.HasSize {
			continue
		}
		if best == -1 || t.Size < tags[best].Size {
			best = i
		}
	}
	if best >= 0 {
		return tags[best].Name
	}

	for _, t := range tags {
		if heuristicSmallModel.MatchString(t.Name) {
			return t.Name
		}
	}

	return tags[0].Name
}

type generateResponse struct {
	Response     string `json:"response"`
	EvalCount    *int64 `json:"eval_count"`
	EvalDuration *int64 `json:"eval_duration"`
}

// generate is probe step 3 (or step 4 when system is non-empty): POST
// /api/generate, retried like step 1 only when system is empty (step 3).
func (c *Client) generate(ctx context.Context, base, model, system string, maxTokens int) (string, verification.Metrics, *verification.ProbeError) {
	step := "generate"
	if system != "" {
		step = "system_generate"
	}
	ctx, span := cfotel.StartProbeStepSpan(ctx, step)
	defer span.End()

	payload := map[string]any{
		"model":      model,
		"prompt":     "Hello, please respond with a short message.",
		"stream":     false,
		"max_tokens": maxTokens,
	}
	if system != "" {
		payload["system"] = system
	}
	body, _ := json.Marshal(payload)

	timeout := generateTimeout
	retries := generateRetries
	if system != "" {
		timeout = systemGenerateTimeout
		retries = 0
	}

	var respBody []byte
	var probeErr *verification.ProbeError
	for attempt := 0; attempt <= retries; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		b, herr := c.post(reqCtx, base+"/api/generate", body)
		cancel()

		if herr == nil {
			respBody = b
			probeErr = nil
			break
		}
		probeErr = herr
		if herr.Kind != verification.KindTransport || attempt == retries {
			break
		}
		time.Sleep(generateBackoff)
	}
	if probeErr != nil {
		probeErr.Step = "generate"
		return "", verification.Metrics{}, probeErr
	}

	var parsed generateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", verification.Metrics{}, &verification.ProbeError{Kind: verification.KindProtocol, Step: "generate", Err: err}
	}

	metrics := verification.Metrics{}
	if parsed.EvalCount != nil {
		metrics.EvalCount = *parsed.EvalCount
	}
	if parsed.EvalDuration != nil {
		metrics.EvalDurationNanos = *parsed.EvalDuration
		if metrics.EvalDurationNanos > 0 {
			metrics.TokensPerSecond = float64(metrics.EvalCount) / (float64(metrics.EvalDurationNanos) / 1e9)
		}
	}

	return parsed.Response, metrics, nil
}

// systemGenerate is probe step 4: a system-prompt-constrained generate used
// only for honeypot corroboration. Its result is best-effort; a failure here
// never fails the probe overall.
func (c *Client) systemGenerate(ctx context.Context, base, model string) (string, int, *verification.ProbeError) {
	system := "Respond in one short sentence, no more than 15 words."
	body, _, err := c.generate(ctx, base, model, system, 50)
	if err != nil {
		return "", 0, err
	}
	return body, len(strings.Fields(body)), nil
}

// fetchVersion is probe step 5: GET /api/version, best-effort diagnostics.
func (c *Client) fetchVersion(ctx context.Context, base string) string {
	ctx, span := cfotel.StartProbeStepSpan(ctx, "version")
	defer span.End()

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	b, herr := c.get(reqCtx, base+"/api/version")
	if herr != nil {
		return ""
	}
	var v struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return ""
	}
	return v.Version
}

func (c *Client) get(ctx context.Context, url string) ([]byte, *verification.ProbeError) {
	return c.do(ctx, http.MethodGet, url, nil)
}

func (c *Client) post(ctx context.Context, url string, body []byte) ([]byte, *verification.ProbeError) {
	return c.do(ctx, http.MethodPost, url, body)
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) ([]byte, *verification.ProbeError) {
	var result []byte
	var probeErr *verification.ProbeError

	call := func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			probeErr = &verification.ProbeError{Kind: verification.KindTransport, Err: err}
			return err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			probeErr = &verification.ProbeError{Kind: verification.KindTransport, Err: err}
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			probeErr = &verification.ProbeError{Kind: verification.KindTransport, Err: err}
			return err
		}

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			probeErr = &verification.ProbeError{Kind: verification.KindAuthRequired, StatusCode: resp.StatusCode, Err: fmt.Errorf("status %d", resp.StatusCode)}
			return nil // not retried
		}
		if resp.StatusCode >= 400 {
			probeErr = &verification.ProbeError{Kind: verification.KindProtocol, StatusCode: resp.StatusCode, Err: fmt.Errorf("status %d", resp.StatusCode)}
			return nil // not retried
		}

		result = data
		return nil
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(call)
		if err != nil && probeErr == nil {
			probeErr = &verification.ProbeError{Kind: verification.KindTransport, Err: err}
		}
	} else {
		err = call()
	}

	if probeErr != nil {
		return nil, probeErr
	}
	if err != nil {
		return nil, &verification.ProbeError{Kind: verification.KindTransport, Err: err}
	}
	return result, nil
}
