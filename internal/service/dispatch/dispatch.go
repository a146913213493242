// Package dispatch implements the Dispatch Service (C7): Resolve then
// Forward, modeled on internal/adapter/litellm.Client's doRequest/
// ChatCompletion pattern for the outbound call, wrapped in the same
// resilience.Breaker used throughout the codebase.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	domaindispatch "github.com/Strob0t/CodeForge/internal/domain/dispatch"
	"github.com/Strob0t/CodeForge/internal/resilience"
)

// Store is the narrow slice of catalog.Store the Dispatch Service needs.
// catalog.Store satisfies it directly.
type Store interface {
	ResolveModel(ctx context.Context, selector string) (*domaindispatch.Resolved, error)
	AppendChatHistory(ctx context.Context, entry domaindispatch.ChatHistoryEntry) error
}

// ErrForwardFailed wraps a failed Forward: a non-2xx response, or no
// response at all (Status 0: a timeout or a transport error).
type ErrForwardFailed struct {
	Status int
	Detail string
}

func (e *ErrForwardFailed) Error() string {
	if e.Status == 0 {
		return "dispatch: forward failed (no response): " + e.Detail
	}
	return fmt.Sprintf("dispatch: forward failed (status %d): %s", e.Status, e.Detail)
}

// Service resolves model selectors and forwards chat requests to the
// resolved endpoint.
type Service struct {
	store      Store
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// New creates a Dispatch Service. breaker may be nil to disable breaking.
func New(store Store, breaker *resilience.Breaker) *Service {
	return &Service{store: store, httpClient: &http.Client{}, breaker: breaker}
}

// Resolve looks up the live endpoint currently serving a model selector,
// per §4.7: a numeric id or a name substring, most-recently-verified wins.
func (s *Service) Resolve(ctx context.Context, req domaindispatch.ResolveRequest) (*domaindispatch.Resolved, error) {
	resolved, err := s.store.ResolveModel(ctx, req.ModelSelector)
	if err != nil {
		return nil, fmt.Errorf("resolve model %q: %w", req.ModelSelector, err)
	}
	if resolved == nil {
		return nil, domaindispatch.ErrModelNotFound
	}
	return resolved, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  chatOptions   `json:"options,omitempty"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type chatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	EvalCount    int64 `json:"eval_count"`
	EvalDuration int64 `json:"eval_duration"`
}

// Forward posts a non-streaming chat request to the resolved endpoint,
// enforcing the fixed 60s total deadline of §4.7 for ordinary requests. A
// Verbose request (larger responses, longer system prompts) instead uses
// the §4.2 adaptive-timeout curve, since a 60s cap would routinely truncate
// it. It never mutates the Endpoint row; a failure here is surfaced to the
// caller verbatim.
func (s *Service) Forward(ctx context.Context, req domaindispatch.ForwardRequest) (*domaindispatch.ForwardResult, error) {
	messages := make([]chatMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	payload := chatRequest{
		Model:    req.Resolved.ModelName,
		Messages: messages,
		Options:  chatOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	deadline := domaindispatch.ForwardTimeout
	if req.Verbose {
		deadline = domaindispatch.AdaptiveTimeout(req.Resolved.ModelName, req.Prompt, req.MaxTokens, nil)
	}

	reqCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	url := fmt.Sprintf("http://%s:%d/api/chat", req.Resolved.IP, req.Resolved.Port)
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build forward request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var resp *http.Response
	call := func() error {
		var herr error
		resp, herr = s.httpClient.Do(httpReq)
		return herr
	}

	if s.breaker != nil {
		err = s.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return nil, &ErrForwardFailed{Detail: "Timeout"}
		}
		return nil, &ErrForwardFailed{Detail: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ErrForwardFailed{Status: resp.StatusCode, Detail: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ErrForwardFailed{Status: resp.StatusCode, Detail: string(data)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, &ErrForwardFailed{Status: resp.StatusCode, Detail: "unparseable response body"}
	}

	result := &domaindispatch.ForwardResult{
		Content:      parsed.Message.Content,
		EvalCount:    parsed.EvalCount,
		EvalDuration: time.Duration(parsed.EvalDuration),
	}

	if req.SaveHistory {
		entry := domaindispatch.ChatHistoryEntry{
			UserID:       req.UserID,
			ModelID:      req.Resolved.ModelID,
			Prompt:       req.Prompt,
			SystemPrompt: req.SystemPrompt,
			Response:     result.Content,
			Temperature:  req.Temperature,
			MaxTokens:    req.MaxTokens,
			Timestamp:    time.Now().UTC(),
			EvalCount:    &result.EvalCount,
			EvalDuration: &result.EvalDuration,
		}
		if err := s.store.AppendChatHistory(ctx, entry); err != nil {
			return nil, fmt.Errorf("append chat history: %w", err)
		}
	}

	return result, nil
}
