package httpapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Strob0t/CodeForge/internal/adapter/httpapi"
	"github.com/Strob0t/CodeForge/internal/domain/dispatch"
	"github.com/Strob0t/CodeForge/internal/domain/endpoint"
	"github.com/Strob0t/CodeForge/internal/domain/model"
	"github.com/Strob0t/CodeForge/internal/middleware"
	"github.com/Strob0t/CodeForge/internal/port/catalog"
)

type fakeQuery struct {
	endpoints []endpoint.Endpoint
	models    []model.Model
	stats     *catalog.Stats
}

func (f *fakeQuery) ListEndpoints(_ context.Context, _ endpoint.ListFilter) ([]endpoint.Endpoint, error) {
	return f.endpoints, nil
}

func (f *fakeQuery) ListModels(_ context.Context, _ catalog.ModelListFilter) ([]model.Model, error) {
	return f.models, nil
}

func (f *fakeQuery) Stats(_ context.Context) (*catalog.Stats, error) {
	return f.stats, nil
}

type fakeDispatch struct {
	resolved *dispatch.Resolved
	result   *dispatch.ForwardResult
	err      error
}

func (f *fakeDispatch) Resolve(_ context.Context, _ dispatch.ResolveRequest) (*dispatch.Resolved, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.resolved, nil
}

func (f *fakeDispatch) Forward(_ context.Context, _ dispatch.ForwardRequest) (*dispatch.ForwardResult, error) {
	return f.result, nil
}

func TestListEndpoints_ReturnsJSON(t *testing.T) {
	deps := httpapi.Deps{Query: &fakeQuery{endpoints: []endpoint.Endpoint{{ID: 1, IP: "198.51.100.1", Port: 11434}}}}
	router := httpapi.NewRouter(deps, "*", nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/endpoints", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got []endpoint.Endpoint
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 endpoint, got %d", len(got))
	}
}

func TestGetStats_ReturnsJSON(t *testing.T) {
	deps := httpapi.Deps{Query: &fakeQuery{stats: &catalog.Stats{TotalEndpoints: 3}}}
	router := httpapi.NewRouter(deps, "*", nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got catalog.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.TotalEndpoints != 3 {
		t.Fatalf("expected 3 endpoints, got %d", got.TotalEndpoints)
	}
}

func TestResolve_MissingSelector_ReturnsBadRequest(t *testing.T) {
	deps := httpapi.Deps{Dispatch: &fakeDispatch{}}
	router := httpapi.NewRouter(deps, "*", nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/resolve", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestResolve_ModelNotFound_ReturnsNotFound(t *testing.T) {
	deps := httpapi.Deps{Dispatch: &fakeDispatch{err: dispatch.ErrModelNotFound}}
	router := httpapi.NewRouter(deps, "*", nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/resolve", strings.NewReader(`{"model_selector":"llama3"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestResolveAndChat_ForwardsPrompt(t *testing.T) {
	deps := httpapi.Deps{
		Dispatch: &fakeDispatch{
			resolved: &dispatch.Resolved{EndpointID: 1, IP: "198.51.100.1", Port: 11434, ModelID: 2, ModelName: "llama3:8b"},
			result:   &dispatch.ForwardResult{Content: "hi there"},
		},
	}
	router := httpapi.NewRouter(deps, "*", nil, nil)

	body := `{"model_selector":"llama3","prompt":"hello"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got dispatch.ForwardResult
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Content != "hi there" {
		t.Fatalf("expected forwarded content, got %q", got.Content)
	}
}

func TestHealth_ReturnsOK(t *testing.T) {
	router := httpapi.NewRouter(httpapi.Deps{}, "*", nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHealth_RateLimited_Returns429(t *testing.T) {
	limiter := middleware.NewRateLimiter(1, 1)
	router := httpapi.NewRouter(httpapi.Deps{}, "*", limiter, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "203.0.113.5:1234"

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", rec.Code)
	}

	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", rec2.Code)
	}
}
