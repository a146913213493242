package probe_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/Strob0t/CodeForge/internal/adapter/probe"
	"github.com/Strob0t/CodeForge/internal/domain/verification"
)

func splitHostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return u.Hostname(), port
}

func TestProbe_ValidOllamaSequence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"models": []map[string]any{
					{"name": "llama3:8b", "size": 4_000_000_000, "details": map[string]string{"parameter_size": "8B", "quantization_level": "Q4_0"}},
					{"name": "tinyllama", "size": 600_000_000, "details": map[string]string{"parameter_size": "1.1B"}},
				},
			})
		case "/api/generate":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"response":      "Hello! I'm doing well, thanks for asking.",
				"eval_count":    20,
				"eval_duration": 500_000_000,
			})
		case "/api/version":
			_ = json.NewEncoder(w).Encode(map[string]string{"version": "0.1.2"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ip, port := splitHostPort(t, srv.URL)
	client := probe.New(nil)
	result := client.Probe(context.Background(), ip, port)

	if result.Err != nil {
		t.Fatalf("expected no probe error, got %v", result.Err)
	}
	if len(result.Tags) != 2 {
		t.Fatalf("expected 2 tags, got %d", len(result.Tags))
	}
	if result.GenerateBody == "" {
		t.Fatal("expected non-empty generate body")
	}
	if result.Version != "0.1.2" {
		t.Fatalf("expected version 0.1.2, got %q", result.Version)
	}
	if result.Metrics.EvalCount != 20 {
		t.Fatalf("expected eval count 20, got %d", result.Metrics.EvalCount)
	}
}

func TestProbe_AuthRequired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	ip, port := splitHostPort(t, srv.URL)
	client := probe.New(nil)
	result := client.Probe(context.Background(), ip, port)

	if result.Err == nil {
		t.Fatal("expected probe error")
	}
	if !result.AuthRequired {
		t.Fatal("expected AuthRequired to be true")
	}
	if result.Err.Kind != verification.KindAuthRequired {
		t.Fatalf("expected auth_required kind, got %v", result.Err.Kind)
	}
}

func TestProbe_TagsUnreachable_ShortCircuits(t *testing.T) {
	client := probe.New(nil)
	result := client.Probe(context.Background(), "203.0.113.254", 1)

	if result.Err == nil {
		t.Fatal("expected probe error for unreachable host")
	}
	if result.Err.Kind != verification.KindTransport {
		t.Fatalf("expected transport kind, got %v", result.Err.Kind)
	}
	if result.GenerateBody != "" {
		t.Fatal("expected probe to short-circuit before step 3")
	}
}
