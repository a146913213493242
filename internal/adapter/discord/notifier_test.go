package discord

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Strob0t/CodeForge/internal/port/notifier"
)

// Compile-time interface check.
var _ notifier.Notifier = (*Notifier)(nil)

func TestNotifierName(t *testing.T) {
	n := NewNotifier("")
	if n.Name() != "discord" {
		t.Fatalf("expected 'discord', got %q", n.Name())
	}
}

func TestCapabilities(t *testing.T) {
	n := NewNotifier("")
	caps := n.Capabilities()
	if !caps.RichFormatting {
		t.Fatal("expected RichFormatting=true")
	}
	if !caps.Threads {
		t.Fatal("expected Threads=true")
	}
}

func TestSendNotConfigured(t *testing.T) {
	n := NewNotifier("")
	err := n.Send(context.Background(), notifier.Notification{Title: "test"})
	if err != notifier.ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSendSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent) // Discord returns 204
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL)
	err := n.Send(context.Background(), notifier.Notification{
		Title:   "Scan run completed",
		Message: "run 2026-07-31T00:00:00Z: 500 candidates, 12 valid, 488 invalid",
		Level:   "info",
		Source:  "scan.completed",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSendAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"rate limited"}`))
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL)
	err := n.Send(context.Background(), notifier.Notification{
		Title:   "Honeypot detected",
		Message: "198.51.100.1:11434 classified as honeypot",
		Level:   "warning",
		Source:  "honeypot.detected",
	})
	if err == nil {
		t.Fatal("expected error for 429 response")
	}
}

func TestSendHoneypotSplitsEndpointAndReason(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL)
	err := n.Send(context.Background(), notifier.Notification{
		Title:   "Honeypot detected",
		Message: "198.51.100.1:11434 classified as honeypot: implausible token rate",
		Level:   "warning",
		Source:  "honeypot.detected",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var payload discordWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("unmarshal webhook body: %v", err)
	}
	if len(payload.Embeds) != 1 {
		t.Fatalf("expected 1 embed, got %d", len(payload.Embeds))
	}
	embed := payload.Embeds[0]
	if !strings.HasPrefix(embed.Title, "🕵️") {
		t.Errorf("expected honeypot icon prefix, got title %q", embed.Title)
	}
	if len(embed.Fields) != 2 {
		t.Fatalf("expected 2 fields (endpoint, reason), got %d", len(embed.Fields))
	}
	if embed.Fields[0].Value != "198.51.100.1:11434" {
		t.Errorf("expected endpoint field %q, got %q", "198.51.100.1:11434", embed.Fields[0].Value)
	}
	if embed.Fields[1].Value != "implausible token rate" {
		t.Errorf("expected reason field %q, got %q", "implausible token rate", embed.Fields[1].Value)
	}
}
