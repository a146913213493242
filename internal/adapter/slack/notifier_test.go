package slack

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Strob0t/CodeForge/internal/port/notifier"
)

// Compile-time interface check.
var _ notifier.Notifier = (*Notifier)(nil)

func TestNotifierName(t *testing.T) {
	n := NewNotifier("")
	if n.Name() != "slack" {
		t.Fatalf("expected 'slack', got %q", n.Name())
	}
}

func TestCapabilities(t *testing.T) {
	n := NewNotifier("")
	caps := n.Capabilities()
	if !caps.RichFormatting {
		t.Fatal("expected RichFormatting=true")
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
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL)
	err := n.Send(context.Background(), notifier.Notification{
		Title:   "Scan run completed",
		Message: "run 2026-07-31T00:00:00Z: 500 candidates, 12 valid, 488 invalid",
		Level:   "success",
		Source:  "scan.completed",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSendAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL)
	err := n.Send(context.Background(), notifier.Notification{
		Title:   "Test",
		Message: "Test message",
		Level:   "info",
	})
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestSendHoneypotSplitsEndpointAndReason(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
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

	var payload slackMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("unmarshal webhook body: %v", err)
	}

	var fieldsBlock *slackBlock
	for i := range payload.Blocks {
		if len(payload.Blocks[i].Fields) > 0 {
			fieldsBlock = &payload.Blocks[i]
			break
		}
	}
	if fieldsBlock == nil {
		t.Fatal("expected a section block with fields for the honeypot alert")
	}
	if len(fieldsBlock.Fields) != 2 {
		t.Fatalf("expected 2 fields (endpoint, reason), got %d", len(fieldsBlock.Fields))
	}
	if fieldsBlock.Fields[0].Text != "*Endpoint*\n198.51.100.1:11434" {
		t.Errorf("unexpected endpoint field text: %q", fieldsBlock.Fields[0].Text)
	}
	if fieldsBlock.Fields[1].Text != "*Reason*\nimplausible token rate" {
		t.Errorf("unexpected reason field text: %q", fieldsBlock.Fields[1].Text)
	}
}
