// Package alerting fans scan-summary and honeypot-detection notifications
// out to every configured notifier.Notifier, mirroring the teacher's
// NotificationService's dispatch-and-log-on-failure shape.
package alerting

import (
	"context"
	"log/slog"

	"github.com/Strob0t/CodeForge/internal/port/notifier"
)

// Source identifiers used as notifier.Notification.Source.
const (
	SourceScanCompleted    = "scan.completed"
	SourceHoneypotDetected = "honeypot.detected"
)

// Service dispatches notifications to all registered notifiers.
type Service struct {
	notifiers     []notifier.Notifier
	enabledEvents map[string]bool
}

// New creates an alerting Service with the given notifiers and list of
// enabled event sources (SourceScanCompleted, SourceHoneypotDetected). If
// enabledEvents is nil or empty, all events are enabled.
func New(notifiers []notifier.Notifier, enabledEvents []string) *Service {
	enabled := make(map[string]bool, len(enabledEvents))
	for _, e := range enabledEvents {
		enabled[e] = true
	}
	return &Service{notifiers: notifiers, enabledEvents: enabled}
}

// Notify sends a notification to all registered notifiers. Errors are
// logged but do not interrupt delivery to other notifiers.
func (s *Service) Notify(ctx context.Context, n notifier.Notification) {
	if len(s.enabledEvents) > 0 && !s.enabledEvents[n.Source] {
		return
	}

	for _, provider := range s.notifiers {
		if err := provider.Send(ctx, n); err != nil {
			slog.Warn("notification send failed", "provider", provider.Name(), "title", n.Title, "error", err)
			continue
		}
		slog.Debug("notification sent", "provider", provider.Name(), "title", n.Title)
	}
}

// NotifierCount returns the number of registered notifiers.
func (s *Service) NotifierCount() int {
	return len(s.notifiers)
}
