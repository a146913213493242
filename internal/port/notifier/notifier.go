// Package notifier defines the notification port implemented by the
// Discord and Slack webhook adapters. It carries scan-summary and
// honeypot-detection alerts only; it is not the command surface (§1's
// Non-goals keep Discord command handling out of scope here).
package notifier

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when a notifier has no webhook URL set.
var ErrNotConfigured = errors.New("notifier: not configured")

// Notification is the payload sent through a Notifier.
type Notification struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Level   string `json:"level"`  // "info", "success", "warning", "error"
	Source  string `json:"source"` // e.g. "scan.completed", "honeypot.detected"
}

// Capabilities declares which features a notifier supports.
type Capabilities struct {
	RichFormatting bool `json:"rich_formatting"`
	Threads        bool `json:"threads"`
}

// Notifier is the port interface for sending notifications.
type Notifier interface {
	// Name returns the unique identifier for this notifier (e.g. "discord", "slack").
	Name() string

	// Capabilities returns what this notifier supports.
	Capabilities() Capabilities

	// Send delivers a notification.
	Send(ctx context.Context, notification Notification) error
}
