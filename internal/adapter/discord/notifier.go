// Package discord implements a notifier.Notifier for Discord webhooks,
// used to post honeypot-detection and scan-summary alerts.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"

	"github.com/Strob0t/CodeForge/internal/port/notifier"
)

// Source identifiers mirrored from internal/service/alerting (an adapter
// must not import the service layer, so these are duplicated literals, not
// a shared import).
const (
	sourceHoneypotDetected = "honeypot.detected"
	sourceScanCompleted    = "scan.completed"
)

const providerName = "discord"

// honeypotMessagePattern matches the Verifier's "%s:%d classified as
// honeypot: %s" message (internal/service/verifier.Service.Verify), letting
// the Discord embed show endpoint and reason as separate fields instead of
// a single run-on description.
var honeypotMessagePattern = regexp.MustCompile(`^(\S+:\d+) classified as honeypot: (.+)$`)

// Notifier sends notifications to Discord via incoming webhook.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
}

// NewNotifier creates a Discord notifier with the given webhook URL.
func NewNotifier(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		httpClient: http.DefaultClient,
	}
}

func (n *Notifier) Name() string { return providerName }

func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{
		RichFormatting: true,
		Threads:        true,
	}
}

// discordWebhook is the Discord webhook payload with embeds.
type discordWebhook struct {
	Embeds []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields,omitempty"`
	Footer      *discordFooter `json:"footer,omitempty"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordFooter struct {
	Text string `json:"text"`
}

// sourceIcon prefixes the embed title with a glyph matching the alert
// source, mirroring the kind of source-specific formatting a Discord bot
// for this domain would carry (the generic webhook payload has no room for
// an icon, only a title string).
func sourceIcon(source string) string {
	switch source {
	case sourceHoneypotDetected:
		return "🕵️ "
	case sourceScanCompleted:
		return "📡 "
	default:
		return ""
	}
}

func (n *Notifier) Send(ctx context.Context, notification notifier.Notification) error {
	if n.webhookURL == "" {
		return notifier.ErrNotConfigured
	}

	embed := discordEmbed{
		Title: sourceIcon(notification.Source) + notification.Title,
		Color: levelColor(notification.Level),
	}

	if notification.Source == sourceHoneypotDetected {
		if m := honeypotMessagePattern.FindStringSubmatch(notification.Message); m != nil {
			embed.Fields = []discordField{
				{Name: "Endpoint", Value: m[1], Inline: true},
				{Name: "Reason", Value: m[2]},
			}
		} else {
			embed.Description = notification.Message
		}
	} else {
		embed.Description = notification.Message
	}

	if notification.Source != "" {
		embed.Footer = &discordFooter{Text: "Source: " + notification.Source}
	}

	msg := discordWebhook{
		Embeds: []discordEmbed{embed},
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("discord marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req) //nolint:gosec // webhook URL from trusted config
	if err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Discord returns 204 on success
	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("discord API %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// levelColor returns Discord embed color integers for notification levels.
func levelColor(level string) int {
	switch level {
	case "success":
		return 0x2ECC71 // green
	case "error":
		return 0xE74C3C // red
	case "warning":
		return 0xF39C12 // orange
	default:
		return 0x3498DB // blue (info)
	}
}
