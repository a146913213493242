// Package slack implements a notifier.Notifier for Slack incoming
// webhooks, used to post honeypot-detection and scan-summary alerts.
package slack

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

const providerName = "slack"

// sourceHoneypotDetected mirrors internal/service/alerting.SourceHoneypotDetected
// (an adapter must not import the service layer, so this is a duplicated
// literal, not a shared import).
const sourceHoneypotDetected = "honeypot.detected"

// honeypotMessagePattern matches the Verifier's "%s:%d classified as
// honeypot: %s" message (internal/service/verifier.Service.Verify), letting
// the Slack message show endpoint and reason as separate fields instead of
// one run-on sentence.
var honeypotMessagePattern = regexp.MustCompile(`^(\S+:\d+) classified as honeypot: (.+)$`)

// Notifier sends notifications to Slack via incoming webhook.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
}

// NewNotifier creates a Slack notifier with the given webhook URL.
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
		Threads:        false,
	}
}

// slackMessage is the Slack Block Kit message payload.
type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type   string       `json:"type"`
	Text   *slackText   `json:"text,omitempty"`
	Fields []*slackText `json:"fields,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (n *Notifier) Send(ctx context.Context, notification notifier.Notification) error {
	if n.webhookURL == "" {
		return notifier.ErrNotConfigured
	}

	emoji := levelEmoji(notification.Level)
	headerText := fmt.Sprintf("%s %s", emoji, notification.Title)

	msg := slackMessage{
		Blocks: []slackBlock{
			{Type: "header", Text: &slackText{Type: "plain_text", Text: headerText}},
		},
	}

	if notification.Source == sourceHoneypotDetected {
		if m := honeypotMessagePattern.FindStringSubmatch(notification.Message); m != nil {
			msg.Blocks = append(msg.Blocks, slackBlock{
				Type: "section",
				Fields: []*slackText{
					{Type: "mrkdwn", Text: "*Endpoint*\n" + m[1]},
					{Type: "mrkdwn", Text: "*Reason*\n" + m[2]},
				},
			})
		} else {
			msg.Blocks = append(msg.Blocks, slackBlock{
				Type: "section",
				Text: &slackText{Type: "mrkdwn", Text: notification.Message},
			})
		}
	} else {
		msg.Blocks = append(msg.Blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: notification.Message},
		})
	}

	if notification.Source != "" {
		msg.Blocks = append(msg.Blocks, slackBlock{
			Type: "context",
			Text: &slackText{Type: "mrkdwn", Text: fmt.Sprintf("_Source: %s_", notification.Source)},
		})
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req) //nolint:gosec // webhook URL from trusted config
	if err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("slack API %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

func levelEmoji(level string) string {
	switch level {
	case "success":
		return "[OK]"
	case "error":
		return "[ERROR]"
	case "warning":
		return "[WARN]"
	default:
		return "[INFO]"
	}
}
