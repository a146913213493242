package dispatch

import "time"

// ChatHistoryEntry is an append-only record of one user-initiated inference
// request routed by Dispatch (§3 "ChatHistory").
type ChatHistoryEntry struct {
	ID           int64
	UserID       string
	ModelID      int64
	Prompt       string
	SystemPrompt string
	Response     string
	Temperature  float64
	MaxTokens    int
	Timestamp    time.Time
	EvalCount    *int64
	EvalDuration *time.Duration
}
