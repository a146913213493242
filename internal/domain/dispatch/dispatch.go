// Package dispatch defines the value types and pure timeout math used by the
// Dispatch Service (C7): resolving a model selector to a healthy endpoint and
// forwarding a chat request to it.
package dispatch

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrModelNotFound is returned by Resolve when no live endpoint hosts a
// model matching the selector.
var ErrModelNotFound = errors.New("dispatch: model not found")

// ResolveRequest selects a model to dispatch to.
type ResolveRequest struct {
	ModelSelector string
	UserID        string
}

// Resolved is a model paired with the endpoint currently serving it.
type Resolved struct {
	EndpointID int64
	IP         string
	Port       int
	ModelID    int64
	ModelName  string
}

// ForwardRequest is the input to the Forward operation.
type ForwardRequest struct {
	Resolved     Resolved
	UserID       string
	Prompt       string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	SaveHistory  bool
	Verbose      bool
}

// ForwardResult is the parsed response of a successful forward.
type ForwardResult struct {
	Content      string
	EvalCount    int64
	EvalDuration time.Duration
}

// ForwardTimeout is the fixed total deadline for interactive forwarding
// (§4.7). Verification does not use it or the adaptive curve below.
const ForwardTimeout = 60 * time.Second

const (
	adaptiveBase    = 180 * time.Second
	adaptiveMinimum = 60 * time.Second
	adaptiveMaximum = 1800 * time.Second
)

var modelSizePattern = regexp.MustCompile(`(\d+)b`)

// AdaptiveTimeout computes the §4.2 adaptive timeout for forwarding an
// inference request: base=180s × param_factor × prompt_factor × token_factor,
// bounded to [60s, 1800s]. An override of exactly 0 disables the timeout
// (returns 0, meaning "no deadline").
func AdaptiveTimeout(modelName, prompt string, maxTokens int, override *time.Duration) time.Duration {
	if override != nil {
		return *override
	}

	paramFactor := paramFactorFor(strings.ToLower(modelName))

	promptFactor := 1.0 + float64(len(prompt))/1000.0

	if maxTokens < 1 {
		maxTokens = 1
	}
	tokenFactor := float64(maxTokens) / 1000.0
	if tokenFactor < 1.0 {
		tokenFactor = 1.0
	}

	d := float64(adaptiveBase) * paramFactor * promptFactor * tokenFactor
	timeout := time.Duration(d)

	if timeout < adaptiveMinimum {
		return adaptiveMinimum
	}
	if timeout > adaptiveMaximum {
		return adaptiveMaximum
	}
	return timeout
}

func paramFactorFor(nameLower string) float64 {
	if m := modelSizePattern.FindStringSubmatch(nameLower); m != nil {
		size, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			if size >= 50 {
				return 2.5 + size/20
			}
			return 1.0 + size/10
		}
	}

	switch {
	case strings.Contains(nameLower, "70b"):
		return 6.0
	case strings.Contains(nameLower, "14b"), strings.Contains(nameLower, "13b"):
		return 2.4
	case strings.Contains(nameLower, "7b"), strings.Contains(nameLower, "8b"):
		return 1.7
	default:
		return 1.0
	}
}
