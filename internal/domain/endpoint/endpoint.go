// Package endpoint defines the Endpoint aggregate: a network location that
// may or may not host a compatible inference API.
package endpoint

import (
	"fmt"
	"time"
)

// APIType identifies the inference protocol an Endpoint speaks.
type APIType string

const (
	APITypeOllama  APIType = "ollama"
	APITypeLocalAI APIType = "localai"
	APITypeUnknown APIType = "unknown"
)

// VerifiedState is the tri-state verification status of an Endpoint.
type VerifiedState int

const (
	VerifiedNever    VerifiedState = 0
	VerifiedOK       VerifiedState = 1
	VerifiedRejected VerifiedState = 2
)

// Capability is one of the fixed set of API surfaces an Endpoint may expose.
type Capability string

const (
	CapabilityChat           Capability = "chat"
	CapabilityCompletion     Capability = "completion"
	CapabilityEmbedding      Capability = "embedding"
	CapabilityVision         Capability = "vision"
	CapabilityAudio          Capability = "audio"
	CapabilityFunctionCalling Capability = "function_calling"
)

// Endpoint is a reachable network location in the catalog.
type Endpoint struct {
	ID               int64
	IP               string
	Port             int
	APIType          APIType
	APIVersion       string
	Capabilities     []Capability
	AuthRequired     bool
	ScanDate         time.Time
	LastCheckDate    time.Time
	VerificationDate *time.Time
	Verified         VerifiedState
	IsActive         bool
	InactiveReason   string
	IsHoneypot       bool
	HoneypotReason   string
	AddedBy          string
	Description      string
}

// Key identifies an Endpoint by its unique (ip, port) pair.
type Key struct {
	IP   string
	Port int
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d", k.IP, k.Port)
}

// ListFilter narrows a Query Service endpoint listing.
type ListFilter struct {
	APIType      APIType
	Capability   Capability
	AuthRequired *bool
	ActiveOnly   bool
}

// UpsertStatus is the scan-time status passed into a Verifier run, used to
// seed Endpoint.Verified when the row does not yet exist or preservation
// does not apply.
type UpsertStatus string

const (
	ScanStatusVerified   UpsertStatus = "verified"
	ScanStatusUnverified UpsertStatus = "unverified"
)
