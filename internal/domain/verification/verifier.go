package verification

import "github.com/Strob0t/CodeForge/internal/domain/endpoint"

// Request is the input to one Verifier run (§4.4).
type Request struct {
	IP               string
	Port             int
	ScanStatus       endpoint.UpsertStatus
	PreserveVerified bool
}

// Outcome is the Verifier's report of what happened to one candidate.
type Outcome struct {
	EndpointID     int64
	IP             string
	Port           int
	Verdict        Verdict
	Reason         string
	AuthRequired   bool
	ModelsAdded    int
	ModelsUpdated  int
	ModelsRemoved  int
}
