package endpoint

import "time"

// VerifiedEndpoint marks an Endpoint as currently considered usable. Exactly
// zero or one row exists per Endpoint; presence iff the endpoint's latest
// probe was successful and it is not a honeypot.
type VerifiedEndpoint struct {
	ID                int64
	EndpointID        int64
	VerificationDate  time.Time
	VerificationMethod string
	VerifiedBy        string
}
