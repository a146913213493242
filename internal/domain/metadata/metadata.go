// Package metadata defines the catalog's key/value journal for schema
// version and audit events, upsert-by-key.
package metadata

import (
	"strconv"
	"time"
)

// Entry is one row of the metadata journal.
type Entry struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// Well-known keys.
const (
	KeySchemaVersion = "schema_version"
	KeyLastSync      = "last_sync"
	KeyServerCount   = "server_count"
)

// EndpointChangeKey builds the audit key for a per-endpoint change event,
// e.g. "endpoint_42_verified_change".
func EndpointChangeKey(endpointID int64, kind string) string {
	return "endpoint_" + strconv.FormatInt(endpointID, 10) + "_" + kind + "_change"
}

// SchemaUpdateKey builds the audit key for a numbered migration breadcrumb.
func SchemaUpdateKey(n int) string {
	return "schema_update_" + strconv.Itoa(n)
}
