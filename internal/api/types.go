// Package api implements the HTTP client for the Brigade sync endpoints.
// It is intentionally free of the root package so the client SDK can embed
// it without an import cycle; tables and actions travel as plain strings in
// their wire spelling.
package api

import (
	"encoding/json"
	"time"
)

// ChangeEnvelope is one mutation on the wire.
type ChangeEnvelope struct {
	Table    string          `json:"table"`
	Action   string          `json:"action"`
	RecordID string          `json:"recordId"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// PushRequest for POST /api/v1/tenants/{tenant}/sync/push.
type PushRequest struct {
	SourceID string           `json:"sourceId,omitempty"`
	Changes  []ChangeEnvelope `json:"changes"`
}

// BatchResult is the server's outcome for a single change.
type BatchResult struct {
	RecordID string `json:"recordId"`
	Table    string `json:"table"`
	Status   string `json:"status"` // SUCCESS | SKIPPED | ERROR
	NewID    string `json:"newId,omitempty"`
	Error    string `json:"error,omitempty"`
	Message  string `json:"message,omitempty"`
}

// PushError is a batch-level rejection detail.
type PushError struct {
	RecordID string `json:"recordId"`
	Table    string `json:"table"`
	Error    string `json:"error"`
}

// PushResponse from the push endpoint.
type PushResponse struct {
	Success bool          `json:"success"`
	Synced  int           `json:"synced"`
	Failed  int           `json:"failed"`
	Results []BatchResult `json:"results"`
	Errors  []PushError   `json:"errors,omitempty"`
}

// Snapshot is the full replica payload keyed by collection wire name. Raw
// documents are decoded per collection by the caller so one malformed
// collection cannot poison the rest.
type Snapshot map[string][]json.RawMessage

// PullResponse from GET /api/v1/tenants/{tenant}/sync/pull.
type PullResponse struct {
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
	Data      Snapshot  `json:"data"`
}

// HealthResponse from GET /api/v1/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
