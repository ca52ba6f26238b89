package audit

import (
	"context"
	"time"
)

// Entry is one compliance audit record. Audit logging is fire-and-forget:
// callers log a failed write and move on, it must never break the primary
// medical-communication flow.
type Entry struct {
	Action       string         `json:"action"`
	ResourceType string         `json:"resourceType"`
	ResourceID   string         `json:"resourceId,omitempty"`
	PatientID    string         `json:"patientId,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	OccurredAt   time.Time      `json:"occurredAt"`
}

// Sink accepts audit entries for durable storage elsewhere.
type Sink interface {
	LogAccess(ctx context.Context, entry Entry) error
	Close() error
}

// NopSink discards audit entries. Used in tests and when the broker is not
// configured.
type NopSink struct{}

func (NopSink) LogAccess(ctx context.Context, entry Entry) error { return nil }

func (NopSink) Close() error { return nil }
