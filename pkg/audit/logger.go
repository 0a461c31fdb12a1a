package audit

import (
	"context"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an audit event. Implementations fill in Timestamp when zero.
	Log(ctx context.Context, event *Event) error

	// Close flushes and releases resources
	Close() error
}

// NopLogger discards every event
type NopLogger struct{}

// Log implements Logger
func (NopLogger) Log(ctx context.Context, event *Event) error { return nil }

// Close implements Logger
func (NopLogger) Close() error { return nil }

// Int64 returns a pointer to v, for optional actor and target IDs
func Int64(v int64) *int64 {
	return &v
}
