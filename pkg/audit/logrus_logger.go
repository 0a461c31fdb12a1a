package audit

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LogrusLogger writes audit events as JSON lines through a dedicated
// logrus instance
type LogrusLogger struct {
	log    *logrus.Logger
	closer io.Closer
	now    func() time.Time
	mu     sync.Mutex
}

// NewLogrusLogger writes to out. out is not closed by Close.
func NewLogrusLogger(out io.Writer) *LogrusLogger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetLevel(logrus.InfoLevel)
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyMsg:  "message",
			logrus.FieldKeyTime: "logged_at",
		},
	})
	return &LogrusLogger{log: log, now: time.Now}
}

// NewFileLogger appends audit events to path, creating parent directories
func NewFileLogger(path string) (*LogrusLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	l := NewLogrusLogger(f)
	l.closer = f
	return l, nil
}

// Log implements Logger
func (l *LogrusLogger) Log(ctx context.Context, event *Event) error {
	if event == nil {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now().UTC()
	}

	fields := logrus.Fields{
		"event_type": event.EventType,
		"status":     event.Status,
		"timestamp":  event.Timestamp,
	}
	if event.ActorID != nil {
		fields["actor_id"] = *event.ActorID
	}
	if event.Username != "" {
		fields["username"] = event.Username
	}
	if event.ResourceType != "" {
		fields["resource_type"] = event.ResourceType
		fields["resource_id"] = event.ResourceID
	}
	if event.TargetUserID != nil {
		fields["target_user_id"] = *event.TargetUserID
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	if event.Path != "" {
		fields["path"] = event.Path
	}
	if event.ErrorMessage != "" {
		fields["error_message"] = event.ErrorMessage
	}
	if len(event.Metadata) > 0 {
		fields["metadata"] = event.Metadata
	}
	if event.Changes != nil {
		fields["changes"] = event.Changes
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry := l.log.WithFields(fields)
	switch event.Status {
	case EventStatusFailure:
		entry.Error(event.Message)
	case EventStatusDenied:
		entry.Warn(event.Message)
	default:
		entry.Info(event.Message)
	}
	return nil
}

// Close implements Logger
func (l *LogrusLogger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}
