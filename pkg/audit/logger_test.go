package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogrusLogger_WritesJSONLine(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogrusLogger(&buf)
	l.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }

	err := l.Log(context.Background(), &Event{
		EventType:    EventTypeRoleAssign,
		Status:       EventStatusSuccess,
		ActorID:      Int64(1),
		ResourceType: ResourceTypeRole,
		ResourceID:   "12",
		TargetUserID: Int64(99),
		Message:      "role assigned",
		Metadata:     map[string]interface{}{"is_primary": true},
	})
	require.NoError(t, err)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "role assigned", line["message"])
	assert.Equal(t, "assignment.assign", line["event_type"])
	assert.Equal(t, float64(1), line["actor_id"])
	assert.Equal(t, float64(99), line["target_user_id"])
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "2026-03-01T09:00:00Z", line["timestamp"])
}

func TestLogrusLogger_DeniedIsWarn(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogrusLogger(&buf)

	require.NoError(t, l.Log(context.Background(), &Event{
		EventType: EventTypeAccessDenied,
		Status:    EventStatusDenied,
		Message:   "missing users:edit",
	}))
	assert.Contains(t, buf.String(), `"level":"warning"`)
}

func TestNewFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.log")
	l, err := NewFileLogger(path)
	require.NoError(t, err)

	require.NoError(t, l.Log(context.Background(), &Event{EventType: EventTypeRoleDelete, Status: EventStatusSuccess}))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "role.delete")
}

type failingLogger struct{ closed bool }

func (f *failingLogger) Log(ctx context.Context, e *Event) error { return errors.New("sink down") }
func (f *failingLogger) Close() error                             { f.closed = true; return nil }

func TestMultiLogger_ContinuesAfterFailure(t *testing.T) {
	var buf bytes.Buffer
	failing := &failingLogger{}
	m := NewMultiLogger(failing, NewLogrusLogger(&buf))

	err := m.Log(context.Background(), &Event{EventType: EventTypeRoleCreate, Status: EventStatusSuccess})
	assert.Error(t, err)
	assert.Contains(t, buf.String(), "role.create")

	require.NoError(t, m.Close())
	assert.True(t, failing.closed)
}

func TestNopLogger(t *testing.T) {
	var l Logger = NopLogger{}
	assert.NoError(t, l.Log(context.Background(), &Event{}))
	assert.NoError(t, l.Close())
}
