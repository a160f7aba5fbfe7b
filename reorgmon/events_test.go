package reorgmon

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAlerter struct {
	calls []EventType
}

func (a *recordingAlerter) Alert(typ EventType, payload map[string]any) {
	a.calls = append(a.calls, typ)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
}

func TestEmitterWritesOneJSONLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	em := newEmitter(&buf, discardLogger(), NoopAlerter(), func() time.Time { return now })

	err := em.emit(EventBlockReceived, map[string]any{"height": uint64(10)})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "BLOCK_RECEIVED", decoded["event_type"])
	assert.Equal(t, float64(10), decoded["height"])
	assert.Equal(t, "2026-01-02T03:04:05Z", decoded["timestamp"])
}

func TestEmitterForwardsCriticalEventsToAlerter(t *testing.T) {
	var buf bytes.Buffer
	alerter := &recordingAlerter{}
	em := newEmitter(&buf, discardLogger(), alerter, time.Now)

	require.NoError(t, em.emit(EventBlockReceived, map[string]any{}))
	require.NoError(t, em.emit(EventBlockReplaced, map[string]any{"severity": severityCritical}))

	assert.Equal(t, []EventType{EventBlockReplaced}, alerter.calls)
}
