package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesRenamedKeys(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "drainer", "test", "1.2.3", "info")

	l.Warn(context.Background(), "retries_exceeded", "too many retries", slog.Int("retry_count", 4))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "retries_exceeded", line["event"])
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "too many retries", line["msg"])
	assert.Equal(t, "drainer", line["service"])
	assert.Equal(t, "1.2.3", line["version"])
	assert.EqualValues(t, 4, line["retry_count"])
	assert.Contains(t, line, "ts")
}

func TestLoggerKeepsEventAndMessageSeparate(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "drainer", "test", "", "info")

	l.Error(context.Background(), "message_delete_failed", "Failed to delete message 0: X - y")

	raw := buf.String()
	assert.Equal(t, 1, strings.Count(raw, `"event":`))
	assert.Equal(t, 1, strings.Count(raw, `"msg":`))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "message_delete_failed", line["event"])
	assert.Equal(t, "Failed to delete message 0: X - y", line["msg"])
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "drainer", "test", "", "error")

	l.Info(context.Background(), "noise", "ignored")
	l.Debug(context.Background(), "noise", "ignored")
	assert.Zero(t, buf.Len())

	l.Error(context.Background(), "boom", "kept")
	assert.NotZero(t, buf.Len())
}

func TestWithAddsAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "drainer", "test", "", "debug").With(slog.String("queue", "orders"))

	l.Debug(context.Background(), "tick", "tick")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "orders", line["queue"])
}

func TestZeroLoggerIsSilent(t *testing.T) {
	var l Logger
	assert.NotPanics(t, func() {
		l.Error(context.Background(), "boom", "nothing happens")
	})
	assert.NotPanics(t, func() {
		Nop().Info(context.Background(), "x", "y")
	})
}
