package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"loud", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSlogLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(WithFormat(FormatJSON), WithOutput(&buf), WithAttr(slog.String("queue", "q1")))

	l.Info("item enqueued", F("id", "abc"), F("size", 5))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "item enqueued", rec["msg"])
	assert.Equal(t, "abc", rec["id"])
	assert.Equal(t, float64(5), rec["size"])
	assert.Equal(t, "q1", rec["queue"])
}

func TestSlogLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New(WithLevel(LevelWarn), WithOutput(&buf))

	l.Debug("hidden")
	l.Info("hidden")
	assert.Zero(t, buf.Len())

	l.Warn("shown", F("k", "v"))
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "k=v")
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}

func TestNoopLogger(t *testing.T) {
	var l Logger = NoopLogger{}
	l.Debug("x")
	l.Info("x")
	l.Warn("x")
	l.Error("x", F("a", 1))
}
