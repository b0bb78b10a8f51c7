package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	t.Run("creates with default config", func(t *testing.T) {
		assert.NotNil(t, New(nil))
	})

	t.Run("writes json", func(t *testing.T) {
		buf := &bytes.Buffer{}
		l := New(&Config{Level: "debug", Format: "json", Output: buf})

		l.Info("test message", zap.String("room", "project:1"))

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "test message", entry["msg"])
		assert.Equal(t, "project:1", entry["room"])
	})

	t.Run("respects level", func(t *testing.T) {
		buf := &bytes.Buffer{}
		l := New(&Config{Level: "warn", Format: "console", Output: buf})

		l.Info("hidden")
		l.Warn("shown")

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})
}

func TestParseLevel(t *testing.T) {
	tests := map[string]string{
		"debug":   "debug",
		"WARN":    "warn",
		"warning": "warn",
		"error":   "error",
		"bogus":   "info",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, parseLevel(in).String())
		})
	}
}
