package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter(t *testing.T) {
	t.Run("production logs JSON", func(t *testing.T) {
		var buf bytes.Buffer
		NewWithWriter(&buf, "production", "info").Info("invoice created", "name", "alice")

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "invoice created", line["msg"])
		assert.Equal(t, "nip05d", line["service"])
		assert.Equal(t, "alice", line["name"])
	})

	t.Run("level filters debug", func(t *testing.T) {
		var buf bytes.Buffer
		NewWithWriter(&buf, "production", "warn").Info("hidden")
		assert.Empty(t, buf.String())
	})

	t.Run("local logs text", func(t *testing.T) {
		var buf bytes.Buffer
		NewWithWriter(&buf, "local", "debug").Debug("poll", "payment_hash", "abc")
		assert.Contains(t, buf.String(), "payment_hash=abc")
	})
}
