package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultConfig(t *testing.T) {
	log, err := New(DefaultConfig())
	require.NoError(t, err)
	assert.NotNil(t, log)
}

func TestNew_RejectsUnknownOutput(t *testing.T) {
	_, err := New(Config{Output: "syslog"})
	require.Error(t, err)
}

func TestNew_RejectsBadLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	require.Error(t, err)
}

func TestNewWithWriter_WritesComponentField(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, zerolog.InfoLevel).WithComponent("heartbeat")

	log.Info().Str("state", "paused").Msg("heartbeat paused")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "heartbeat", line["component"])
	assert.Equal(t, "paused", line["state"])
	assert.Equal(t, "heartbeat paused", line["message"])
}

func TestNewWithWriter_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, zerolog.WarnLevel)

	log.Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	log.Warn().Msg("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestNewTestLogger_Discards(t *testing.T) {
	log := NewTestLogger()
	// Must not panic with chained calls.
	log.WithComponent("x").Error().Str("k", "v").Msg("ignored")
}
