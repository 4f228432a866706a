package console

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmared/pulse/pkg/logger"
	"github.com/farmared/pulse/pkg/pulse"
)

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestConsoleTransport_ImplementsTransportInterface(t *testing.T) {
	var _ pulse.Transport = NewConsoleTransport(logger.NewTestLogger())
}

func TestConsoleTransport_LogsSummary(t *testing.T) {
	var buf bytes.Buffer
	tr := NewConsoleTransport(logger.NewWithWriter(&buf, zerolog.InfoLevel))

	err := tr.Send(context.Background(), pulse.SessionEndpoint, pulse.Session{SessionID: "sess_1"})
	require.NoError(t, err)

	got := lines(t, &buf)
	require.Len(t, got, 1)
	assert.Equal(t, "console_transport", got[0]["component"])
	assert.Equal(t, pulse.SessionEndpoint, got[0]["endpoint"])
	assert.Equal(t, "session", got[0]["kind"])
	assert.NotContains(t, got[0], "body")
}

func TestConsoleTransport_VerboseLogsBody(t *testing.T) {
	var buf bytes.Buffer
	tr := NewConsoleTransport(logger.NewWithWriter(&buf, zerolog.InfoLevel), WithVerbose())

	err := tr.Send(context.Background(), pulse.ErrorEndpoint, pulse.ErrorRecord{Message: "boom", Module: "checkout"})
	require.NoError(t, err)

	got := lines(t, &buf)
	require.Len(t, got, 1)
	body, ok := got[0]["body"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "boom", body["message"])
	assert.Equal(t, "checkout", body["module"])
}

func TestConsoleTransport_UnknownBody(t *testing.T) {
	var buf bytes.Buffer
	tr := NewConsoleTransport(logger.NewWithWriter(&buf, zerolog.InfoLevel))

	require.NoError(t, tr.Send(context.Background(), "/x", 42))
	require.NoError(t, tr.Send(context.Background(), "/x", nil))

	got := lines(t, &buf)
	require.Len(t, got, 2)
	assert.Equal(t, "unknown", got[0]["kind"])
	assert.Equal(t, "empty", got[1]["kind"])
}
