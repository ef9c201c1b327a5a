package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{LogLevel: "warn", LogFormat: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "session_id", "s1")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"session_id":"s1"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestInit(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{Traces: "none"}, nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	var buf bytes.Buffer
	shutdown, err = Init(context.Background(), Config{Traces: "stdout"}, &buf)
	require.NoError(t, err)
	_, span := Tracer("test").Start(context.Background(), "unit")
	span.End()
	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "unit")

	_, err = Init(context.Background(), Config{Traces: "zipkin"}, nil)
	assert.Error(t, err)
}
