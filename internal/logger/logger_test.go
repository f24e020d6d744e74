package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"INFO":    zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		" error ": zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		require.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestWriterLogger_KeyValues(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "debug")

	l.Info("summary completed", "requestId", "r-1", "chars", 42, "error", fmt.Errorf("boom"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "info", line["level"])
	require.Equal(t, "summary completed", line["message"])
	require.Equal(t, "r-1", line["requestId"])
	require.Equal(t, float64(42), line["chars"])
	require.Equal(t, "boom", line["error"])
}

func TestWriterLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "warn")

	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "shown")
}

func TestWriterLogger_With(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "info").With("component", "coordinator")

	l.Info("started", "odd")

	out := buf.String()
	require.True(t, strings.Contains(out, `"component":"coordinator"`), out)
	require.Contains(t, out, `"odd":"(MISSING)"`)
}

func TestNop(t *testing.T) {
	l := NewNop()
	l.Error("nothing happens", "k", "v")
	l.With("a", 1).Info("still nothing")
}
