package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestNewLoggerWithService(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Options{Output: &buf, Service: "instarelay"})

	l.Info("plain")
	l.WithField("username", "alice").Warn("with fields")
	l.WithField("service", "other").Info("explicit")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 3)
	require.Equal(t, "instarelay", lines[0]["service"])
	require.Equal(t, "instarelay", lines[1]["service"])
	require.Equal(t, "alice", lines[1]["username"])
	require.Equal(t, "other", lines[2]["service"])
}

func TestNewLoggerWithoutService(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Options{Output: &buf, Level: "debug"})
	l.Debug("hello")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	require.NotContains(t, lines[0], "service")
	require.Equal(t, logrus.DebugLevel, l.GetLevel())
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, logrus.WarnLevel, ParseLevel("WARNING"))
	require.Equal(t, logrus.ErrorLevel, ParseLevel("error"))
	require.Equal(t, logrus.InfoLevel, ParseLevel("loud"))
}
