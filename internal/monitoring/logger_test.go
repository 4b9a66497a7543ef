package monitoring

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogs(t *testing.T) *[]string {
	t.Helper()
	prev := Logf
	t.Cleanup(func() { Logf = prev })

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	return &lines
}

func TestSetLogger(t *testing.T) {
	lines := captureLogs(t)

	Logf("hello %d", 1)
	require.Len(t, *lines, 1)
	assert.Equal(t, "hello 1", (*lines)[0])

	// nil installs a no-op logger rather than leaving Logf nil
	SetLogger(nil)
	assert.NotPanics(t, func() { Logf("dropped") })
	assert.Len(t, *lines, 1)
}

func TestThrottle_SuppressesAndReports(t *testing.T) {
	lines := captureLogs(t)

	th := NewThrottle(time.Hour, 1)
	th.Logf("write failed: %v", "broken pipe")
	th.Logf("write failed: %v", "broken pipe")
	th.Logf("write failed: %v", "broken pipe")

	require.Len(t, *lines, 1, "only the first message fits in the burst")
	assert.Equal(t, "write failed: broken pipe", (*lines)[0])
	assert.Equal(t, 2, th.suppressed)
}

func TestThrottle_ReportsSuppressedCount(t *testing.T) {
	lines := captureLogs(t)

	th := NewThrottle(200*time.Millisecond, 1)
	th.Logf("first")
	th.Logf("second")
	time.Sleep(300 * time.Millisecond)
	th.Logf("third")

	require.Len(t, *lines, 2)
	assert.Equal(t, "third (1 similar suppressed)", (*lines)[1])
}

func TestNewLogger(t *testing.T) {
	t.Run("defaults to info", func(t *testing.T) {
		l, err := NewLogger(LoggerOptions{NoColors: true})
		require.NoError(t, err)
		assert.Equal(t, logrus.InfoLevel, l.GetLevel())
	})

	t.Run("rejects unknown level", func(t *testing.T) {
		_, err := NewLogger(LoggerOptions{Level: "chatty"})
		assert.Error(t, err)
	})

	t.Run("installs into Logf", func(t *testing.T) {
		prev := Logf
		defer func() { Logf = prev }()

		l, err := NewLogger(LoggerOptions{
			Level:    "debug",
			File:     filepath.Join(t.TempDir(), "tracklink.log"),
			NoColors: true,
		})
		require.NoError(t, err)
		assert.Equal(t, logrus.DebugLevel, l.GetLevel())

		Install(l)
		assert.NotPanics(t, func() { Logf("[Test] installed %s", "ok") })
	})
}
