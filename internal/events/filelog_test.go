package events

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLog_Disabled(t *testing.T) {
	l, err := NewFileLog(FileLogConfig{Enabled: false})
	require.NoError(t, err)

	l.Write(&Event{Engine: "flow", Message: "ignored"})
	assert.Equal(t, "", l.Path())
	assert.NoError(t, l.Close())
	assert.NoError(t, l.Rotate())
}

func TestFileLog_WritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "events.log")
	l, err := NewFileLog(FileLogConfig{Enabled: true, LogPath: path})
	require.NoError(t, err)

	bus, _ := quietBus(t)
	l.Attach(bus)

	bus.LogEvent("sandbox", "Sandbox execution completed", "t-9", map[string]any{"status": "passed"})
	bus.LogEvent("audit", "File audit passed", "t-9", nil)
	bus.Shutdown()
	require.NoError(t, l.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		lines = append(lines, e)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "sandbox", lines[0].Engine)
	assert.Equal(t, "passed", lines[0].Extra["status"])
	assert.Equal(t, "File audit passed", lines[1].Message)
	assert.False(t, lines[1].Timestamp.IsZero())
}
