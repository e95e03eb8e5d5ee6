package logger

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsolatedLoggerWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webhook.log")
	l := NewIsolatedLogger(path)

	l.Info("Webhook", "Delivery attempted", map[string]interface{}{"attempt": 1, "delivery_id": "d-1"})
	l.Debug("Webhook", "below file level", nil)
	require.NoError(t, l.Sync())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		lines = append(lines, entry)
	}

	require.Len(t, lines, 1)
	assert.Equal(t, "INFO", lines[0]["level"])
	assert.Equal(t, "Delivery attempted", lines[0]["message"])
	assert.Equal(t, "Webhook", lines[0]["module"])
	details := lines[0]["details"].(map[string]interface{})
	assert.Equal(t, "d-1", details["delivery_id"])
}

func TestNopLoggerAcceptsNilDetails(t *testing.T) {
	l := NewNopLogger()
	assert.NotPanics(t, func() {
		l.Info("Test", "nil details", nil)
		l.Error("Test", "with error", map[string]interface{}{"error": "boom"})
	})
}
