package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSONFieldsAndLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := NewLogger(LogConfig{Level: "warn", Output: buf})
	require.NoError(t, err)

	logger.Info("dropped")
	logger.With("component", "ledger").Warn("balance low", "user_id", "u1", "tokens", 2)
	require.NoError(t, logger.Sync())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "balance low", entry["msg"])
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "ledger", entry["component"])
	assert.Equal(t, "u1", entry["user_id"])
	assert.EqualValues(t, 2, entry["tokens"])
}

func TestNewLogger_TextFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := NewLogger(LogConfig{Level: "debug", Format: "text", Output: buf})
	require.NoError(t, err)

	logger.Debug("sweep started")
	assert.Contains(t, buf.String(), "sweep started")
	assert.False(t, strings.HasPrefix(buf.String(), "{"))
}

func TestNewLogger_RotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatgem.log")
	logger, err := NewLogger(LogConfig{Level: "info", Output: &bytes.Buffer{}, FilePath: path})
	require.NoError(t, err)

	logger.Info("written to file")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "***", MaskSecret("short"))
	assert.Equal(t, "whse...cret", MaskSecret("whsec_long_secret"))
}
