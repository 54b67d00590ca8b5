package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf, ServiceName: "kindlegarden"})
	require.NoError(t, err)
	defer closer.Close()

	logger.Debug().Msg("hidden")
	logger.Info().Str("job_id", "j1").Msg("job queued")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
	assert.Equal(t, "job queued", record["message"])
	assert.Equal(t, "j1", record["job_id"])
	assert.Equal(t, "kindlegarden", record["service"])
}

func TestNewLogger_TeesToFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "bot.log")
	logger, closer, err := NewLogger(LogConfig{Level: "debug", Format: "console", File: path, Output: &buf})
	require.NoError(t, err)

	logger.Warn().Msg("conversion failed")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "conversion failed")
	assert.Contains(t, buf.String(), "conversion failed")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("nonsense"))
}
