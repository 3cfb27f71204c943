package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONWhenNotATerminal(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn, err := newWithOutput(Config{Level: "debug"}, &buf, false)
	require.NoError(t, err)
	defer closeFn()

	componentLogger := Component(logger, "backfill")
	componentLogger.Debug().Int("batch", 2).Msg("committed")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "backfill", line["component"])
	assert.Equal(t, "committed", line["message"])
	assert.EqualValues(t, 2, line["batch"])
}

func TestNew_ConsoleForTerminal(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := newWithOutput(Config{}, &buf, true)
	require.NoError(t, err)

	logger.Info().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.NotContains(t, buf.String(), `"message"`)
}

func TestNew_LevelFallback(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := newWithOutput(Config{Level: "loud", Format: FormatJSON}, &buf, false)
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())

	logger.Debug().Msg("hidden")
	assert.Empty(t, buf.String())
}

func TestNew_UnknownFormat(t *testing.T) {
	_, _, err := newWithOutput(Config{Format: "xml"}, &bytes.Buffer{}, false)
	assert.ErrorContains(t, err, "unknown log format")
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memedb.log")
	logger, closeFn, err := newWithOutput(Config{Format: FormatJSON, File: path}, &bytes.Buffer{}, false)
	require.NoError(t, err)

	logger.Warn().Msg("to file")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}
