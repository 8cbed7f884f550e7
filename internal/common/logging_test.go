package common

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nope"))
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var console, file bytes.Buffer
	logger := SetupLoggerWithWriters(&console, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("job.done", "job_id", "j1")

	assert.Equal(t, "msg=job.done job_id=j1\n", console.String())
	var rec map[string]any
	require.NoError(t, json.Unmarshal(file.Bytes(), &rec))
	assert.Equal(t, "job.done", rec["msg"])
	assert.Equal(t, "INFO", rec["level"])
	assert.Contains(t, rec, "time")
}

func TestSetupLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingest.log")
	logger, cleanup := SetupLogger(LogConfig{Level: "info", File: path})
	logger.Info("hello")
	require.NoError(t, cleanup())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}
