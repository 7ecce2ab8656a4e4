package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rbridge/errors"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarning, ParseLevel("warn"))
	assert.Equal(t, LevelWarning, ParseLevel("warning"))
	assert.Equal(t, LevelInfo, ParseLevel("loud"))
	assert.Equal(t, "ERROR", ParseLevel("error").String())
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	buf.Reset()
	return entry
}

func TestJSONLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewDefaultLoggerWithConfig(LoggerConfig{Level: LevelInfo, Format: "json", Output: &buf})

	logger.Debug("hidden")
	assert.Zero(t, buf.Len())

	ctx := context.WithValue(context.Background(), errors.RequestIDKey, "abc123")
	logger.WithComponent("engine").WithContext(ctx).Info("evaluated", IntField("attempt", 1))

	entry := decodeLine(t, &buf)
	assert.Equal(t, "evaluated", entry["message"])
	assert.Equal(t, "engine", entry["component"])
	assert.Equal(t, "abc123", entry["request_id"])
	assert.Equal(t, 1.0, entry["attempt"])
	assert.Contains(t, entry, "timestamp")
}

func TestErrorExecutionAddsKind(t *testing.T) {
	var buf bytes.Buffer
	logger := NewDefaultLoggerWithConfig(LoggerConfig{Level: LevelDebug, Format: "json", Output: &buf})

	logger.ErrorExecution(errors.NewReferenceError("object 'x' not found"))
	entry := decodeLine(t, &buf)
	assert.Equal(t, "object 'x' not found", entry["message"])
	assert.Equal(t, "REFERENCE_ERROR", entry["error_code"])
	assert.Equal(t, "ReferenceError", entry["error_kind"])
	assert.Equal(t, "r", entry["language"])
}

func TestSetLevelIsShared(t *testing.T) {
	var buf bytes.Buffer
	root := NewDefaultLoggerWithConfig(LoggerConfig{Level: LevelError, Output: &buf})
	child := root.WithRequest("r1")

	child.Warn("quiet")
	assert.Zero(t, buf.Len())

	root.SetLevel(LevelDebug)
	assert.Equal(t, LevelDebug, root.GetLevel())
	child.Warn("loud")
	assert.Contains(t, buf.String(), "request_id=r1")
}

func TestRotatingFileWriter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "rbridge.log")

	w, err := NewRotatingFileWriter(path, 16, 1, false)
	require.NoError(t, err)

	_, err = w.Write([]byte("first entry\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte("second entry\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second entry\n", string(current))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	var backups []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "rbridge.log.") {
			backups = append(backups, e.Name())
		}
	}
	require.Len(t, backups, 1)
	old, err := os.ReadFile(filepath.Join(filepath.Dir(path), backups[0]))
	require.NoError(t, err)
	assert.Equal(t, "first entry\n", string(old))
}
