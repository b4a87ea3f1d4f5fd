package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Defaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "text", cfg.Format)
	assert.Equal(t, "info", cfg.Console.Level)
	assert.Equal(t, "text", cfg.File.Format)
	assert.NoError(t, cfg.Validate())

	cfg.ResolvePaths("/srv/medstore")
	assert.Equal(t, "/srv/medstore/logs", cfg.Dir)
	cfg.ResolvePaths("/elsewhere")
	assert.Equal(t, "/srv/medstore/logs", cfg.Dir)
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Level = "trace"
	assert.ErrorContains(t, cfg.Validate(), "logging.level")

	cfg = DefaultConfig()
	cfg.Format = "xml"
	assert.ErrorContains(t, cfg.Validate(), "logging.format")

	cfg = DefaultConfig()
	cfg.File = SinkConfig{Enabled: true, Level: "loud"}
	assert.ErrorContains(t, cfg.Validate(), "logging.file.level")
}

func TestNew_ConsoleOnly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Console.Level = "warn"
	cfg.ApplyDefaults()
	var out bytes.Buffer
	logger, err := New(cfg, &out)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("Instance rejected", "study", "1.2", "error", errors.New("bad uid"))
	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), `WARN Instance rejected study=1.2 error="bad uid"`)
}

func TestNew_FileSinks(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Dir: dir, Console: SinkConfig{}, File: SinkConfig{Enabled: true, Format: "json"}}
	cfg.ApplyDefaults()
	logger, err := New(cfg, &bytes.Buffer{})
	require.NoError(t, err)

	logger.Info("stored", "watermark", 7)
	logger.Error("finalize failed")
	require.NoError(t, Shutdown())

	main, err := os.ReadFile(filepath.Join(dir, "medstore.log"))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(main), "\n"))
	assert.Contains(t, string(main), `"watermark":7`)

	errs, err := os.ReadFile(filepath.Join(dir, "errors.log"))
	require.NoError(t, err)
	assert.Contains(t, string(errs), "finalize failed")
	assert.NotContains(t, string(errs), "stored")
}

func TestTextHandler(t *testing.T) {
	var out bytes.Buffer
	h := NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(h).With("component", "cleanup").WithGroup("batch")

	logger.Debug("Swept", "deleted", 3, "took", 1500*time.Millisecond, slog.Group("range", "start", 1, "end", 9), "note", "")
	line := out.String()
	assert.True(t, strings.HasSuffix(line, "\n"))
	assert.Contains(t, line, "DEBUG Swept component=cleanup batch.deleted=3 batch.took=1.5s batch.range.start=1 batch.range.end=9 batch.note=\"\"")
}

func TestFanoutAndMinLevel(t *testing.T) {
	var all, warn bytes.Buffer
	h := Fanout(
		NewTextHandler(&all, &slog.HandlerOptions{Level: slog.LevelDebug}),
		MinLevel(NewTextHandler(&warn, nil), slog.LevelWarn),
	)
	logger := slog.New(h).With("k", "v")
	logger.Info("one")
	logger.Warn("two")

	assert.Equal(t, 2, strings.Count(all.String(), "\n"))
	assert.Equal(t, 1, strings.Count(warn.String(), "\n"))
	assert.Contains(t, warn.String(), "WARN two k=v")
	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug-1))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}
