package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/medstore/internal/core/index"
	"github.com/syntrixbase/medstore/internal/core/metadata"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoad_Defaults(t *testing.T) {
	root := t.TempDir()
	cfg, err := Load(filepath.Join(root, "config"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, index.BackendPostgres, cfg.Index.Backend)
	assert.Equal(t, 90, cfg.Tags.DeletePollAttempts)
	assert.Equal(t, 10*time.Second, cfg.Tags.DeletePollInterval)
	assert.Equal(t, filepath.Join(root, "data", "blob"), cfg.Blob.Path)
	assert.Equal(t, filepath.Join(root, "data", "metadata.db"), cfg.Metadata.Bolt.Path)
}

func TestLoad_FilesAndEnv(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "config")
	require.NoError(t, os.Mkdir(dir, 0o755))
	writeFile(t, dir, "config.yml", `
server:
  port: 9090
index:
  backend: memory
metadata:
  backend: mongo
  mongo:
    uri: mongodb://db:27017
extended_query_tags:
  reindex_on_add: true
  max_allowed_count: 16
cleanup:
  max_retries: 3
`)
	writeFile(t, dir, "config.local.yml", "server:\n  port: 9191\nblob:\n  path: /var/lib/medstore/blob\n")

	t.Setenv("MEDSTORE_NATS_URL", "nats://broker:4222")
	t.Setenv("MEDSTORE_PUBSUB_BACKEND", "nats")
	t.Setenv("MEDSTORE_DELETE_DELAY", "5m")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, index.BackendMemory, cfg.Index.Backend)
	assert.Equal(t, metadata.BackendMongo, cfg.Metadata.Backend)
	assert.Equal(t, "medstore", cfg.Metadata.Mongo.DatabaseName)
	assert.True(t, cfg.Tags.ReindexOnAdd)
	assert.Equal(t, 16, cfg.Tags.MaxAllowedCount)
	assert.Equal(t, 3, cfg.Cleanup.MaxRetries)
	assert.Equal(t, 100, cfg.Cleanup.BatchSize)
	assert.Equal(t, "/var/lib/medstore/blob", cfg.Blob.Path)
	assert.Equal(t, "nats://broker:4222", cfg.PubSub.NATS.URL)
	assert.Equal(t, 5*time.Minute, cfg.Store.DeleteDelay)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yml", "server: [")
	_, err := Load(dir)
	assert.ErrorContains(t, err, "parse")

	dir = t.TempDir()
	writeFile(t, dir, "config.yml", "blob:\n  backend: s3\nlogging:\n  level: loud\n")
	_, err = Load(dir)
	assert.ErrorContains(t, err, "blob.backend")
	assert.ErrorContains(t, err, "logging.level")
}

func TestApplyEnvOverrides_Invalid(t *testing.T) {
	cfg := Default()
	env := map[string]string{"MEDSTORE_PORT": "http", "MEDSTORE_REINDEX_ON_ADD": "maybe", "MEDSTORE_CLEANUP_INTERVAL": "soon"}
	err := cfg.ApplyEnvOverrides(func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	assert.ErrorContains(t, err, "MEDSTORE_PORT")
	assert.ErrorContains(t, err, "MEDSTORE_REINDEX_ON_ADD")
	assert.ErrorContains(t, err, "MEDSTORE_CLEANUP_INTERVAL")
}
