// Package config loads the process configuration.
//
// Order: defaults, <dir>/config.yml, <dir>/config.local.yml, ApplyDefaults,
// MEDSTORE_* environment overrides, ResolvePaths, Validate.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/syntrixbase/medstore/internal/core/blob"
	"github.com/syntrixbase/medstore/internal/core/catalog"
	"github.com/syntrixbase/medstore/internal/core/cleanup"
	"github.com/syntrixbase/medstore/internal/core/index"
	"github.com/syntrixbase/medstore/internal/core/metadata"
	"github.com/syntrixbase/medstore/internal/core/operation"
	"github.com/syntrixbase/medstore/internal/core/pubsub"
	"github.com/syntrixbase/medstore/internal/core/store"
	"github.com/syntrixbase/medstore/internal/core/xqt"
	"github.com/syntrixbase/medstore/internal/logging"
	"github.com/syntrixbase/medstore/internal/server"
)

const EnvPrefix = "MEDSTORE_"

type Config struct {
	Server  server.Config  `yaml:"server"`
	Logging logging.Config `yaml:"logging"`
	// BaseURL prefixes retrieve URLs in store responses. Empty derives it
	// from each request.
	BaseURL string `yaml:"base_url"`

	Index      index.Config     `yaml:"index"`
	Blob       blob.Config      `yaml:"blob"`
	Metadata   metadata.Config  `yaml:"metadata"`
	PubSub     pubsub.Config    `yaml:"pubsub"`
	Catalog    catalog.Config   `yaml:"catalog"`
	Store      store.Config     `yaml:"store"`
	Cleanup    cleanup.Config   `yaml:"cleanup"`
	Operations operation.Config `yaml:"operations"`
	Tags       xqt.Config       `yaml:"extended_query_tags"`
}

func Default() *Config {
	return &Config{
		Server:     server.DefaultConfig(),
		Logging:    logging.DefaultConfig(),
		Index:      index.DefaultConfig(),
		Blob:       blob.DefaultConfig(),
		Metadata:   metadata.DefaultConfig(),
		PubSub:     pubsub.DefaultConfig(),
		Catalog:    catalog.DefaultConfig(),
		Store:      store.DefaultConfig(),
		Cleanup:    cleanup.DefaultConfig(),
		Operations: operation.DefaultConfig(),
		Tags:       xqt.DefaultConfig(),
	}
}

// Load reads the configuration from dir. Missing files are skipped.
func Load(dir string) (*Config, error) {
	cfg := Default()
	for _, name := range []string{"config.yml", "config.local.yml"} {
		if err := loadFile(filepath.Join(dir, name), cfg); err != nil {
			return nil, err
		}
	}
	cfg.ApplyDefaults()
	if err := cfg.ApplyEnvOverrides(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.ResolvePaths(filepath.Dir(filepath.Clean(dir)))
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) ApplyDefaults() {
	c.Server.ApplyDefaults()
	c.Logging.ApplyDefaults()
	c.Index.ApplyDefaults()
	c.Store.ApplyDefaults()
	c.Cleanup.ApplyDefaults()
	c.Tags.ApplyDefaults()

	d := Default()
	if c.Blob.Backend == "" {
		c.Blob.Backend = d.Blob.Backend
	}
	if c.Blob.Path == "" {
		c.Blob.Path = d.Blob.Path
	}
	if c.Metadata.Backend == "" {
		c.Metadata.Backend = d.Metadata.Backend
	}
	if c.Metadata.Bolt.Path == "" {
		c.Metadata.Bolt.Path = d.Metadata.Bolt.Path
	}
	if c.Metadata.Mongo.DatabaseName == "" {
		c.Metadata.Mongo.DatabaseName = d.Metadata.Mongo.DatabaseName
	}
	if c.Metadata.Mongo.Collection == "" {
		c.Metadata.Mongo.Collection = d.Metadata.Mongo.Collection
	}
	if c.PubSub.Backend == "" {
		c.PubSub.Backend = d.PubSub.Backend
	}
	if c.PubSub.Stream == "" {
		c.PubSub.Stream = d.PubSub.Stream
	}
	if c.Operations.MaxConcurrent <= 0 {
		c.Operations.MaxConcurrent = d.Operations.MaxConcurrent
	}
	if c.Operations.Retention <= 0 {
		c.Operations.Retention = d.Operations.Retention
	}
}

// LookupEnv matches os.LookupEnv.
type LookupEnv func(key string) (string, bool)

// ApplyEnvOverrides applies MEDSTORE_* variables.
func (c *Config) ApplyEnvOverrides(lookup LookupEnv) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	flag := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	str("HOST", &c.Server.Host)
	num("PORT", &c.Server.Port)
	str("BASE_URL", &c.BaseURL)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	str("LOG_DIR", &c.Logging.Dir)
	str("INDEX_BACKEND", &c.Index.Backend)
	str("POSTGRES_DSN", &c.Index.Postgres.DSN)
	str("BLOB_BACKEND", &c.Blob.Backend)
	str("BLOB_PATH", &c.Blob.Path)
	str("METADATA_BACKEND", &c.Metadata.Backend)
	str("MONGO_URI", &c.Metadata.Mongo.URI)
	str("MONGO_DATABASE", &c.Metadata.Mongo.DatabaseName)
	str("BOLT_PATH", &c.Metadata.Bolt.Path)
	str("PUBSUB_BACKEND", &c.PubSub.Backend)
	str("NATS_URL", &c.PubSub.NATS.URL)
	dur("DELETE_DELAY", &c.Store.DeleteDelay)
	dur("CLEANUP_INTERVAL", &c.Cleanup.Interval)
	num("MAX_EXTENDED_QUERY_TAGS", &c.Tags.MaxAllowedCount)
	flag("REINDEX_ON_ADD", &c.Tags.ReindexOnAdd)
	return errors.Join(errs...)
}

// ResolvePaths makes relative local paths relative to baseDir.
func (c *Config) ResolvePaths(baseDir string) {
	c.Logging.ResolvePaths(baseDir)
	c.Blob.Path = resolve(baseDir, c.Blob.Path)
	c.Metadata.Bolt.Path = resolve(baseDir, c.Metadata.Bolt.Path)
}

func resolve(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) || baseDir == "" {
		return path
	}
	return filepath.Clean(filepath.Join(baseDir, path))
}

func (c *Config) Validate() error {
	var errs []error
	errs = append(errs, c.Server.Validate(), c.Logging.Validate(), c.Index.Validate())

	switch c.Blob.Backend {
	case blob.BackendPebble, blob.BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("blob.backend: unsupported backend %q", c.Blob.Backend))
	}
	switch c.Metadata.Backend {
	case metadata.BackendBolt, metadata.BackendMemory:
	case metadata.BackendMongo:
		if c.Metadata.Mongo.URI == "" {
			errs = append(errs, errors.New("metadata.mongo.uri is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("metadata.backend: unsupported backend %q", c.Metadata.Backend))
	}
	switch c.PubSub.Backend {
	case pubsub.BackendMemory:
	case pubsub.BackendNATS:
		if c.PubSub.NATS.URL == "" {
			errs = append(errs, errors.New("pubsub.nats.url is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("pubsub.backend: unsupported backend %q", c.PubSub.Backend))
	}
	if c.Tags.MaxAllowedCount < 1 {
		errs = append(errs, errors.New("extended_query_tags.max_allowed_count must be positive"))
	}
	return errors.Join(errs...)
}
