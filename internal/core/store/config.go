package store

import (
	"time"

	"github.com/syntrixbase/medstore/internal/core/validation"
)

type Config struct {
	Validation validation.Options `yaml:"validation"`
	// CompensationTimeout bounds one rollback of a failed store.
	CompensationTimeout time.Duration      `yaml:"compensation_timeout"`
	CleanupQueue        CleanupQueueConfig `yaml:"cleanup_queue"`
	// DeleteDelay postpones file removal after an instance is deleted.
	DeleteDelay       time.Duration `yaml:"delete_delay"`
	UpdateConcurrency int           `yaml:"update_concurrency"`
}

type CleanupQueueConfig struct {
	Workers int `yaml:"workers"`
	Size    int `yaml:"size"`
}

func DefaultConfig() Config {
	return Config{
		CompensationTimeout: 30 * time.Second,
		CleanupQueue: CleanupQueueConfig{
			Workers: 2,
			Size:    256,
		},
		DeleteDelay:       time.Hour,
		UpdateConcurrency: 8,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.CompensationTimeout <= 0 {
		c.CompensationTimeout = d.CompensationTimeout
	}
	if c.CleanupQueue.Workers <= 0 {
		c.CleanupQueue.Workers = d.CleanupQueue.Workers
	}
	if c.CleanupQueue.Size <= 0 {
		c.CleanupQueue.Size = d.CleanupQueue.Size
	}
	if c.DeleteDelay < 0 {
		c.DeleteDelay = 0
	}
	if c.UpdateConcurrency <= 0 {
		c.UpdateConcurrency = d.UpdateConcurrency
	}
}
