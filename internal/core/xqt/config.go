package xqt

import "time"

type Config struct {
	MaxAllowedCount int `yaml:"max_allowed_count"`
	// ReindexOnAdd stores new tags as Adding and backfills existing
	// instances before they become Ready.
	ReindexOnAdd bool `yaml:"reindex_on_add"`
	// DeletePollInterval and DeletePollAttempts bound the wait for a tag
	// delete operation.
	DeletePollInterval time.Duration `yaml:"delete_poll_interval"`
	DeletePollAttempts int           `yaml:"delete_poll_attempts"`
	Reindex            BatchConfig   `yaml:"reindex"`
	Purge              BatchConfig   `yaml:"purge"`
}

type BatchConfig struct {
	BatchSize   int `yaml:"batch_size"`
	BatchCount  int `yaml:"batch_count"`
	Concurrency int `yaml:"concurrency"`
}

func DefaultConfig() Config {
	return Config{
		MaxAllowedCount:    128,
		DeletePollInterval: 10 * time.Second,
		DeletePollAttempts: 90,
		Reindex:            BatchConfig{BatchSize: 100, BatchCount: 5, Concurrency: 4},
		Purge:              BatchConfig{BatchSize: 1000, BatchCount: 5, Concurrency: 1},
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.MaxAllowedCount <= 0 {
		c.MaxAllowedCount = d.MaxAllowedCount
	}
	if c.DeletePollInterval <= 0 {
		c.DeletePollInterval = d.DeletePollInterval
	}
	if c.DeletePollAttempts <= 0 {
		c.DeletePollAttempts = d.DeletePollAttempts
	}
	c.Reindex.applyDefaults(d.Reindex)
	c.Purge.applyDefaults(d.Purge)
}

func (b *BatchConfig) applyDefaults(d BatchConfig) {
	if b.BatchSize <= 0 {
		b.BatchSize = d.BatchSize
	}
	if b.BatchCount <= 0 {
		b.BatchCount = d.BatchCount
	}
	if b.Concurrency <= 0 {
		b.Concurrency = d.Concurrency
	}
}
