package logging

import (
	"fmt"
	"path/filepath"
)

// Config selects log sinks. Console writes to stdout; File writes a rotated
// medstore.log plus an errors.log holding warnings and errors.
type Config struct {
	Level    string         `yaml:"level"`
	Format   string         `yaml:"format"`
	Dir      string         `yaml:"dir"`
	Rotation RotationConfig `yaml:"rotation"`
	Console  SinkConfig     `yaml:"console"`
	File     SinkConfig     `yaml:"file"`
}

type RotationConfig struct {
	MaxSize    int  `yaml:"max_size"` // MB
	MaxBackups int  `yaml:"max_backups"`
	MaxAge     int  `yaml:"max_age"` // days
	Compress   bool `yaml:"compress"`
}

// SinkConfig overrides Level and Format for one sink.
type SinkConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
}

func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "text",
		Dir:    "logs",
		Rotation: RotationConfig{
			MaxSize:    100,
			MaxBackups: 10,
			MaxAge:     30,
			Compress:   true,
		},
		Console: SinkConfig{Enabled: true},
		File:    SinkConfig{Enabled: false},
	}
}

func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Level == "" {
		c.Level = d.Level
	}
	if c.Format == "" {
		c.Format = d.Format
	}
	if c.Dir == "" {
		c.Dir = d.Dir
	}
	if c.Rotation.MaxSize == 0 {
		c.Rotation.MaxSize = d.Rotation.MaxSize
	}
	if c.Rotation.MaxBackups == 0 {
		c.Rotation.MaxBackups = d.Rotation.MaxBackups
	}
	if c.Rotation.MaxAge == 0 {
		c.Rotation.MaxAge = d.Rotation.MaxAge
	}
	for _, s := range []*SinkConfig{&c.Console, &c.File} {
		if s.Level == "" {
			s.Level = c.Level
		}
		if s.Format == "" {
			s.Format = c.Format
		}
	}
}

// ResolvePaths makes a relative Dir relative to baseDir.
func (c *Config) ResolvePaths(baseDir string) {
	if c.Dir != "" && !filepath.IsAbs(c.Dir) && baseDir != "" {
		c.Dir = filepath.Clean(filepath.Join(baseDir, c.Dir))
	}
}

var (
	validLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validFormats = map[string]bool{"text": true, "json": true}
)

func (c *Config) Validate() error {
	if !validLevels[c.Level] {
		return fmt.Errorf("logging.level: invalid level %q (must be debug, info, warn or error)", c.Level)
	}
	if !validFormats[c.Format] {
		return fmt.Errorf("logging.format: invalid format %q (must be text or json)", c.Format)
	}
	for name, s := range map[string]SinkConfig{"console": c.Console, "file": c.File} {
		if !s.Enabled {
			continue
		}
		if s.Level != "" && !validLevels[s.Level] {
			return fmt.Errorf("logging.%s.level: invalid level %q", name, s.Level)
		}
		if s.Format != "" && !validFormats[s.Format] {
			return fmt.Errorf("logging.%s.format: invalid format %q", name, s.Format)
		}
	}
	if c.File.Enabled && c.Dir == "" {
		return fmt.Errorf("logging.dir is required when file logging is enabled")
	}
	return nil
}
