// Package config handles glbclean configuration loading and management.
package config

import (
	"fmt"
	"runtime"
	"time"
)

// Config holds all glbclean settings.
type Config struct {
	Batch      BatchConfig      `yaml:"batch"`
	Compressor CompressorConfig `yaml:"compressor"`
	Watch      WatchConfig      `yaml:"watch"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// BatchConfig holds directory processing settings.
type BatchConfig struct {
	Workers    int      `yaml:"workers"`    // Documents processed concurrently
	TempDir    string   `yaml:"temp_dir"`   // Parent of the intermediate tree, system temp if empty
	KeepTemp   bool     `yaml:"keep_temp"`  // Leave intermediate files behind
	Extensions []string `yaml:"extensions"` // File extensions picked up by the walk
	Binary     bool     `yaml:"binary"`     // Write .gltf inputs as .glb
}

// CompressorConfig holds the external compressor invocation.
type CompressorConfig struct {
	Enabled bool          `yaml:"enabled"`
	Path    string        `yaml:"path"`
	Args    string        `yaml:"args"` // Shell-style, e.g. "-tc -cc"
	Timeout time.Duration `yaml:"timeout"`
}

// WatchConfig holds watch mode settings.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
	Format  string `yaml:"format"` // console or json, applies to the log file
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Batch: BatchConfig{
			Workers:    runtime.NumCPU(),
			Extensions: []string{".glb", ".gltf"},
		},
		Compressor: CompressorConfig{
			Enabled: true,
			Path:    "gltfpack",
			Args:    "-tc -cc",
			Timeout: 5 * time.Minute,
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate reports settings that cannot be used as given.
func (c *Config) Validate() error {
	if c.Batch.Workers < 1 {
		return fmt.Errorf("batch.workers must be at least 1, got %d", c.Batch.Workers)
	}
	if len(c.Batch.Extensions) == 0 {
		return fmt.Errorf("batch.extensions must not be empty")
	}
	if c.Compressor.Enabled && c.Compressor.Path == "" {
		return fmt.Errorf("compressor.path is required when the compressor is enabled")
	}
	if c.Compressor.Timeout < 0 {
		return fmt.Errorf("compressor.timeout must not be negative")
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative")
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}
