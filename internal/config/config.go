// Package config loads machscope settings from an optional TOML file and
// MACHSCOPE_* environment variables. Command line flags are applied on top
// by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"machscope/internal/patch"
	"machscope/internal/safefileio"
)

// Environment variables consulted by Load.
const (
	EnvLogLevel = "MACHSCOPE_LOG_LEVEL"
	EnvNoColor  = "MACHSCOPE_NO_COLOR"
	EnvSuffix   = "MACHSCOPE_PATCH_SUFFIX"
	EnvOutDir   = "MACHSCOPE_PATCH_OUT_DIR"
	EnvBackup   = "MACHSCOPE_PATCH_BACKUP"
)

// ErrInvalidLogLevel is returned for a log level other than debug, info, warn or error.
var ErrInvalidLogLevel = errors.New("invalid log level")

// Config is the merged configuration.
type Config struct {
	LogLevel string             `toml:"log_level" json:"log_level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error,default=info"`
	NoColor  bool               `toml:"no_color" json:"no_color,omitempty" jsonschema:"description=Disable coloured listings"`
	Apply    patch.ApplyOptions `toml:"apply" json:"apply" jsonschema:"description=Defaults for patch apply"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		LogLevel: "info",
		Apply:    patch.DefaultApplyOptions(),
	}
}

// Load reads path (when non-empty) over the defaults and then applies the
// environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		content, err := safefileio.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := toml.Unmarshal(content, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v, ok := lookup(EnvNoColor); ok && v != "" {
		c.NoColor = true
	}
	if v, ok := lookup(EnvSuffix); ok && v != "" {
		c.Apply.Suffix = v
	}
	if v, ok := lookup(EnvOutDir); ok {
		c.Apply.OutputDirectory = v
	}
	if v, ok := lookup(EnvBackup); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvBackup, err)
		}
		c.Apply.CreateBackup = b
	}
	return nil
}

// Validate checks fields that have a closed set of values.
func (c Config) Validate() error {
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
}
