package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalid indicates a configuration value that cannot be used.
var ErrInvalid = errors.New("invalid configuration")

// Override sets the automatic compilation policy for one master.
type Override struct {
	Path        string `mapstructure:"path"`
	AutoCompile bool   `mapstructure:"auto_compile"`
}

// Config holds all runtime configuration for an inkwell session.
// Values are populated from .inkwell.yaml, INKWELL_* env vars, and CLI flags.
type Config struct {
	SourceDir            string        `mapstructure:"source_dir"`
	Extension            string        `mapstructure:"extension"`
	Exclude              []string      `mapstructure:"exclude"`
	StateDir             string        `mapstructure:"state_dir"`
	CompilerPath         string        `mapstructure:"compiler_path"`
	CompilerArgs         []string      `mapstructure:"compiler_args"`
	CompileTimeout       time.Duration `mapstructure:"compile_timeout"`
	TickInterval         time.Duration `mapstructure:"tick_interval"`
	AutoCompile          bool          `mapstructure:"auto_compile"`
	AutoCompileOverrides []Override    `mapstructure:"auto_compile_overrides"`
	LogLevel             string        `mapstructure:"log_level"`
	LogFile              string        `mapstructure:"log_file"`
	Verbose              bool          `mapstructure:"verbose"`
}

// Load reads configuration from viper, applying built-in defaults for any
// values not set by config file, environment, or flags.
func Load() (Config, error) {
	viper.SetDefault("source_dir", ".")
	viper.SetDefault("extension", ".ink")
	viper.SetDefault("exclude", []string{})
	viper.SetDefault("state_dir", ".inkwell")
	viper.SetDefault("compiler_path", "inklecate")
	viper.SetDefault("compiler_args", []string{})
	viper.SetDefault("compile_timeout", 30*time.Second)
	viper.SetDefault("tick_interval", 100*time.Millisecond)
	viper.SetDefault("auto_compile", true)
	viper.SetDefault("auto_compile_overrides", []Override{})
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_file", "")
	viper.SetDefault("verbose", false)

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	if c.Extension == "" {
		return fmt.Errorf("%w: extension must not be empty", ErrInvalid)
	}
	if !strings.HasPrefix(c.Extension, ".") {
		c.Extension = "." + c.Extension
	}
	if c.CompileTimeout <= 0 {
		return fmt.Errorf("%w: compile_timeout must be positive, got %s", ErrInvalid, c.CompileTimeout)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("%w: tick_interval must be positive, got %s", ErrInvalid, c.TickInterval)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: unknown log_level %q", ErrInvalid, c.LogLevel)
	}
	return nil
}

// StatePath returns the state directory, resolved against SourceDir
// when relative.
func (c Config) StatePath() string {
	if filepath.IsAbs(c.StateDir) {
		return c.StateDir
	}
	return filepath.Join(c.SourceDir, c.StateDir)
}

// Overrides returns the per-master policy overrides keyed by path.
func (c Config) Overrides() map[string]bool {
	out := make(map[string]bool, len(c.AutoCompileOverrides))
	for _, o := range c.AutoCompileOverrides {
		out[filepath.ToSlash(filepath.Clean(o.Path))] = o.AutoCompile
	}
	return out
}
