package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/viper"
)

// resetViper clears all viper state between tests to avoid cross-contamination.
func resetViper() {
	viper.Reset()
}

func TestLoad_Defaults(t *testing.T) {
	resetViper()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"SourceDir", cfg.SourceDir, "."},
		{"Extension", cfg.Extension, ".ink"},
		{"StateDir", cfg.StateDir, ".inkwell"},
		{"CompilerPath", cfg.CompilerPath, "inklecate"},
		{"CompileTimeout", cfg.CompileTimeout, 30 * time.Second},
		{"TickInterval", cfg.TickInterval, 100 * time.Millisecond},
		{"AutoCompile", cfg.AutoCompile, true},
		{"LogLevel", cfg.LogLevel, "info"},
		{"LogFile", cfg.LogFile, ""},
		{"Verbose", cfg.Verbose, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}
	if len(cfg.Exclude) != 0 || len(cfg.CompilerArgs) != 0 || len(cfg.AutoCompileOverrides) != 0 {
		t.Errorf("list defaults should be empty: %+v", cfg)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	tests := []struct {
		name   string
		envKey string
		envVal string
		field  func(Config) any
		want   any
	}{
		{
			name:   "source_dir",
			envKey: "INKWELL_SOURCE_DIR",
			envVal: "/stories",
			field:  func(c Config) any { return c.SourceDir },
			want:   "/stories",
		},
		{
			name:   "extension without dot",
			envKey: "INKWELL_EXTENSION",
			envVal: "ink2",
			field:  func(c Config) any { return c.Extension },
			want:   ".ink2",
		},
		{
			name:   "compiler_path",
			envKey: "INKWELL_COMPILER_PATH",
			envVal: "/opt/ink/inklecate",
			field:  func(c Config) any { return c.CompilerPath },
			want:   "/opt/ink/inklecate",
		},
		{
			name:   "compile_timeout",
			envKey: "INKWELL_COMPILE_TIMEOUT",
			envVal: "5s",
			field:  func(c Config) any { return c.CompileTimeout },
			want:   5 * time.Second,
		},
		{
			name:   "auto_compile",
			envKey: "INKWELL_AUTO_COMPILE",
			envVal: "false",
			field:  func(c Config) any { return c.AutoCompile },
			want:   false,
		},
		{
			name:   "log_level",
			envKey: "INKWELL_LOG_LEVEL",
			envVal: "debug",
			field:  func(c Config) any { return c.LogLevel },
			want:   "debug",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetViper()
			t.Setenv(tt.envKey, tt.envVal)
			viper.SetEnvPrefix("INKWELL")
			viper.AutomaticEnv()

			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() returned unexpected error: %v", err)
			}
			if got := tt.field(cfg); got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	resetViper()
	dir := t.TempDir()
	file := filepath.Join(dir, ".inkwell.yaml")
	content := `source_dir: story
exclude:
  - "drafts/**"
compiler_args: ["-c"]
compile_timeout: 1m
auto_compile_overrides:
  - path: chapters/draft.ink
    auto_compile: false
  - path: main.ink
    auto_compile: true
`
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	viper.SetConfigFile(file)
	if err := viper.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	if cfg.SourceDir != "story" || cfg.CompileTimeout != time.Minute {
		t.Errorf("cfg = %+v", cfg)
	}
	if diff := cmp.Diff([]string{"drafts/**"}, cfg.Exclude); diff != "" {
		t.Errorf("Exclude mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"-c"}, cfg.CompilerArgs); diff != "" {
		t.Errorf("CompilerArgs mismatch (-want +got):\n%s", diff)
	}
	want := map[string]bool{"chapters/draft.ink": false, "main.ink": true}
	if diff := cmp.Diff(want, cfg.Overrides()); diff != "" {
		t.Errorf("Overrides mismatch (-want +got):\n%s", diff)
	}
	if got := cfg.StatePath(); got != filepath.Join("story", ".inkwell") {
		t.Errorf("StatePath() = %q", got)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key   string
		value any
	}{
		{"compile_timeout", "0s"},
		{"tick_interval", "-1s"},
		{"log_level", "loud"},
		{"extension", ""},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			resetViper()
			viper.Set(tt.key, tt.value)
			if _, err := Load(); !errors.Is(err, ErrInvalid) {
				t.Errorf("Load() error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestStatePath_Absolute(t *testing.T) {
	cfg := Config{SourceDir: "story", StateDir: "/var/lib/inkwell"}
	if got := cfg.StatePath(); got != "/var/lib/inkwell" {
		t.Errorf("StatePath() = %q", got)
	}
}
