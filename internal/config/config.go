// Package config loads the livescope configuration file and builds the
// process logger.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jward/livescope/internal/protocol"
	"github.com/jward/livescope/internal/snapshot"
)

// FileName is the configuration file looked up in the user config directory.
const FileName = "livescope.yaml"

// Config is the configuration file. Every field is optional.
type Config struct {
	// Settings are applied to requests that omit them.
	Settings protocol.Settings `yaml:"settings"`
	// LibraryPaths hold modules that stay cached across runs.
	LibraryPaths []string `yaml:"library_paths"`
	// Libraries names extra top-level modules treated as libraries.
	Libraries []string `yaml:"libraries"`
	// Journal is the run journal database. Empty disables the journal.
	Journal string `yaml:"journal"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// MaxDepth bounds snapshot nesting.
	MaxDepth int `yaml:"max_depth"`
	// KeepRuns is how many journal entries survive pruning at startup.
	// Zero keeps everything.
	KeepRuns int `yaml:"keep_runs"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	show := true
	return &Config{
		Settings: protocol.Settings{ShowGlobalVars: &show},
		LogLevel: "info",
		MaxDepth: snapshot.DefaultMaxDepth,
	}
}

// DefaultPath returns the configuration file in the user config directory.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "livescope", FileName)
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = snapshot.DefaultMaxDepth
	}
	if cfg.Settings.ShowGlobalVars == nil {
		show := true
		cfg.Settings.ShowGlobalVars = &show
	}
	cfg.LibraryPaths = expandPaths(cfg.LibraryPaths, filepath.Dir(path))
	if cfg.Journal != "" {
		cfg.Journal = expandPaths([]string{cfg.Journal}, filepath.Dir(path))[0]
	}
	if _, err := ParseLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// expandPaths resolves ~ and paths relative to base.
func expandPaths(paths []string, base string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p == "~" || strings.HasPrefix(p, "~/") {
			if home, err := os.UserHomeDir(); err == nil {
				p = filepath.Join(home, strings.TrimPrefix(p, "~"))
			}
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(base, p)
		}
		out = append(out, p)
	}
	return out
}

// ParseLevel maps a level name to a slog level. Empty means info.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", name)
}
