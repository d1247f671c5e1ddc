// Package config loads sessiond's bootstrap configuration: provider
// binary paths, CwdSandbox allow-list roots, admission limits, and
// push-adapter transport settings. Grounded on internal/config/config.go's
// global-then-project-then-env merge precedence and JSONC comment
// stripping, generalized away from OpenCode's agent-behavior schema
// (models/providers/LSP/watcher/experimental) to the bootstrap schema
// this supervisor needs — agent/prompt configuration itself stays out
// of scope per the configuration-loading Non-goal, which excludes
// business semantics, not process bootstrap. A config file may be
// written as JSONC (config.jsonc) or YAML (config.yaml/config.yml);
// the two are equivalent, and only one is read per directory.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/sessiond/sessiond/internal/logging"
)

// ProviderConfig describes one provider's launch command and defaults.
type ProviderConfig struct {
	Binary         string   `json:"binary" yaml:"binary"`
	Args           []string `json:"args,omitempty" yaml:"args,omitempty"`
	DefaultModel   string   `json:"defaultModel,omitempty" yaml:"defaultModel,omitempty"`
	PermissionMode string   `json:"permissionMode,omitempty" yaml:"permissionMode,omitempty"`
}

// PushConfig describes the PushAdapter's default destination.
type PushConfig struct {
	URL            string `json:"url,omitempty" yaml:"url,omitempty"`
	DebounceMs     int    `json:"debounceMs,omitempty" yaml:"debounceMs,omitempty"`
	MaxMessageSize int    `json:"maxMessageSize,omitempty" yaml:"maxMessageSize,omitempty"`
}

// Config is sessiond's bootstrap configuration.
type Config struct {
	DataDir      string                    `json:"dataDir,omitempty" yaml:"dataDir,omitempty"`
	MaxSessions  int                       `json:"maxSessions,omitempty" yaml:"maxSessions,omitempty"`
	SandboxRoots []string                  `json:"sandboxRoots,omitempty" yaml:"sandboxRoots,omitempty"`
	Providers    map[string]ProviderConfig `json:"providers,omitempty" yaml:"providers,omitempty"`
	Push         PushConfig                `json:"push,omitempty" yaml:"push,omitempty"`
}

// Default returns the zero-configuration baseline.
func Default() Config {
	return Config{
		DataDir:     filepath.Join(os.TempDir(), "sessiond"),
		MaxSessions: 100,
		Push:        PushConfig{DebounceMs: 1500, MaxMessageSize: 4096},
	}
}

// configFileNames are tried in order for each config directory; the
// first one present wins and the rest are ignored.
var configFileNames = []string{"config.jsonc", "config.yaml", "config.yml"}

// Load merges, in ascending priority: the zero-config baseline, the
// global config file (~/.config/sessiond/config.{jsonc,yaml,yml}), a
// project config file (<directory>/.sessiond/config.{jsonc,yaml,yml}),
// then environment variable overrides. A ".env" file in directory, if
// present, is loaded into the process environment via godotenv before
// overrides are read, so provider API keys and push bearer tokens reach
// subprocess environments without living in the config file.
func Load(directory string) (Config, error) {
	cfg := Default()

	if directory != "" {
		_ = godotenv.Load(filepath.Join(directory, ".env"))
	}

	if home, err := os.UserHomeDir(); err == nil {
		mergeConfigDir(&cfg, filepath.Join(home, ".config", "sessiond"))
	}
	if directory != "" {
		mergeConfigDir(&cfg, filepath.Join(directory, ".sessiond"))
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}

// mergeConfigDir merges the first of configFileNames found in dir.
func mergeConfigDir(cfg *Config, dir string) {
	for _, name := range configFileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		mergeFile(cfg, path)
		return
	}
}

// LoadFile merges a single config file (JSONC or YAML, by extension)
// into the zero-config baseline, skipping the global/project/env
// layers. Used by tests and by the fsnotify-driven watcher to
// re-resolve a known config path.
func LoadFile(path string) Config {
	cfg := Default()
	mergeFile(&cfg, path)
	return cfg
}

func mergeFile(cfg *Config, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var file Config
	var parseErr error
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		parseErr = yaml.Unmarshal(data, &file)
	default:
		parseErr = json.Unmarshal(jsonc.ToJSON(data), &file)
	}
	if parseErr != nil {
		logging.Warn().Err(parseErr).Str("path", path).Msg("config: failed to parse config file")
		return
	}

	merge(cfg, &file)
}

func merge(target, source *Config) {
	if source.DataDir != "" {
		target.DataDir = source.DataDir
	}
	if source.MaxSessions != 0 {
		target.MaxSessions = source.MaxSessions
	}
	if len(source.SandboxRoots) > 0 {
		target.SandboxRoots = source.SandboxRoots
	}
	if len(source.Providers) > 0 {
		if target.Providers == nil {
			target.Providers = make(map[string]ProviderConfig)
		}
		for name, p := range source.Providers {
			target.Providers[name] = p
		}
	}
	if source.Push.URL != "" {
		target.Push.URL = source.Push.URL
	}
	if source.Push.DebounceMs != 0 {
		target.Push.DebounceMs = source.Push.DebounceMs
	}
	if source.Push.MaxMessageSize != 0 {
		target.Push.MaxMessageSize = source.Push.MaxMessageSize
	}
}

func applyEnvOverrides(cfg *Config) {
	if dir := os.Getenv("SESSIOND_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	if n := os.Getenv("SESSIOND_MAX_SESSIONS"); n != "" {
		if parsed, err := strconv.Atoi(n); err == nil && parsed > 0 {
			cfg.MaxSessions = parsed
		}
	}
	if url := os.Getenv("SESSIOND_PUSH_URL"); url != "" {
		cfg.Push.URL = url
	}
}
