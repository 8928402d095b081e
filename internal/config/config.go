package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"llmstdio/internal/common/fsutil"
)

// Config holds runtime parameters for the stdio service. Zero values mean
// "unspecified" and are replaced by Default values before use.
type Config struct {
	// EngineConfig points at the engine's own config file. Usually given as
	// the positional CLI argument instead.
	EngineConfig string `json:"engine_config" yaml:"engine_config" toml:"engine_config"`
	// TmpPath is the scratch directory handed to the engine runtime.
	TmpPath string `json:"tmp_path" yaml:"tmp_path" toml:"tmp_path"`
	// HTTPAddr enables the debug/metrics HTTP listener when non-empty,
	// e.g. ":8080". Off by default.
	HTTPAddr string `json:"http_addr" yaml:"http_addr" toml:"http_addr"`
	// LogFile receives the operational log. Empty disables logging; the
	// daemon must never log to stdout or stderr, which carry the protocol.
	LogFile string `json:"log_file" yaml:"log_file" toml:"log_file"`
	// LogLevel: debug|info|warn|error.
	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`
	// DefaultMaxTokens is the chat token budget when a request carries no
	// valid override. Non-positive means the engine default.
	DefaultMaxTokens int `json:"default_max_tokens" yaml:"default_max_tokens" toml:"default_max_tokens"`
	// StreamEndDelayMS is the pause before the end-of-stream marker, to
	// absorb trailing asynchronous engine writes.
	StreamEndDelayMS int `json:"stream_end_delay_ms" yaml:"stream_end_delay_ms" toml:"stream_end_delay_ms"`
	// TuneCandidates are the encoder-op batch sizes probed after load.
	TuneCandidates []int `json:"tune_candidates" yaml:"tune_candidates" toml:"tune_candidates"`
}

// Default returns the production defaults.
func Default() Config {
	return Config{
		TmpPath:          "tmp",
		LogLevel:         "info",
		StreamEndDelayMS: 500,
		TuneCandidates:   []int{1, 5, 10, 20, 30, 50, 100},
	}
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	expanded, err := fsutil.ExpandHome(path)
	if err != nil {
		return cfg, err
	}
	b, err := os.ReadFile(expanded)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(expanded)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
