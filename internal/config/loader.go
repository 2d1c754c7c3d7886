package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "ollamarelay.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Ollama.BaseURL, "OLLAMA_BASE_URL")
	setDuration(&cfg.Ollama.RequestTimeout, "OLLAMARELAY_REQUEST_TIMEOUT")
	setInt(&cfg.Stream.BufferSize, "OLLAMARELAY_STREAM_BUFFER")
	setDuration(&cfg.Stream.StallTimeout, "OLLAMARELAY_STALL_TIMEOUT")
	setString(&cfg.Log.Level, "OLLAMARELAY_LOG_LEVEL")
	setString(&cfg.Log.Format, "OLLAMARELAY_LOG_FORMAT")
	setString(&cfg.Metrics.Addr, "OLLAMARELAY_METRICS_ADDR")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Ollama.BaseURL == "" {
		return errors.New("ollama.base_url is required")
	}
	u, err := url.Parse(cfg.Ollama.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("ollama.base_url %q is not an absolute URL", cfg.Ollama.BaseURL)
	}
	if cfg.Stream.BufferSize < 1 {
		return errors.New("stream.buffer_size must be >= 1")
	}
	if cfg.Stream.StallTimeout < 0 {
		return errors.New("stream.stall_timeout must be >= 0")
	}
	if cfg.Ollama.RequestTimeout < 0 {
		return errors.New("ollama.request_timeout must be >= 0")
	}
	switch cfg.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format %q must be json or console", cfg.Log.Format)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
