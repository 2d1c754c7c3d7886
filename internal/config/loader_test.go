package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"OLLAMA_BASE_URL", "OLLAMARELAY_REQUEST_TIMEOUT", "OLLAMARELAY_STREAM_BUFFER",
		"OLLAMARELAY_STALL_TIMEOUT", "OLLAMARELAY_LOG_LEVEL", "OLLAMARELAY_LOG_FORMAT",
		"OLLAMARELAY_METRICS_ADDR",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Ollama.BaseURL != "http://127.0.0.1:11434" {
		t.Errorf("expected default base url, got %s", cfg.Ollama.BaseURL)
	}
	if cfg.Stream.BufferSize != 256 {
		t.Errorf("expected buffer 256, got %d", cfg.Stream.BufferSize)
	}
	if cfg.Stream.StallTimeout != 0 {
		t.Errorf("expected no stall timeout, got %v", cfg.Stream.StallTimeout)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
ollama:
  base_url: "http://gpu-box:11434"
stream:
  buffer_size: 32
  stall_timeout: 45s
log:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Ollama.BaseURL != "http://gpu-box:11434" {
		t.Errorf("expected yaml base url, got %s", cfg.Ollama.BaseURL)
	}
	if cfg.Stream.BufferSize != 32 {
		t.Errorf("expected buffer 32, got %d", cfg.Stream.BufferSize)
	}
	if cfg.Stream.StallTimeout != 45*time.Second {
		t.Errorf("expected stall timeout 45s, got %v", cfg.Stream.StallTimeout)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Log.Level)
	}
	// Unchanged fields keep defaults
	if cfg.Log.Format != "json" {
		t.Errorf("expected default log format, got %s", cfg.Log.Format)
	}
}

func TestLoadMissingFileIsNotError(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Ollama.BaseURL != "http://127.0.0.1:11434" {
		t.Errorf("expected default base url, got %s", cfg.Ollama.BaseURL)
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")
	if err := os.WriteFile(yamlPath, []byte("stream:\n  buffer_size: 8\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OLLAMARELAY_STREAM_BUFFER", "64")
	t.Setenv("OLLAMARELAY_STALL_TIMEOUT", "2m")
	t.Setenv("OLLAMA_BASE_URL", "http://10.0.0.2:11434")

	cfg, err := LoadFrom(yamlPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Stream.BufferSize != 64 {
		t.Errorf("expected env buffer 64, got %d", cfg.Stream.BufferSize)
	}
	if cfg.Stream.StallTimeout != 2*time.Minute {
		t.Errorf("expected env stall 2m, got %v", cfg.Stream.StallTimeout)
	}
	if cfg.Ollama.BaseURL != "http://10.0.0.2:11434" {
		t.Errorf("expected env base url, got %s", cfg.Ollama.BaseURL)
	}
}

func TestInvalidEnvValueIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("OLLAMARELAY_STREAM_BUFFER", "lots")

	cfg, err := LoadFrom("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Stream.BufferSize != 256 {
		t.Errorf("expected default buffer kept, got %d", cfg.Stream.BufferSize)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty base url", func(c *Config) { c.Ollama.BaseURL = "" }},
		{"relative base url", func(c *Config) { c.Ollama.BaseURL = "localhost" }},
		{"zero buffer", func(c *Config) { c.Stream.BufferSize = 0 }},
		{"negative stall", func(c *Config) { c.Stream.StallTimeout = -time.Second }},
		{"negative request timeout", func(c *Config) { c.Ollama.RequestTimeout = -time.Second }},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			if err := validate(&cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	cfg := Defaults()
	if err := validate(&cfg); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestMalformedYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("stream: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Fatal("expected parse error")
	}
}
