// Package config provides hierarchical configuration loading for the relay.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration.
type Config struct {
	Ollama  Ollama  `yaml:"ollama"`
	Stream  Stream  `yaml:"stream"`
	Log     Log     `yaml:"log"`
	Metrics Metrics `yaml:"metrics"`
}

// Ollama holds upstream connection settings.
type Ollama struct {
	BaseURL        string        `yaml:"base_url"`        // default: http://127.0.0.1:11434
	RequestTimeout time.Duration `yaml:"request_timeout"` // non-streaming calls only; 0 = none
}

// Stream holds streaming task settings.
type Stream struct {
	BufferSize   int           `yaml:"buffer_size"`   // token channel capacity (default: 256)
	StallTimeout time.Duration `yaml:"stall_timeout"` // idle deadline between chunks; 0 = wait forever
}

// Log holds logger settings.
type Log struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | console
}

// Metrics holds the optional Prometheus endpoint.
type Metrics struct {
	Addr string `yaml:"addr"` // e.g. "127.0.0.1:9464"; empty disables
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Ollama: Ollama{
			BaseURL: "http://127.0.0.1:11434",
		},
		Stream: Stream{
			BufferSize: 256,
		},
		Log: Log{
			Level:  "info",
			Format: "json",
		},
	}
}
