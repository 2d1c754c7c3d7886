// container.go wires the relay's services with go.uber.org/dig.
package main

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/AaronKronberg/OllamaRelay/internal/config"
	"github.com/AaronKronberg/OllamaRelay/internal/logging"
	"github.com/AaronKronberg/OllamaRelay/internal/ollama"
	"github.com/AaronKronberg/OllamaRelay/internal/stream"
)

// app holds the resolved service singletons shared by the CLI commands.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	ollama   *ollama.Client
	registry *stream.Registry
	promReg  *prometheus.Registry
	manager  *stream.Manager
	store    *StreamStore
	server   *mcp.Server
}

// newApp builds every service from the config file at cfgPath. An empty
// path skips the file and uses defaults plus environment.
func newApp(cfgPath string) (*app, error) {
	d := dig.New()

	providers := []any{
		func() (*config.Config, error) { return config.LoadFrom(cfgPath) },
		func(cfg *config.Config) (*zap.Logger, error) { return logging.New(cfg.Log) },
		newOllamaClient,
		stream.NewRegistry,
		prometheus.NewRegistry,
		newStreamMetrics,
		newStreamManager,
		NewStreamStore,
		newMCPServer,
	}
	for _, p := range providers {
		if err := d.Provide(p); err != nil {
			return nil, err
		}
	}

	var result *app
	err := d.Invoke(func(
		cfg *config.Config,
		logger *zap.Logger,
		client *ollama.Client,
		registry *stream.Registry,
		promReg *prometheus.Registry,
		manager *stream.Manager,
		store *StreamStore,
		server *mcp.Server,
	) {
		result = &app{
			cfg:      cfg,
			logger:   logger,
			ollama:   client,
			registry: registry,
			promReg:  promReg,
			manager:  manager,
			store:    store,
			server:   server,
		}
	})
	return result, err
}

func newOllamaClient(cfg *config.Config, logger *zap.Logger) (*ollama.Client, error) {
	return ollama.New(cfg.Ollama.BaseURL,
		ollama.WithRequestTimeout(cfg.Ollama.RequestTimeout),
		ollama.WithLogger(logger.Named("ollama")),
	)
}

func newStreamMetrics(reg *prometheus.Registry) *stream.Metrics {
	return stream.NewMetrics(reg)
}

func newStreamManager(cfg *config.Config, client *ollama.Client, reg *stream.Registry, metrics *stream.Metrics, logger *zap.Logger) *stream.Manager {
	return stream.NewManager(client, reg,
		stream.WithLogger(logger.Named("stream")),
		stream.WithMetrics(metrics),
		stream.WithBufferSize(cfg.Stream.BufferSize),
		stream.WithStallTimeout(cfg.Stream.StallTimeout),
	)
}
