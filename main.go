// ollamarelay relays streaming chat completions from a local Ollama server to
// MCP clients, and offers the same operations as a small CLI.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AaronKronberg/OllamaRelay/internal/config"
)

var cfgPath string

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:           "ollamarelay",
	Short:         "Relay streaming Ollama chats to MCP clients",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", config.DefaultConfigFile, "YAML config file (optional)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(psCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(unloadCmd)
	rootCmd.AddCommand(generateCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadApp builds the services for a command and returns a cleanup func that
// flushes the logger.
func loadApp() (*app, func(), error) {
	a, err := newApp(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	return a, func() { _ = a.logger.Sync() }, nil
}
