package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/ollama/ollama/api"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List installed models",
	Args:  cobra.NoArgs,
	RunE:  runModels,
}

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List models loaded in memory",
	Args:  cobra.NoArgs,
	RunE:  runPS,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the upstream address, installed and loaded models",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var unloadCmd = &cobra.Command{
	Use:   "unload MODEL",
	Short: "Evict a model from memory",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnload,
}

var generateCmd = &cobra.Command{
	Use:   "generate MODEL PROMPT...",
	Short: "Run a prompt to completion and print the response",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runGenerate,
}

func runModels(cmd *cobra.Command, _ []string) error {
	a, done, err := loadApp()
	if err != nil {
		return err
	}
	defer done()

	models, err := a.ollama.ListModelDetails(cmd.Context())
	if err != nil {
		return err
	}
	return printModels(cmd, models)
}

func printModels(cmd *cobra.Command, models []api.ListModelResponse) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tSIZE\tPARAMS\tQUANT\tFAMILY")
	for _, m := range models {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			m.Name, formatSize(m.Size), m.Details.ParameterSize, m.Details.QuantizationLevel, m.Details.Family)
	}
	return w.Flush()
}

func runPS(cmd *cobra.Command, _ []string) error {
	a, done, err := loadApp()
	if err != nil {
		return err
	}
	defer done()

	names, err := a.ollama.ListActiveModels(cmd.Context())
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "no models loaded")
		return nil
	}
	for _, n := range names {
		fmt.Fprintln(cmd.OutOrStdout(), n)
	}
	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	a, done, err := loadApp()
	if err != nil {
		return err
	}
	defer done()

	var installed, loaded []string
	g, gctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		var err error
		installed, err = a.ollama.ListModels(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		loaded, err = a.ollama.ListActiveModels(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("ollama at %s: %w", a.ollama.BaseURL(), err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Ollama:    %s\n", a.ollama.BaseURL())
	fmt.Fprintf(out, "Installed: %d\n", len(installed))
	fmt.Fprintf(out, "Loaded:    %d", len(loaded))
	if len(loaded) > 0 {
		fmt.Fprintf(out, " (%s)", strings.Join(loaded, ", "))
	}
	fmt.Fprintln(out)
	return nil
}

func runUnload(cmd *cobra.Command, args []string) error {
	a, done, err := loadApp()
	if err != nil {
		return err
	}
	defer done()

	if err := a.ollama.Unload(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "unloaded %s\n", args[0])
	return nil
}

func runGenerate(cmd *cobra.Command, args []string) error {
	a, done, err := loadApp()
	if err != nil {
		return err
	}
	defer done()

	prompt := strings.Join(args[1:], " ")
	if strings.TrimSpace(prompt) == "" {
		return errors.New("prompt is empty")
	}
	text, err := a.ollama.Generate(cmd.Context(), args[0], prompt)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), text)
	return nil
}

// formatSize renders a byte count the way ollama list does.
func formatSize(n int64) string {
	const unit = 1000
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "kMGTPE"[exp])
}
