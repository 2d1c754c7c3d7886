package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/AaronKronberg/OllamaRelay/internal/stream"
)

var chatSystem string

var chatCmd = &cobra.Command{
	Use:   "chat MODEL PROMPT...",
	Short: "Stream a chat reply to stdout; Ctrl-C cancels it",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatSystem, "system", "s", "", "System prompt")
}

func runChat(cmd *cobra.Command, args []string) error {
	a, done, err := loadApp()
	if err != nil {
		return err
	}
	defer done()

	model := args[0]
	var messages []api.Message
	if chatSystem != "" {
		messages = append(messages, api.Message{Role: "system", Content: chatSystem})
	}
	messages = append(messages, api.Message{Role: "user", Content: strings.Join(args[1:], " ")})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	t, err := a.manager.StartStream(ctx, model, messages)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "[cancelled]")
			return nil
		}
		return err
	}
	// The task ignores ctx; an interrupt cancels it by ID like any consumer would.
	unwatch := context.AfterFunc(ctx, func() { a.manager.Cancel(t.ID()) })
	defer unwatch()

	out := cmd.OutOrStdout()
	res := stream.Relay(context.WithoutCancel(ctx), t, terminalSink(out))

	if isTerminal(out) {
		fmt.Fprintln(out)
	}
	if t.Aborted() {
		fmt.Fprintln(cmd.ErrOrStderr(), "[cancelled]")
	}
	if res.Err != nil {
		return fmt.Errorf("write output: %w", res.Err)
	}

	sctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return a.manager.Shutdown(sctx)
}

// terminalSink writes tokens as they arrive.
func terminalSink(w io.Writer) stream.Sink {
	return stream.SinkFuncs{
		OnToken: func(_ context.Context, _, token string) error {
			_, err := io.WriteString(w, token)
			return err
		},
	}
}

// isTerminal reports whether w is an interactive terminal. Piped output gets
// no decoration.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
