// Command ragctl is a terminal client for the RAG document Q&A service.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	baseURL  string
	logLevel string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errReported) {
			color.New(color.FgRed).Fprintf(os.Stderr, "ragctl: %v\n", err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "ragctl",
		Short: "Ask questions about your PDFs",
		Long: `ragctl signs in to a RAG server, uploads a PDF to build its knowledge base,
and answers questions about the uploaded document.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", "", "API base URL (overrides RAG_API_BASE_URL)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides RAG_LOG_LEVEL)")
	cmd.AddCommand(
		newRegisterCmd(opts),
		newLoginCmd(opts),
		newLogoutCmd(opts),
		newWhoamiCmd(opts),
		newUploadCmd(opts),
		newChatCmd(opts),
	)
	return cmd
}
