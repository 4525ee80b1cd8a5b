package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"taskcal/internal/apperr"
	applog "taskcal/internal/log"
)

const version = "0.1.0"

type rootFlags struct {
	configPath string
	envFile    string
	listen     string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if apperr.Is(err, apperr.KindFatalConfig) {
			applog.Error("refusing to start", err)
		} else {
			applog.Error("taskcal failed", err)
		}
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	root := &cobra.Command{
		Use:           "taskcal",
		Short:         "Chat bot that turns task descriptions into a UTC schedule",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "/etc/taskcal/config.yaml", "Path to config file")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "Optional .env file loaded before the environment")
	root.PersistentFlags().StringVar(&flags.listen, "listen", "", "HTTP listen address (overrides config if set)")

	root.AddCommand(newServeCmd(&flags), newOccurrencesCmd())
	return root
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot and the HTTP endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *flags)
		},
	}
}
