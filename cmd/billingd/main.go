// Command billingd runs the billing service and its maintenance tasks.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/imobcloud/billing/handler"
	"github.com/imobcloud/billing/pkg/config"
	"github.com/imobcloud/billing/pkg/logger"
	"github.com/imobcloud/billing/svc/billing"
)

// Set at build time with -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

var envFiles []string

var rootCmd = &cobra.Command{
	Use:           "billingd",
	Short:         "Billing and payment reconciliation service",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return config.LoadEnvFiles(envFiles...)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "billingd %s (%s)\n", Version, GitCommit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load before reading the environment")
	rootCmd.AddCommand(serveCmd, migrateCmd, plansCmd, signWebhookCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (billing.Config, error) {
	var cfg billing.Config
	if err := config.Load(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func newLogger(cfg billing.Config) *slog.Logger {
	l := logger.New(
		logger.WithEnvironment(cfg.AppEnv, "billingd"),
		logger.WithLevelName(cfg.LogLevel),
		logger.WithContextExtractors(handler.RequestIDExtractor(), logger.ContextAttrsExtractor()),
	)
	logger.SetAsDefault(l)
	return l
}
