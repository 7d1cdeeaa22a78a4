// Package cmd defines and implements the CLI commands for the statuswatch
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/statuswatch/internal/config"
	"github.com/JakeFAU/statuswatch/internal/logging"
)

type envKeyType string

const envKey envKeyType = "env"

// env is what every subcommand receives from the root command.
type env struct {
	cfgPath string
	cfg     config.Config
	logger  *zap.Logger
}

// newLogger is a variable so tests can silence output.
var newLogger = logging.New

func newRootCmd() *cobra.Command {
	var cfgFile, envFile string

	cmd := &cobra.Command{
		Use:   "statuswatch",
		Short: "Polls LLM provider status pages and publishes a combined report.",
		Long: `statuswatch periodically fetches the public status of several LLM
providers, normalizes every page into one model and publishes the
combined report to disk, the HTTP endpoint and any configured sinks.`,
		SilenceUsage: true,

		// Runs before every subcommand: load .env, config and the logger.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(envFile); err != nil {
				return err
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := newLogger(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)
			ctx := context.WithValue(cmd.Context(), envKey, &env{cfgPath: cfgFile, cfg: cfg, logger: logger})
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, ok := cmd.Context().Value(envKey).(*env); ok && e != nil {
				_ = logging.Sync(e.logger)
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newPollCmd())
	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey).(*env)
	if !ok || e == nil {
		return nil, errors.New("configuration not initialized")
	}
	return e, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "statuswatch:", err)
		os.Exit(1)
	}
}
