package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/statuswatch/internal/config"
	"github.com/JakeFAU/statuswatch/internal/server"
)

func newServeCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Poll on a schedule and serve the latest report over HTTP",
		Long: `Runs one poll cycle at startup (unless poll.run_on_start is false), then
one every poll.interval. The latest report is served at /status.json and
the frontend directory is served at /.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			app, err := server.Build(cmd.Context(), e.cfg, e.logger, server.Options{})
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			if watch {
				if err := watchConfig(e, app); err != nil {
					_ = app.Close(cmd.Context())
					return err
				}
			}
			return app.Run(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "reload sources and interval when the config file changes")
	return cmd
}

func watchConfig(e *env, app *server.App) error {
	if e.cfgPath == "" {
		return fmt.Errorf("--watch requires --config")
	}
	_, err := config.Watch(e.cfgPath,
		func(next config.Config) {
			if err := app.Reload(next); err != nil {
				e.logger.Error("config reload rejected", zap.Error(err))
			}
		},
		func(err error) {
			e.logger.Error("config reload failed", zap.Error(err))
		},
	)
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	e.logger.Info("watching config file", zap.String("path", e.cfgPath))
	return nil
}
