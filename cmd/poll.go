package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/statuswatch/internal/publisher"
	"github.com/JakeFAU/statuswatch/internal/server"
)

type pollOptions struct {
	format      string
	publish     bool
	failOnError bool
}

// errSourcesFailed is returned with --fail-on-error when any source failed.
var errSourcesFailed = errors.New("one or more sources failed")

func newPollCmd() *cobra.Command {
	opts := pollOptions{}
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Run a single poll cycle and print the report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			format := strings.ToLower(opts.format)
			if format != "json" && format != "yaml" {
				return fmt.Errorf("unsupported format %q (want json or yaml)", opts.format)
			}

			app, err := server.Build(cmd.Context(), e.cfg, e.logger, server.Options{SkipSinks: !opts.publish})
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			defer func() {
				if cerr := app.Close(cmd.Context()); cerr != nil {
					e.logger.Warn("failed to close application", zap.Error(cerr))
				}
			}()

			report, err := app.PollOnce(cmd.Context())
			if err != nil {
				e.logger.Warn("report published with errors", zap.Error(err))
			}
			out, err := render(report, format)
			if err != nil {
				return err
			}
			if _, err := cmd.OutOrStdout().Write(out); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			if opts.failOnError && report.Summary.Failed > 0 {
				return fmt.Errorf("%w: %s", errSourcesFailed, strings.Join(report.FailedSources(), ", "))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.format, "format", "f", "json", "output format: json or yaml")
	cmd.Flags().BoolVar(&opts.publish, "publish", false, "also publish the report to the configured sinks")
	cmd.Flags().BoolVar(&opts.failOnError, "fail-on-error", false, "exit non-zero when any source failed")
	return cmd
}

func render(report publisher.Report, format string) ([]byte, error) {
	body, err := report.Encode()
	if err != nil {
		return nil, err
	}
	if format == "json" {
		return append(body, '\n'), nil
	}
	// Outcomes only know their JSON form; go through a generic document.
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	return out, nil
}
