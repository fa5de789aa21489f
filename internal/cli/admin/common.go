// Package admin implements the homiliad subcommands.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/cloo-solutions/homilia/internal/app"
	"github.com/cloo-solutions/homilia/internal/config"
	"github.com/cloo-solutions/homilia/internal/domain"
	"github.com/cloo-solutions/homilia/internal/logging"
	"github.com/cloo-solutions/homilia/internal/telemetry"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	outputText = "text"
	outputJSON = "json"
)

// loadConfig reads the environment and configures logging. Command output
// goes to stdout, so logs go to stderr.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logging.InitWithOutput(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	return cfg, nil
}

// withApp builds the app for one command run and tears it down afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	shutdown, err := telemetry.Init(telemetryConfig(cfg))
	if err != nil {
		logrus.WithError(err).Warn("telemetry init failed, continuing without tracing")
	} else {
		defer shutdown()
	}

	a, err := app.New(ctx, cfg, logrus.StandardLogger())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, span := telemetry.StartTransaction(ctx, "homiliad "+cmd.Name(), "cli")
	defer span.End()
	telemetry.AddBreadcrumb(ctx, "cli", cmd.CommandPath())

	if err := fn(ctx, a); err != nil {
		telemetry.CaptureError(ctx, err)
		return err
	}
	return nil
}

func telemetryConfig(cfg *config.Config) telemetry.Config {
	// 10% sampling in production, everything in development
	sampleRate := 0.1
	if cfg.Environment == "development" {
		sampleRate = 1.0
	}
	return telemetry.Config{
		DSN:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		TracesSampleRate: sampleRate,
		Debug:            cfg.Debug,
	}
}

func addOutputFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", outputText, "Output format (text or json)")
}

func outputFormat(cmd *cobra.Command) (string, error) {
	format, _ := cmd.Flags().GetString("output")
	switch format {
	case outputText, outputJSON:
		return format, nil
	default:
		return "", fmt.Errorf("unknown output format %q (expected text or json)", format)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// failureError turns a result failure into a command error.
func failureError(f *domain.Failure) error {
	if f == nil {
		return nil
	}
	return fmt.Errorf("%s failed (%s): %s", f.Stage, f.Kind, f.Message)
}

func printDiagnostics(w io.Writer, failures []*domain.Failure) {
	for _, f := range failures {
		fmt.Fprintf(w, "warning: %s: %s\n", f.Stage, f.Message)
	}
}
