package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloo-solutions/homilia/internal/api/handlers"
	"github.com/cloo-solutions/homilia/internal/api/middleware"
	"github.com/cloo-solutions/homilia/internal/app"
	"github.com/cloo-solutions/homilia/internal/config"
	"github.com/cloo-solutions/homilia/internal/database"
	"github.com/cloo-solutions/homilia/internal/logging"
	"github.com/cloo-solutions/homilia/internal/server"
	"github.com/cloo-solutions/homilia/internal/telemetry"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the homilia API server on the specified port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat)
	logger := logrus.WithFields(logrus.Fields{"service": "homiliad", "environment": cfg.Environment})

	shutdownTelemetry, err := telemetry.Init(telemetryConfig(cfg))
	if err != nil {
		logger.WithError(err).Warn("telemetry init failed, continuing without tracing")
	} else {
		defer shutdownTelemetry()
	}

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if cfg.SearchBackend == config.SearchBackendPostgres && !noMigrate {
		if err := database.Migrate(cfg.DatabaseURL, logger); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.OpenSearch != nil {
		created, err := a.OpenSearch.EnsureIndex(ctx)
		if err != nil {
			return fmt.Errorf("failed to ensure search index: %w", err)
		}
		if created {
			logger.WithField("index", cfg.OpenSearchIndex).Info("created search index")
		}
	}

	var validator middleware.AuthValidator
	if cfg.APIKey != "" {
		validator = middleware.StaticKey(cfg.APIKey)
	} else {
		logger.Warn("HOMILIA_API_KEY not set, the API is unauthenticated")
	}

	router := server.NewRouter(server.RouterConfig{
		AuthValidator:   validator,
		Logger:          logger.WithField("component", "http"),
		MaxUploadBytes:  cfg.MaxUploadMB << 20,
		DocumentHandler: handlers.NewDocumentHandler(a.Ingest, a.Deletion, a.Documents, a.Retrieval),
		SearchHandler:   handlers.NewSearchHandler(a.Retrieval, a.Citations),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.WithField("port", cfg.Port).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited")
	return nil
}
