package admin

import (
	"context"
	"fmt"

	"github.com/cloo-solutions/homilia/internal/app"
	"github.com/cloo-solutions/homilia/internal/config"
	"github.com/cloo-solutions/homilia/internal/database"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func MigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long:  "Apply the embedded schema migrations to HOMILIA_DATABASE_URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.HasDatabase() {
				return fmt.Errorf("HOMILIA_DATABASE_URL is required")
			}
			return database.Migrate(cfg.DatabaseURL, logrus.StandardLogger())
		},
	}
}

func IndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage the search index",
	}
	cmd.AddCommand(indexInitCmd())
	return cmd
}

func indexInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the search index if it does not exist",
		Long: "Create the OpenSearch index with its knn mapping. The postgres backend " +
			"keeps its schema in migrations, use 'homiliad migrate' instead.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if a.Config.SearchBackend != config.SearchBackendOpenSearch {
					return fmt.Errorf("index init requires the opensearch backend (current: %s)", a.Config.SearchBackend)
				}
				created, err := a.OpenSearch.EnsureIndex(ctx)
				if err != nil {
					return err
				}
				if created {
					fmt.Fprintf(cmd.OutOrStdout(), "Index created: %s\n", a.Config.OpenSearchIndex)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Index already exists: %s\n", a.Config.OpenSearchIndex)
				}
				return nil
			})
		},
	}
}
