package main

import (
	"fmt"
	"os"

	"github.com/cloo-solutions/homilia/internal/cli"
	"github.com/cloo-solutions/homilia/internal/cli/admin"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "homiliad",
		Short:         "Homilia daemon and admin CLI",
		Long:          "Homilia indexes parish documents for semantic search and serves the retrieval API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(admin.MigrateCmd())
	rootCmd.AddCommand(admin.IndexCmd())
	rootCmd.AddCommand(admin.IngestCmd())
	rootCmd.AddCommand(admin.DeleteCmd())
	rootCmd.AddCommand(admin.InfoCmd())
	rootCmd.AddCommand(admin.SearchCmd())
	rootCmd.AddCommand(admin.ByDateCmd())
	rootCmd.AddCommand(admin.CiteCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
