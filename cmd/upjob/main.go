package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "upjob",
		Short:         "Upjob job board server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config/app.yaml", "path to the YAML config file")
	root.AddCommand(serveCmd(), migrateCmd(), rulesCmd())

	if err := root.ExecuteContext(context.Background()); err != nil {
		slog.Error("upjob failed", "error", err)
		os.Exit(1)
	}
}
