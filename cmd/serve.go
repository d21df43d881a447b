package cmd

import (
	"context"

	"github.com/ethpandaops/sfbulk/pkg/server"
	"github.com/spf13/cobra"
)

// serveCmd runs the extractor as a service
//
//nolint:gochecknoglobals // Cobra commands are typically global
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run extractions on a schedule and serve the control API",
	Long: `Run extractions on the configured cron schedule. With the API enabled,
runs can also be triggered and inspected over HTTP. With leader election
enabled only one instance sharing the redis state runs at a time.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	srv, err := server.NewServer(logger, cfg)
	if err != nil {
		return err
	}

	return srv.Start(context.Background())
}
