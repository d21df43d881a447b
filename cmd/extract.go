package cmd

import (
	"encoding/json"
	"os"

	"github.com/ethpandaops/sfbulk/pkg/extractor"
	"github.com/ethpandaops/sfbulk/pkg/observability"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Command flags need to be global for cobra
var extractJSON bool

// extractCmd runs one extraction and exits
//
//nolint:gochecknoglobals // Cobra commands are typically global
var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Run one extraction",
	Long: `Run one extraction: build the query, run it as a bulk job, write the
result sets as slices of the output table, write the manifest and advance
the watermark.

Exit status is 1 for configuration and user errors and 2 for operational
failures.`,
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().BoolVar(&extractJSON, "json", false, "print the run result as JSON")
}

func runExtract(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	observability.StartMetricsServer(logger, cfg.MetricsAddr)

	ext, err := extractor.New(logger, &cfg.Extraction)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := ext.Close(); closeErr != nil {
			logger.WithError(closeErr).Error("Failed to close state backend")
		}
	}()

	ctx, stop := signalContext()
	defer stop()

	res, err := ext.Run(ctx)

	if extractJSON && res != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if encErr := enc.Encode(res); encErr != nil {
			logger.WithError(encErr).Error("Failed to print result")
		}
	}

	return err
}
