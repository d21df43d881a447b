package cmd

import (
	"encoding/json"
	"os"

	"github.com/ethpandaops/sfbulk/pkg/extractor"
	"github.com/spf13/cobra"
)

// probeCmd checks a configuration against the remote service
//
//nolint:gochecknoglobals // Cobra commands are typically global
var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check the configured query without extracting",
	Long: `Log in, build the query a run would submit and execute it with LIMIT 1.
Prints the query, the selected and dropped fields and any primary keys the
query does not select. Nothing is written.`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

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

	res, err := ext.Probe(ctx)
	if res != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if encErr := enc.Encode(res); encErr != nil {
			return encErr
		}
	}

	return err
}
