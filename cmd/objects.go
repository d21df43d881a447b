package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ethpandaops/sfbulk/pkg/extractor"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// objectsCmd lists the objects the bulk API can export
//
//nolint:gochecknoglobals // Cobra commands are typically global
var objectsCmd = &cobra.Command{
	Use:   "objects",
	Short: "List objects that can be exported",
	Long:  `Log in with the configured credentials and list every queryable object the bulk API supports.`,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		// Keep the listing readable unless a level was asked for
		if !cmd.Flags().Changed("log-level") {
			logger.SetLevel(logrus.ErrorLevel)
		}

		return nil
	},
	RunE: runObjects,
}

func init() {
	rootCmd.AddCommand(objectsCmd)
}

func runObjects(cmd *cobra.Command, _ []string) error {
	cfg, err := LoadConfig(cfgFile)
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

	objects, err := ext.Objects(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tLABEL")

	for _, o := range objects {
		fmt.Fprintf(w, "%s\t%s\n", o.Name, o.Label)
	}

	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "%d objects\n", len(objects))

	return nil
}
