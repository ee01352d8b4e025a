package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/turbolytics/csvimport/internal/catalog"
	"github.com/turbolytics/csvimport/internal/config"
)

var errImportFailed = errors.New("import failed")

func newRunCommand(v *viper.Viper) *cobra.Command {
	var output string

	var cmd = &cobra.Command{
		Use:   "run",
		Short: "Runs a single import in the foreground and prints its summary",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			switch output {
			case "json", "yaml":
				return nil
			}
			return fmt.Errorf("unsupported output %q, expected json or yaml", output)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.New(v)
			if err != nil {
				return err
			}

			logger, err := config.NewLogger(c.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			imp, db, err := config.InitializeImporter(cmd.Context(), c, logger.Named("importer"))
			if err != nil {
				return err
			}
			defer db.Close()

			rep := imp.Run(cmd.Context())
			summary := rep.Summary()
			if err := writeSummary(cmd.OutOrStdout(), output, summary); err != nil {
				return err
			}

			if summary.Status != catalog.StatusSuccess {
				return errImportFailed
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "json", "Summary format (json or yaml)")
	return cmd
}

func writeSummary(w io.Writer, format string, s catalog.Summary) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(s)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
