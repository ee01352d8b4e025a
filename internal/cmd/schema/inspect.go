package schema

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/turbolytics/csvimport/internal/config"
)

func newInspectCommand(v *viper.Viper) *cobra.Command {
	var tableName string

	var cmd = &cobra.Command{
		Use:   "inspect",
		Short: "Prints the columns the importer would discover for a table",
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
			l := logger.Named("schema.inspect")
			l.Info("inspecting table", zap.String("table", tableName))

			db, err := config.OpenDatabase(cmd.Context(), c, logger.Named("postgres"))
			if err != nil {
				return err
			}
			defer db.Close()

			sess, err := db.Acquire(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.Release()

			s, err := sess.Schema(cmd.Context(), tableName)
			if err != nil {
				return err
			}

			bs, err := yaml.Marshal(map[string]any{
				"table":   tableName,
				"columns": s,
			})
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(bs))
			return nil
		},
	}

	cmd.Flags().StringVarP(&tableName, "table", "t", "", "Table to inspect")
	cmd.MarkFlagRequired("table")

	return cmd
}
