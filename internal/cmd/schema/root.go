package schema

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func NewCommand(v *viper.Viper) *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "schema",
		Short: "Utilities for inspecting target table schemas",
	}

	cmd.AddCommand(newInspectCommand(v))

	return cmd
}
