package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/turbolytics/csvimport/internal/cmd/schema"
	"github.com/turbolytics/csvimport/internal/config"
)

func NewRootCommand() *cobra.Command {
	v := viper.New()
	var envFiles []string

	var cmd = &cobra.Command{
		Use:   "csvimport",
		Short: "Loads CSV files from an SFTP server into PostgreSQL",
		Long: `csvimport downloads CSV files from a remote SFTP directory and loads
each one into the PostgreSQL table named after the file. Settings are read
from the environment and from .env files.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(envFiles...)
		},
	}

	cmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "Env files to load (default .env)")
	cmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	v.BindPFlag("log_level", cmd.PersistentFlags().Lookup("log-level"))

	cmd.AddCommand(newServeCommand(v))
	cmd.AddCommand(newRunCommand(v))
	cmd.AddCommand(schema.NewCommand(v))

	return cmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
