package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/turbolytics/csvimport/internal/config"
	"github.com/turbolytics/csvimport/internal/jobs"
	"github.com/turbolytics/csvimport/internal/server"
)

func newServeCommand(v *viper.Viper) *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "serve",
		Short: "Starts the HTTP API that triggers and reports on imports",
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
			l := logger.Named("csvimport.serve")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			imp, db, err := config.InitializeImporter(ctx, c, logger.Named("importer"))
			if err != nil {
				return err
			}
			defer db.Close()

			store, closeStore, err := config.InitializeJobStore(ctx, c, logger.Named("jobs.store"))
			if err != nil {
				return err
			}
			defer closeStore(cmd.Context())

			opts := []jobs.Option{jobs.WithLogger(logger.Named("jobs"))}
			notifier, err := config.InitializeNotifier(ctx, c, logger.Named("kafka"))
			if err != nil {
				return err
			}
			if notifier != nil {
				defer notifier.Close(cmd.Context())
				opts = append(opts, jobs.WithNotifier(notifier))
			}

			tracker := jobs.New(store, imp, opts...)

			l.Info("starting csvimport server",
				zap.String("addr", c.HTTPAddr),
				zap.String("job_store", c.JobStore.Type),
				zap.Bool("archive", c.Archive.Enabled()),
				zap.Bool("notifications", notifier != nil),
			)

			srv := server.New(tracker, logger.Named("http"))
			err = srv.Start(ctx, c.HTTPAddr)

			l.Info("waiting for running imports to finish")
			tracker.Wait()
			return err
		},
	}

	cmd.Flags().String("addr", ":8080", "Address the HTTP server listens on")
	v.BindPFlag("http_addr", cmd.Flags().Lookup("addr"))

	return cmd
}
