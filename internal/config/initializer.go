package config

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/turbolytics/csvimport/internal/integrations/kafka"
	"github.com/turbolytics/csvimport/internal/integrations/mongo"
	"github.com/turbolytics/csvimport/internal/jobs"
	"github.com/turbolytics/csvimport/internal/loader"
	"github.com/turbolytics/csvimport/internal/postgres"
	"github.com/turbolytics/csvimport/internal/s3"
	"github.com/turbolytics/csvimport/internal/sftp"
	"github.com/turbolytics/csvimport/pkg/importer"
)

// NewLogger returns a development logger for debug level and a production
// logger at the given level otherwise.
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	if lvl == zapcore.DebugLevel {
		return zap.NewDevelopment()
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func NewLoader(c *Config, logger *zap.Logger) *loader.Loader {
	return loader.New(
		loader.WithBatchSize(c.Load.BatchSize),
		loader.WithChunkSize(c.Load.ChunkSize),
		loader.WithLargeFileBytes(c.Load.LargeFileBytes()),
		loader.WithLoadTimestampColumn(c.Load.LoadTimestampColumn),
		loader.WithLogger(logger),
	)
}

func NewRetriever(c *Config, logger *zap.Logger) *sftp.Retriever {
	return sftp.New(c.SFTP.Config,
		sftp.WithExtension(c.SFTP.FileExt),
		sftp.WithExpectedFiles(c.SFTP.ExpectedFiles),
		sftp.WithConcurrency(c.SFTP.Concurrency),
		sftp.WithTimeout(c.SFTP.Timeout),
		sftp.WithLogger(logger),
	)
}

func OpenDatabase(ctx context.Context, c *Config, logger *zap.Logger) (*postgres.DB, error) {
	return postgres.Open(ctx, c.Postgres.DSN(),
		postgres.WithLogger(logger),
		postgres.WithQueryTimeout(c.Postgres.QueryTimeout),
		postgres.WithBatchTimeout(c.Postgres.BatchTimeout),
	)
}

// InitializeImporter wires the retriever, database pool, loader and optional
// archive. The returned pool must be closed by the caller.
func InitializeImporter(ctx context.Context, c *Config, logger *zap.Logger) (*importer.Importer, *postgres.DB, error) {
	db, err := OpenDatabase(ctx, c, logger.Named("postgres"))
	if err != nil {
		return nil, nil, err
	}

	opts := []importer.Option{
		importer.WithLoader(NewLoader(c, logger.Named("loader"))),
		importer.WithScratchDir(c.Load.ScratchDir),
		importer.WithLogger(logger),
	}

	if c.Archive.Enabled() {
		archive, err := s3.New(
			s3.WithBucket(c.Archive.Bucket),
			s3.WithRegion(c.Archive.Region),
			s3.WithPrefix(c.Archive.Prefix),
			s3.WithEndpoint(c.Archive.Endpoint),
			s3.WithForcePathStyle(c.Archive.ForcePathStyle),
			s3.WithLogger(logger.Named("archive")),
		)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		opts = append(opts, importer.WithArchive(archive))
	}

	imp := importer.New(
		NewRetriever(c, logger.Named("sftp")),
		importer.Postgres(db),
		opts...,
	)
	return imp, db, nil
}

// Closer releases a resource created by an initializer.
type Closer func(ctx context.Context) error

func noopCloser(context.Context) error { return nil }

// InitializeJobStore builds the configured job store.
func InitializeJobStore(ctx context.Context, c *Config, logger *zap.Logger) (jobs.Store, Closer, error) {
	switch c.JobStore.Type {
	case JobStoreFilesystem:
		return jobs.NewFilesystemStore(c.JobStore.Path, logger), noopCloser, nil
	case JobStoreMongoDB:
		u, err := url.Parse(c.JobStore.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse JOB_STORE_URL: %w", err)
		}
		store, err := mongo.NewStore(ctx, u, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}
	return jobs.NewMemoryStore(), noopCloser, nil
}

// InitializeNotifier returns nil when no KAFKA_URL is configured.
func InitializeNotifier(ctx context.Context, c *Config, logger *zap.Logger) (*kafka.Notifier, error) {
	if c.KafkaURL == "" {
		return nil, nil
	}
	u, err := url.Parse(c.KafkaURL)
	if err != nil {
		return nil, fmt.Errorf("parse KAFKA_URL: %w", err)
	}
	n, err := kafka.NewNotifier(u, logger)
	if err != nil {
		return nil, err
	}
	if err := n.Connect(ctx); err != nil {
		return nil, err
	}
	return n, nil
}
