package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/turbolytics/csvimport/internal/loader"
	"github.com/turbolytics/csvimport/internal/postgres"
	"github.com/turbolytics/csvimport/internal/sftp"
	"github.com/turbolytics/csvimport/internal/table"
)

const (
	JobStoreMemory     = "memory"
	JobStoreFilesystem = "filesystem"
	JobStoreMongoDB    = "mongodb"
)

type Postgres struct {
	postgres.ConnConfig

	QueryTimeout time.Duration
	BatchTimeout time.Duration
}

type SFTP struct {
	sftp.Config

	FileExt       string
	ExpectedFiles int
	Concurrency   int
	Timeout       time.Duration
}

type Load struct {
	ChunkSize           int
	BatchSize           int
	LargeFileMB         int
	LoadTimestampColumn string
	ScratchDir          string
}

func (l Load) LargeFileBytes() int64 {
	return int64(l.LargeFileMB) * 1024 * 1024
}

type JobStore struct {
	Type string
	Path string
	URL  string
}

type Archive struct {
	Bucket         string
	Region         string
	Prefix         string
	Endpoint       string
	ForcePathStyle bool
}

func (a Archive) Enabled() bool {
	return a.Bucket != ""
}

type Config struct {
	Postgres Postgres
	SFTP     SFTP
	Load     Load
	JobStore JobStore
	Archive  Archive
	KafkaURL string
	HTTPAddr string
	LogLevel string
}

// SetDefaults registers every setting with its default so AutomaticEnv can
// resolve it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("pg_host", "")
	v.SetDefault("pg_port", 5432)
	v.SetDefault("pg_user", "")
	v.SetDefault("pg_pass", "")
	v.SetDefault("pg_db", "")
	v.SetDefault("pg_sslmode", "require")
	v.SetDefault("db_query_timeout", postgres.DefaultQueryTimeout)
	v.SetDefault("db_batch_timeout", postgres.DefaultBatchTimeout)

	v.SetDefault("sftp_host", "")
	v.SetDefault("sftp_port", sftp.DefaultPort)
	v.SetDefault("sftp_user", "")
	v.SetDefault("sftp_pass", "")
	v.SetDefault("sftp_path", "")
	v.SetDefault("sftp_known_hosts", "")
	v.SetDefault("sftp_file_ext", sftp.DefaultExtension)
	v.SetDefault("sftp_expected_files", sftp.DefaultExpectedFiles)
	v.SetDefault("sftp_concurrency", sftp.DefaultConcurrency)
	v.SetDefault("sftp_timeout", sftp.DefaultTimeout)

	v.SetDefault("chunk_size", loader.DefaultChunkSize)
	v.SetDefault("batch_size", loader.DefaultBatchSize)
	v.SetDefault("large_file_mb", loader.DefaultLargeFileBytes/(1024*1024))
	v.SetDefault("load_timestamp_column", table.DefaultLoadTimestampColumn)
	v.SetDefault("scratch_dir", "")

	v.SetDefault("job_store", JobStoreMemory)
	v.SetDefault("job_store_path", "jobs")
	v.SetDefault("job_store_url", "")

	v.SetDefault("archive_s3_bucket", "")
	v.SetDefault("archive_s3_region", "us-east-1")
	v.SetDefault("archive_s3_prefix", "")
	v.SetDefault("archive_s3_endpoint", "")
	v.SetDefault("archive_s3_force_path_style", false)

	v.SetDefault("kafka_url", "")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("log_level", "info")
}

// LoadDotEnv reads the given files, or .env when none are given, into the
// process environment. Missing files are ignored and variables already set
// win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// New resolves the configuration from v, which should already have flags
// bound to it.
func New(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	v.AutomaticEnv()

	c := &Config{
		Postgres: Postgres{
			ConnConfig: postgres.ConnConfig{
				Host:     v.GetString("pg_host"),
				Port:     v.GetInt("pg_port"),
				User:     v.GetString("pg_user"),
				Password: v.GetString("pg_pass"),
				Database: v.GetString("pg_db"),
				SSLMode:  v.GetString("pg_sslmode"),
			},
			QueryTimeout: v.GetDuration("db_query_timeout"),
			BatchTimeout: v.GetDuration("db_batch_timeout"),
		},
		SFTP: SFTP{
			Config: sftp.Config{
				Host:       v.GetString("sftp_host"),
				Port:       v.GetInt("sftp_port"),
				User:       v.GetString("sftp_user"),
				Password:   v.GetString("sftp_pass"),
				Path:       v.GetString("sftp_path"),
				KnownHosts: v.GetString("sftp_known_hosts"),
			},
			FileExt:       v.GetString("sftp_file_ext"),
			ExpectedFiles: v.GetInt("sftp_expected_files"),
			Concurrency:   v.GetInt("sftp_concurrency"),
			Timeout:       v.GetDuration("sftp_timeout"),
		},
		Load: Load{
			ChunkSize:           v.GetInt("chunk_size"),
			BatchSize:           v.GetInt("batch_size"),
			LargeFileMB:         v.GetInt("large_file_mb"),
			LoadTimestampColumn: v.GetString("load_timestamp_column"),
			ScratchDir:          v.GetString("scratch_dir"),
		},
		JobStore: JobStore{
			Type: v.GetString("job_store"),
			Path: v.GetString("job_store_path"),
			URL:  v.GetString("job_store_url"),
		},
		Archive: Archive{
			Bucket:         v.GetString("archive_s3_bucket"),
			Region:         v.GetString("archive_s3_region"),
			Prefix:         v.GetString("archive_s3_prefix"),
			Endpoint:       v.GetString("archive_s3_endpoint"),
			ForcePathStyle: v.GetBool("archive_s3_force_path_style"),
		},
		KafkaURL: v.GetString("kafka_url"),
		HTTPAddr: v.GetString("http_addr"),
		LogLevel: v.GetString("log_level"),
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Load.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.Load.ChunkSize))
	}
	if c.Load.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("BATCH_SIZE must be positive, got %d", c.Load.BatchSize))
	}
	if c.Load.LargeFileMB < 0 {
		errs = append(errs, fmt.Errorf("LARGE_FILE_MB must not be negative, got %d", c.Load.LargeFileMB))
	}
	if c.SFTP.ExpectedFiles < 0 {
		errs = append(errs, fmt.Errorf("SFTP_EXPECTED_FILES must not be negative, got %d", c.SFTP.ExpectedFiles))
	}

	switch c.JobStore.Type {
	case JobStoreMemory:
	case JobStoreFilesystem:
		if c.JobStore.Path == "" {
			errs = append(errs, errors.New("JOB_STORE_PATH is required for the filesystem job store"))
		}
	case JobStoreMongoDB:
		if c.JobStore.URL == "" {
			errs = append(errs, errors.New("JOB_STORE_URL is required for the mongodb job store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported JOB_STORE: %q", c.JobStore.Type))
	}
	return errors.Join(errs...)
}
