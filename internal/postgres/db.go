package postgres

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	DefaultQueryTimeout = 30 * time.Second
	DefaultBatchTimeout = 60 * time.Second
)

// ConnConfig holds the discrete connection settings used to build a DSN.
type ConnConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DSN renders the settings as a postgres:// URL.
func (c ConnConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Database,
	}
	q := url.Values{}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// DB is a connection pool handing out one Session per target table.
type DB struct {
	pool   *pgxpool.Pool
	logger *zap.Logger

	queryTimeout time.Duration
	batchTimeout time.Duration
}

type Option func(*DB)

func WithLogger(l *zap.Logger) Option {
	return func(d *DB) {
		d.logger = l
	}
}

func WithQueryTimeout(t time.Duration) Option {
	return func(d *DB) {
		d.queryTimeout = t
	}
}

func WithBatchTimeout(t time.Duration) Option {
	return func(d *DB) {
		d.batchTimeout = t
	}
}

// Open creates the pool and verifies it can reach the server.
func Open(ctx context.Context, dsn string, opts ...Option) (*DB, error) {
	d := &DB{
		logger:       zap.NewNop(),
		queryTimeout: DefaultQueryTimeout,
		batchTimeout: DefaultBatchTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, d.queryTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	d.pool = pool
	return d, nil
}

// Acquire checks a connection out of the pool. The caller must Release it.
func (d *DB) Acquire(ctx context.Context) (*Session, error) {
	conn, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return &Session{
		conn:         conn,
		logger:       d.logger,
		queryTimeout: d.queryTimeout,
		batchTimeout: d.batchTimeout,
	}, nil
}

func (d *DB) Close() {
	d.pool.Close()
}
