package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/turbolytics/csvimport/internal/table"
)

var ErrSchemaUnavailable = errors.New("schema unavailable")

const schemaQuery = `SELECT column_name, data_type
FROM information_schema.columns
WHERE table_name = $1
ORDER BY ordinal_position`

// Session is a single pooled connection used for all work on one table.
type Session struct {
	conn   *pgxpool.Conn
	logger *zap.Logger

	queryTimeout time.Duration
	batchTimeout time.Duration
}

// Schema returns the declared columns of name in ordinal order.
func (s *Session) Schema(ctx context.Context, name string) (table.Schema, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.conn.Query(ctx, schemaQuery, name)
	if err != nil {
		return nil, fmt.Errorf("query schema for %q: %w", name, err)
	}

	cols, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (table.Column, error) {
		var c table.Column
		err := row.Scan(&c.Name, &c.DataType)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan schema for %q: %w", name, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %q: %w", name, ErrSchemaUnavailable)
	}
	return table.Schema(cols), nil
}

// Truncate empties name and resets its identity sequences.
func (s *Session) Truncate(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	stmt := fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", pgx.Identifier{name}.Sanitize())
	if _, err := s.conn.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("truncate %q: %w", name, err)
	}
	return nil
}

// InsertBatch inserts rows into name in a single transaction. Either every row
// is committed or none is.
func (s *Session) InsertBatch(ctx context.Context, name string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.batchTimeout)
	defer cancel()

	stmt := InsertStatement(name, columns)

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, row := range rows {
		if len(row) != len(columns) {
			return fmt.Errorf("row has %d values, expected %d", len(row), len(columns))
		}
		batch.Queue(stmt, row...)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.logger.Debug("inserted batch",
		zap.String("table", name),
		zap.Int("rows", len(rows)),
	)
	return nil
}

// Release returns the connection to the pool.
func (s *Session) Release() {
	s.conn.Release()
}

// InsertStatement builds a parameterized INSERT with quoted identifiers.
func InsertStatement(name string, columns []string) string {
	quoted := make([]string, len(columns))
	params := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = pgx.Identifier{c}.Sanitize()
		params[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pgx.Identifier{name}.Sanitize(),
		strings.Join(quoted, ", "),
		strings.Join(params, ", "),
	)
}
