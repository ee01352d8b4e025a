package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/turbolytics/csvimport/internal/table"
)

const (
	DefaultBatchSize      = 1000
	DefaultChunkSize      = 10000
	DefaultLargeFileBytes = 10 * 1024 * 1024
)

// Source is a header-first row stream.
type Source interface {
	Header() []string
	Size() int64
	// Next returns up to n rows, all remaining rows when n <= 0, and io.EOF
	// when exhausted.
	Next(n int) ([][]string, error)
}

// Inserter executes one prepared insert for a batch of rows atomically.
type Inserter interface {
	InsertBatch(ctx context.Context, table string, columns []string, rows [][]any) error
}

// Recorder receives run-level log lines.
type Recorder interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Loader turns CSV rows into typed batches and inserts them.
type Loader struct {
	batchSize      int
	chunkSize      int
	largeFileBytes int64
	loadTimestamp  string
	now            func() time.Time
	logger         *zap.Logger
}

type Option func(*Loader)

func WithBatchSize(n int) Option {
	return func(l *Loader) {
		l.batchSize = n
	}
}

func WithChunkSize(n int) Option {
	return func(l *Loader) {
		l.chunkSize = n
	}
}

// WithLargeFileBytes sets the size above which the source is read in chunks.
func WithLargeFileBytes(n int64) Option {
	return func(l *Loader) {
		l.largeFileBytes = n
	}
}

func WithLoadTimestampColumn(name string) Option {
	return func(l *Loader) {
		l.loadTimestamp = name
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Loader) {
		l.now = now
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

func New(opts ...Option) *Loader {
	l := &Loader{
		batchSize:      DefaultBatchSize,
		chunkSize:      DefaultChunkSize,
		largeFileBytes: DefaultLargeFileBytes,
		loadTimestamp:  table.DefaultLoadTimestampColumn,
		now:            time.Now,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.batchSize <= 0 {
		l.batchSize = DefaultBatchSize
	}
	return l
}

// Load inserts every row of src into tbl and returns the number of rows from
// batches that committed. A failed batch is recorded and skipped. The returned
// error is non-nil only when nothing can be mapped or the source cannot be
// read; the count still reflects what was inserted before a read failure.
func (l *Loader) Load(ctx context.Context, src Source, tbl string, schema table.Schema, ins Inserter, rec Recorder) (int, error) {
	match, err := table.Match(schema, src.Header(), l.loadTimestamp)
	for _, col := range match.Missing {
		rec.Warnf("Column %s not found in CSV", col)
	}
	if err != nil {
		rec.Errorf("No columns matched between CSV and database table")
		return 0, err
	}

	coercer := table.Coercer{
		LoadTimestamp: l.loadTimestamp,
		Now:           l.now(),
	}
	columns := match.Mapping.Columns()

	chunkSize := 0
	if src.Size() > l.largeFileBytes && l.chunkSize > 0 {
		chunkSize = l.chunkSize
		rec.Infof("Large file detected, processing in chunks of %d rows", chunkSize)
	}

	inserted := 0
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return inserted, err
		}

		rows, err := src.Next(chunkSize)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return inserted, fmt.Errorf("read %s: %w", tbl, err)
		}

		if chunkSize > 0 {
			rec.Infof("Processing chunk (rows %d-%d)", offset, offset+len(rows))
		}
		inserted += l.loadChunk(ctx, tbl, columns, match.Mapping, coercer, rows, ins, rec)
		offset += len(rows)

		if chunkSize == 0 {
			break
		}
	}

	rec.Infof("Inserted %d rows into %s", inserted, tbl)
	return inserted, nil
}

func (l *Loader) loadChunk(ctx context.Context, tbl string, columns []string, mapping table.Mapping, coercer table.Coercer, rows [][]string, ins Inserter, rec Recorder) int {
	inserted := 0
	total := len(rows)
	for start := 0; start < total; start += l.batchSize {
		end := min(start+l.batchSize, total)

		batch := make([][]any, 0, end-start)
		for _, row := range rows[start:end] {
			batch = append(batch, Tuple(mapping, coercer, row))
		}

		if err := ins.InsertBatch(ctx, tbl, columns, batch); err != nil {
			rec.Errorf("Error inserting batch: %s", err)
			l.logger.Debug("batch failed",
				zap.String("table", tbl),
				zap.Int("start", start),
				zap.Int("end", end),
				zap.Error(err),
			)
			continue
		}
		inserted += len(batch)
		rec.Infof("Inserted batch %d-%d of %d rows", start, end, total)
	}
	return inserted
}

// Tuple builds one insert tuple in mapping order. Short rows yield nulls for
// the absent cells.
func Tuple(mapping table.Mapping, coercer table.Coercer, row []string) []any {
	out := make([]any, len(mapping))
	for i, b := range mapping {
		var raw any
		if b.HasSource() && b.Source < len(row) {
			raw = row[b.Source]
		}
		out[i] = coercer.Coerce(b, raw).Any()
	}
	return out
}
