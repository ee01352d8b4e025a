package importer

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/turbolytics/csvimport/internal"
	"github.com/turbolytics/csvimport/internal/catalog"
	"github.com/turbolytics/csvimport/internal/csvfile"
	"github.com/turbolytics/csvimport/internal/loader"
	"github.com/turbolytics/csvimport/internal/local"
	"github.com/turbolytics/csvimport/internal/postgres"
	"github.com/turbolytics/csvimport/internal/sftp"
	"github.com/turbolytics/csvimport/internal/table"
)

// Retriever downloads the source files into dst.
type Retriever interface {
	Retrieve(ctx context.Context, dst internal.Repository, rec sftp.Recorder) ([]string, error)
}

// Session is one database connection dedicated to a table.
type Session interface {
	loader.Inserter
	Truncate(ctx context.Context, name string) error
	Schema(ctx context.Context, name string) (table.Schema, error)
	Release()
}

type Database interface {
	Acquire(ctx context.Context) (Session, error)
}

type pgDatabase struct {
	db *postgres.DB
}

func (p pgDatabase) Acquire(ctx context.Context) (Session, error) {
	s, err := p.db.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Postgres adapts a connection pool to Database.
func Postgres(db *postgres.DB) Database {
	return pgDatabase{db: db}
}

// Importer runs one full retrieve and load cycle per call to Run.
type Importer struct {
	retriever  Retriever
	db         Database
	loader     *loader.Loader
	archive    internal.Repository
	scratchDir string
	observe    func(State)
	logger     *zap.Logger
}

type Option func(*Importer)

func WithLoader(l *loader.Loader) Option {
	return func(i *Importer) {
		i.loader = l
	}
}

// WithArchive copies every downloaded file to r before it is loaded.
func WithArchive(r internal.Repository) Option {
	return func(i *Importer) {
		i.archive = r
	}
}

// WithScratchDir sets the parent of the per-run download directory.
func WithScratchDir(dir string) Option {
	return func(i *Importer) {
		i.scratchDir = dir
	}
}

// WithStateObserver is called with every state a run enters.
func WithStateObserver(fn func(State)) Option {
	return func(i *Importer) {
		i.observe = fn
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(i *Importer) {
		i.logger = l
	}
}

func New(retriever Retriever, db Database, opts ...Option) *Importer {
	i := &Importer{
		retriever: retriever,
		db:        db,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.loader == nil {
		i.loader = loader.New(loader.WithLogger(i.logger.Named("loader")))
	}
	return i
}

// TableName is the target table for a downloaded file.
func TableName(file string) string {
	return strings.TrimSuffix(file, filepath.Ext(file))
}

// Run executes an import and returns its completed report. It never panics;
// a panic during the run is recorded as an unexpected error.
func (i *Importer) Run(ctx context.Context) *catalog.Report {
	rep := catalog.New(catalog.WithLogger(i.logger.Named("report")))
	fsm := NewFSM(FSMWithLogger(i.logger.Named("fsm")))
	success := false

	var scratch *local.Repository

	defer func() {
		if r := recover(); r != nil {
			rep.Errorf("Unexpected error: %v", r)
			success = false
		}
		i.transition(fsm, StateCleanup, rep)
		i.cleanup(scratch, rep)
		i.transition(fsm, StateDone, rep)
		if fsm.Err() != nil {
			success = false
		}
		rep.Complete(success)
	}()

	rep.Infof("Starting CSV import process...")

	scratch, err := local.NewTemp(i.scratchDir, "csvimport-",
		local.WithLogger(i.logger.Named("scratch")))
	if err != nil {
		rep.Errorf("Unexpected error: %s", err)
		return rep
	}
	rep.Infof("Created temporary directory: %s", scratch.Root())

	i.transition(fsm, StateRetrieving, rep)
	files, err := i.retriever.Retrieve(ctx, scratch, rep)
	if err != nil && !errors.Is(err, sftp.ErrNoFiles) {
		rep.Errorf("Error downloading files: %s", err)
	}
	if len(files) == 0 {
		rep.Errorf("No files were downloaded. Exiting.")
		return rep
	}
	rep.AddDownloaded(files...)

	if i.archive != nil {
		i.archiveFiles(ctx, scratch, files, rep)
	}

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			rep.Errorf("Unexpected error: %s", err)
			return rep
		}
		rows := i.importFile(ctx, fsm, scratch, file, rep)
		rep.AddProcessed(file, rows)
	}

	rep.Infof("All imports completed!")
	success = true
	return rep
}

func (i *Importer) importFile(ctx context.Context, fsm *FSM, scratch *local.Repository, file string, rep *catalog.Report) int {
	tbl := TableName(file)
	rep.Infof("Processing %s into table %s...", file, tbl)

	sess, err := i.db.Acquire(ctx)
	if err != nil {
		rep.Errorf("Error processing %s: %s", file, err)
		return 0
	}
	defer sess.Release()

	i.transition(fsm, StateTruncating, rep)
	rep.Infof("Truncating table %s...", tbl)
	if err := sess.Truncate(ctx, tbl); err != nil {
		rep.Warnf("Could not truncate table: %s", err)
	}

	i.transition(fsm, StateSchemaFetch, rep)
	schema, err := sess.Schema(ctx, tbl)
	if err != nil {
		if !errors.Is(err, postgres.ErrSchemaUnavailable) {
			i.logger.Warn("schema query failed", zap.String("table", tbl), zap.Error(err))
		}
		rep.Errorf("Could not retrieve schema for table %s", tbl)
		return 0
	}
	rep.Infof("Schema for %s: %v", tbl, schema)

	i.transition(fsm, StateLoading, rep)
	src, err := csvfile.Open(scratch.Path(file))
	if err != nil {
		rep.Errorf("Error processing %s: %s", file, err)
		return 0
	}
	defer src.Close()

	rep.Infof("Reading CSV file %s (size: %.1f MB)", file, float64(src.Size())/(1024*1024))
	if src.Encoding() != csvfile.UTF8 {
		rep.Infof("Decoded %s as %s", file, src.Encoding())
	}

	rows, err := i.loader.Load(ctx, src, tbl, schema, sess, rep)
	if errors.Is(err, table.ErrNoColumnsMatched) {
		return 0
	}
	if err != nil {
		rep.Errorf("Error processing %s: %s", file, err)
		return rows
	}

	rep.Infof("Completed import of %s", file)
	return rows
}

func (i *Importer) archiveFiles(ctx context.Context, scratch *local.Repository, files []string, rep *catalog.Report) {
	for _, file := range files {
		if err := i.archiveFile(ctx, scratch, file); err != nil {
			rep.Warnf("Could not archive %s: %s", file, err)
			continue
		}
		rep.Infof("Archived %s", file)
	}
}

func (i *Importer) archiveFile(ctx context.Context, scratch *local.Repository, file string) error {
	f, err := scratch.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	return i.archive.Write(ctx, file, f)
}

func (i *Importer) cleanup(scratch *local.Repository, rep *catalog.Report) {
	if scratch == nil {
		return
	}
	rep.Infof("Cleaning up temporary directory...")
	if err := scratch.RemoveAll(); err != nil {
		rep.Warnf("Could not completely clean up temporary directory: %s", err)
		return
	}
	rep.Infof("Temporary directory cleaned up")
}

// transition records a rejected transition as a run error, which fails the
// run once it reaches done.
func (i *Importer) transition(fsm *FSM, to State, rep *catalog.Report) {
	if err := fsm.Transition(to); err != nil {
		rep.Errorf("Unexpected error: %s", err)
		return
	}
	if i.observe != nil {
		i.observe(to)
	}
}
