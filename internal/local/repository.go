package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

type Option func(*Repository)

// Repository is a directory on local disk. It is used as the per-run scratch
// area that downloads land in.
type Repository struct {
	basePath string
	prefix   string
	logger   *zap.Logger
}

func WithPrefix(prefix string) Option {
	return func(r *Repository) {
		r.prefix = prefix
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(r *Repository) {
		r.logger = logger
	}
}

func New(basePath string, opts ...Option) *Repository {
	r := &Repository{
		basePath: basePath,
		logger:   zap.NewNop(),
	}

	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewTemp creates a fresh directory under dir (os.TempDir when empty) and
// returns a repository rooted at it.
func NewTemp(dir, pattern string, opts ...Option) (*Repository, error) {
	path, err := os.MkdirTemp(dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}
	return New(path, opts...), nil
}

func (r *Repository) Root() string {
	return r.basePath
}

// Path resolves key to a path on disk. Keys cannot escape the repository root.
func (r *Repository) Path(key string) string {
	return filepath.Join(
		r.basePath,
		r.prefix,
		filepath.Base(filepath.Clean("/"+key)),
	)
}

func (r *Repository) Write(ctx context.Context, key string, reader io.Reader) error {
	fullPath := r.Path(key)
	r.logger.Debug("writing file", zap.String("path", fullPath))

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return err
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return err
	}

	if _, err := io.Copy(file, readerWithContext{ctx: ctx, r: reader}); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func (r *Repository) Open(key string) (*os.File, error) {
	return os.Open(r.Path(key))
}

// RemoveAll deletes the repository root and everything under it.
func (r *Repository) RemoveAll() error {
	return os.RemoveAll(r.basePath)
}

type readerWithContext struct {
	ctx context.Context
	r   io.Reader
}

func (rc readerWithContext) Read(p []byte) (int, error) {
	if err := rc.ctx.Err(); err != nil {
		return 0, err
	}
	return rc.r.Read(p)
}
