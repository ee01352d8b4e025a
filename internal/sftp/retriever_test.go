package sftp

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	pkgsftp "github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turbolytics/csvimport/internal/catalog"
	"github.com/turbolytics/csvimport/internal/local"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// memServer seeds an in-memory SFTP server and returns a dialer for it.
func memServer(t *testing.T, dir string, files map[string]string) Dialer {
	t.Helper()

	c1, c2 := net.Pipe()
	server := pkgsftp.NewRequestServer(c1, pkgsftp.InMemHandler())
	go server.Serve()

	client, err := pkgsftp.NewClientPipe(c2, c2)
	require.NoError(t, err)

	require.NoError(t, client.MkdirAll(dir))
	for name, body := range files {
		f, err := client.Create(dir + "/" + name)
		require.NoError(t, err)
		_, err = f.Write([]byte(body))
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}

	t.Cleanup(func() {
		client.Close()
		server.Close()
	})

	return func(ctx context.Context, cfg Config) (*pkgsftp.Client, io.Closer, error) {
		return client, closerFunc(func() error { return nil }), nil
	}
}

func TestRetriever_Retrieve(t *testing.T) {
	dial := memServer(t, "/outbound", map[string]string{
		"orders.csv":    "id\n1\n",
		"customers.csv": "id\n2\n",
		"products.csv":  "id\n3\n",
		"readme.txt":    "ignore me",
	})

	scratch := local.New(t.TempDir())
	rec := catalog.New()
	r := New(Config{Host: "sftp.example.com", Path: "/outbound"}, WithDialer(dial))

	files, err := r.Retrieve(context.Background(), scratch, rec)
	require.NoError(t, err)
	assert.Equal(t, []string{"customers.csv", "orders.csv", "products.csv"}, files)

	bs, err := os.ReadFile(filepath.Join(scratch.Root(), "orders.csv"))
	require.NoError(t, err)
	assert.Equal(t, "id\n1\n", string(bs))

	_, err = os.Stat(filepath.Join(scratch.Root(), "readme.txt"))
	assert.True(t, os.IsNotExist(err))

	logs := strings.Join(rec.Logs(), "\n")
	assert.Contains(t, logs, "Downloading files from SFTP server sftp.example.com...")
	assert.Contains(t, logs, "Found files: [customers.csv orders.csv products.csv]")
	assert.Contains(t, logs, "Successfully downloaded 3 files")
	assert.NotContains(t, logs, "WARNING")
}

func TestRetriever_UnexpectedCountWarns(t *testing.T) {
	dial := memServer(t, "/outbound", map[string]string{
		"orders.csv": "id\n1\n",
	})

	rec := catalog.New()
	r := New(Config{Path: "/outbound"}, WithDialer(dial))
	files, err := r.Retrieve(context.Background(), local.New(t.TempDir()), rec)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders.csv"}, files)
	assert.Contains(t, strings.Join(rec.Logs(), "\n"), "WARNING - Expected exactly 3 files, but found 1")
}

func TestRetriever_NoFiles(t *testing.T) {
	dial := memServer(t, "/outbound", map[string]string{"notes.txt": "x"})

	r := New(Config{Path: "/outbound"}, WithDialer(dial), WithExpectedFiles(0))
	files, err := r.Retrieve(context.Background(), local.New(t.TempDir()), catalog.New())
	assert.ErrorIs(t, err, ErrNoFiles)
	assert.Empty(t, files)
}

func TestRetriever_MissingDirectory(t *testing.T) {
	dial := memServer(t, "/outbound", nil)

	r := New(Config{Path: "/elsewhere"}, WithDialer(dial))
	files, err := r.Retrieve(context.Background(), local.New(t.TempDir()), catalog.New())
	assert.ErrorContains(t, err, "change to /elsewhere")
	assert.Empty(t, files)
}

func TestRetriever_DialError(t *testing.T) {
	dial := func(context.Context, Config) (*pkgsftp.Client, io.Closer, error) {
		return nil, nil, errors.New("connection refused")
	}

	r := New(Config{}, WithDialer(dial))
	files, err := r.Retrieve(context.Background(), local.New(t.TempDir()), catalog.New())
	assert.ErrorContains(t, err, "connection refused")
	assert.Empty(t, files)
}

type failingRepo struct{}

func (failingRepo) Write(context.Context, string, io.Reader) error {
	return errors.New("disk full")
}

func TestRetriever_DownloadErrorDiscardsResult(t *testing.T) {
	dial := memServer(t, "/outbound", map[string]string{"a.csv": "x", "b.csv": "y"})

	r := New(Config{Path: "/outbound"}, WithDialer(dial))
	files, err := r.Retrieve(context.Background(), failingRepo{}, catalog.New())
	assert.ErrorContains(t, err, "disk full")
	assert.Nil(t, files)
}

// partialRepo fails one key and records the others, refusing writes once
// its context is done.
type partialRepo struct {
	fail string

	mu      sync.Mutex
	written []string
}

func (p *partialRepo) Write(ctx context.Context, key string, r io.Reader) error {
	if key == p.fail {
		return errors.New("disk full")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written = append(p.written, key)
	return nil
}

func TestRetriever_FailedDownloadDoesNotCancelSiblings(t *testing.T) {
	dial := memServer(t, "/outbound", map[string]string{"a.csv": "x", "b.csv": "y", "c.csv": "z"})

	repo := &partialRepo{fail: "a.csv"}
	r := New(Config{Path: "/outbound"}, WithDialer(dial), WithConcurrency(1))
	files, err := r.Retrieve(context.Background(), repo, catalog.New())
	assert.ErrorContains(t, err, "disk full")
	assert.Nil(t, files)
	assert.ElementsMatch(t, []string{"b.csv", "c.csv"}, repo.written)
}

type blockingRepo struct{}

func (blockingRepo) Write(ctx context.Context, _ string, _ io.Reader) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRetriever_Timeout(t *testing.T) {
	dial := memServer(t, "/outbound", map[string]string{"a.csv": "x"})

	r := New(Config{Path: "/outbound"}, WithDialer(dial), WithTimeout(50*time.Millisecond))
	_, err := r.Retrieve(context.Background(), blockingRepo{}, catalog.New())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConfig_Addr(t *testing.T) {
	assert.Equal(t, "sftp.example.com:22", Config{Host: "sftp.example.com"}.Addr())
	assert.Equal(t, "10.0.0.1:2222", Config{Host: "10.0.0.1", Port: 2222}.Addr())
}
