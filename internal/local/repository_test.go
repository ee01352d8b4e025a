package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepository_Write(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, WithPrefix("downloads"))

	err := r.Write(context.Background(), "orders.csv", strings.NewReader("id\n1\n"))
	require.NoError(t, err)

	bs, err := os.ReadFile(filepath.Join(dir, "downloads", "orders.csv"))
	require.NoError(t, err)
	assert.Equal(t, "id\n1\n", string(bs))
}

func TestRepository_PathStaysInRoot(t *testing.T) {
	r := New("/scratch")
	assert.Equal(t, "/scratch/passwd", r.Path("../../etc/passwd"))
	assert.Equal(t, "/scratch/orders.csv", r.Path("orders.csv"))
}

func TestRepository_WriteCancelled(t *testing.T) {
	r := New(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Write(ctx, "a.csv", strings.NewReader("data"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewTemp_RemoveAll(t *testing.T) {
	r, err := NewTemp(t.TempDir(), "csvimport-")
	require.NoError(t, err)
	require.NoError(t, r.Write(context.Background(), "a.csv", strings.NewReader("x")))

	f, err := r.Open("a.csv")
	require.NoError(t, err)
	f.Close()

	require.NoError(t, r.RemoveAll())
	_, err = os.Stat(r.Root())
	assert.True(t, os.IsNotExist(err))
}
