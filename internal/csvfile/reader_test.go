package csvfile

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectEncoding(t *testing.T) {
	testCases := []struct {
		name     string
		input    []byte
		expected Encoding
	}{
		{"ascii", []byte("a,b\n1,2\n"), UTF8},
		{"utf8 multibyte", []byte("name\nCafé\n"), UTF8},
		{"latin1 byte", []byte("name\nCaf\xe9\n"), Latin1},
		{"bom", []byte("\xef\xbb\xbfname\nx\n"), UTF8BOM},
		{"empty", nil, UTF8},
		{"truncated rune", []byte("name\n\xc3"), Latin1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			enc, err := DetectEncoding(bytes.NewReader(tc.input))
			require.NoError(t, err)
			assert.Equal(t, tc.expected, enc)
		})
	}
}

func TestDetectEncoding_RuneAcrossReads(t *testing.T) {
	// é straddles the 64KiB read boundary
	input := append(bytes.Repeat([]byte("a"), 64*1024-1), []byte("é\n")...)
	enc, err := DetectEncoding(bytes.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, UTF8, enc)
}

func TestCleanHeader(t *testing.T) {
	assert.Equal(t,
		[]string{"id", "name", "price"},
		CleanHeader([]string{"\uFEFFid", " name ", "price\t"}),
	)
}

func TestOpen_UTF8(t *testing.T) {
	r, err := Open(filepath.Join("testdata", "utf8.csv"))
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, UTF8, r.Encoding())
	assert.Equal(t, []string{"id", "name", "price"}, r.Header())
	assert.Greater(t, r.Size(), int64(0))

	rows, err := r.Next(2)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"1", "Widget", "9.99"}, {"2", "Gadget", ""}}, rows)

	rows, err = r.Next(2)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"3", "Thing", "1.50"}}, rows)

	_, err = r.Next(2)
	assert.ErrorIs(t, err, io.EOF)
}

func TestOpen_ReadAll(t *testing.T) {
	r, err := Open(filepath.Join("testdata", "utf8.csv"))
	require.NoError(t, err)
	defer r.Close()

	rows, err := r.Next(0)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestOpen_Latin1(t *testing.T) {
	r, err := Open(filepath.Join("testdata", "latin1.csv"))
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, Latin1, r.Encoding())
	rows, err := r.Next(0)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"1", "Café"}, {"2", "Niño"}}, rows)
}

func TestOpen_BOM(t *testing.T) {
	r, err := Open(filepath.Join("testdata", "bom.csv"))
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, UTF8BOM, r.Encoding())
	assert.Equal(t, []string{"id", "name"}, r.Header())
	rows, err := r.Next(0)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"1", "Café"}}, rows)
}

func TestOpen_Empty(t *testing.T) {
	_, err := Open(filepath.Join("testdata", "empty.csv"))
	assert.ErrorIs(t, err, ErrNoHeader)
}

func TestOpen_Missing(t *testing.T) {
	_, err := Open(filepath.Join("testdata", "nope.csv"))
	assert.Error(t, err)
}
