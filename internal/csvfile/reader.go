// Package csvfile reads header-first CSV files whose encoding is not known in
// advance. UTF-8 is tried first, then Latin-1, then UTF-8 with a byte order
// mark.
package csvfile

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

type Encoding string

const (
	UTF8    Encoding = "utf-8"
	Latin1  Encoding = "latin-1"
	UTF8BOM Encoding = "utf-8-sig"
)

const bom = "\uFEFF"

var ErrNoHeader = errors.New("csv file has no header row")

// DetectEncoding inspects r and reports the first encoding in the fallback
// order that decodes it. Valid UTF-8 starting with a byte order mark is
// reported as UTF8BOM so the mark is dropped while decoding.
func DetectEncoding(r io.Reader) (Encoding, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	prefix, err := br.Peek(len(bom))
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return "", err
	}
	withBOM := bytes.Equal(prefix, []byte(bom))

	buf := make([]byte, 64*1024)
	var carry []byte
	for {
		n, err := br.Read(buf)
		chunk := append(carry, buf[:n]...)
		carry = nil

		if err == nil {
			// hold back a rune split across reads
			for i := 1; i <= utf8.UTFMax && i <= len(chunk); i++ {
				if utf8.RuneStart(chunk[len(chunk)-i]) {
					if !utf8.FullRune(chunk[len(chunk)-i:]) {
						carry = append([]byte(nil), chunk[len(chunk)-i:]...)
						chunk = chunk[:len(chunk)-i]
					}
					break
				}
			}
		}

		if !utf8.Valid(chunk) {
			return Latin1, nil
		}
		if errors.Is(err, io.EOF) {
			if withBOM {
				return UTF8BOM, nil
			}
			return UTF8, nil
		}
		if err != nil {
			return "", err
		}
	}
}

func decoder(enc Encoding) *encoding.Decoder {
	switch enc {
	case Latin1:
		return charmap.ISO8859_1.NewDecoder()
	case UTF8BOM:
		return unicode.UTF8BOM.NewDecoder()
	}
	return unicode.UTF8.NewDecoder()
}

// Reader streams rows of a CSV file after its header.
type Reader struct {
	file     *os.File
	csv      *csv.Reader
	header   []string
	encoding Encoding
	size     int64
}

// Open detects the file encoding and reads the header row.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	enc, err := DetectEncoding(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("detect encoding: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}

	cr := csv.NewReader(decoder(enc).Reader(f))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		f.Close()
		return nil, ErrNoHeader
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read header: %w", err)
	}

	return &Reader{
		file:     f,
		csv:      cr,
		header:   CleanHeader(header),
		encoding: enc,
		size:     info.Size(),
	}, nil
}

// CleanHeader trims header names and strips byte order marks.
func CleanHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		out[i] = strings.TrimSpace(strings.ReplaceAll(h, bom, ""))
	}
	return out
}

func (r *Reader) Header() []string {
	return r.header
}

func (r *Reader) Encoding() Encoding {
	return r.encoding
}

// Size is the file size on disk in bytes.
func (r *Reader) Size() int64 {
	return r.size
}

// Next reads up to n rows. n <= 0 reads the remaining rows. It returns io.EOF
// once no rows are left.
func (r *Reader) Next(n int) ([][]string, error) {
	var rows [][]string
	for n <= 0 || len(rows) < n {
		rec, err := r.csv.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rows, fmt.Errorf("read row: %w", err)
		}
		rows = append(rows, rec)
	}

	if len(rows) == 0 {
		return nil, io.EOF
	}
	return rows, nil
}

func (r *Reader) Close() error {
	return r.file.Close()
}
