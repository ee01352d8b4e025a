package table

import (
	"errors"
	"strings"
)

// DefaultLoadTimestampColumn is populated by the loader when the source has no
// counterpart for it.
const DefaultLoadTimestampColumn = "loaded_at"

var ErrNoColumnsMatched = errors.New("no columns matched between CSV and database table")

// NoSource marks a binding without a CSV counterpart.
const NoSource = -1

// Binding pairs a declared column with the index of its source header, or
// NoSource.
type Binding struct {
	Column Column
	Source int
}

func (b Binding) HasSource() bool {
	return b.Source != NoSource
}

type Mapping []Binding

// Columns returns the database column names in insert order.
func (m Mapping) Columns() []string {
	cols := make([]string, len(m))
	for i, b := range m {
		cols[i] = b.Column.Name
	}
	return cols
}

// MatchResult is the outcome of aligning a schema with a CSV header.
type MatchResult struct {
	Mapping Mapping
	// Missing lists declared columns with no source header, excluding the
	// load timestamp column.
	Missing []string
}

// Match aligns declared columns to source headers case-insensitively. The first
// matching header wins. loadTimestamp names the reserved column that is bound
// without a source instead of being reported missing; an empty value disables
// the special case.
func Match(schema Schema, headers []string, loadTimestamp string) (MatchResult, error) {
	var res MatchResult
	for _, col := range schema {
		idx := NoSource
		for i, h := range headers {
			if strings.EqualFold(h, col.Name) {
				idx = i
				break
			}
		}

		switch {
		case idx != NoSource:
			res.Mapping = append(res.Mapping, Binding{Column: col, Source: idx})
		case loadTimestamp != "" && col.Name == loadTimestamp:
			res.Mapping = append(res.Mapping, Binding{Column: col, Source: NoSource})
		default:
			res.Missing = append(res.Missing, col.Name)
		}
	}

	if len(res.Mapping) == 0 {
		return res, ErrNoColumnsMatched
	}
	return res, nil
}
