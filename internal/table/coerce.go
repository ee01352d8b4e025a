package table

import (
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	DateLayout      = "2006-01-02"
	TimestampLayout = "2006-01-02 15:04:05"
)

// Value is the result of coercing a cell: either a value ready for insertion
// or null. There is no error state; bad input degrades to null.
type Value struct {
	v     any
	valid bool
}

var Null = Value{}

func Of(v any) Value {
	return Value{v: v, valid: true}
}

func (v Value) IsNull() bool {
	return !v.valid
}

// Any returns the value for a query argument; null becomes nil.
func (v Value) Any() any {
	if !v.valid {
		return nil
	}
	return v.v
}

// naMarkers are the strings pandas treats as missing by default.
var naMarkers = map[string]struct{}{
	"": {}, "#N/A": {}, "#N/A N/A": {}, "#NA": {}, "-1.#IND": {}, "-1.#QNAN": {},
	"-NaN": {}, "-nan": {}, "1.#IND": {}, "1.#QNAN": {}, "<NA>": {}, "N/A": {},
	"NA": {}, "NULL": {}, "NaN": {}, "None": {}, "n/a": {}, "nan": {}, "null": {},
}

// IsMissing reports whether a raw cell carries no value.
func IsMissing(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return true
	case string:
		_, ok := naMarkers[strings.TrimSpace(v)]
		return ok
	}
	return false
}

// Coercer converts raw CSV cells to values for their declared column type.
type Coercer struct {
	// LoadTimestamp is the reserved column filled with Now when it has no
	// source.
	LoadTimestamp string
	// Now is captured once per file.
	Now time.Time
}

// Coerce never fails: any conversion problem yields Null.
func (c Coercer) Coerce(b Binding, raw any) Value {
	if !b.HasSource() {
		if c.LoadTimestamp != "" && b.Column.Name == c.LoadTimestamp {
			return Of(c.Now)
		}
		return Null
	}

	if IsMissing(raw) {
		return Null
	}

	dataType := strings.ToLower(b.Column.DataType)
	switch {
	case isInteger(dataType):
		return parseInteger(raw)
	case isFloat(dataType):
		return parseFloat(raw)
	case dataType == "date":
		return parseTime(raw, DateLayout)
	case strings.Contains(dataType, "timestamp"):
		return parseTime(raw, TimestampLayout)
	}
	return Of(raw)
}

func isInteger(dataType string) bool {
	switch dataType {
	case "integer", "bigint", "smallint":
		return true
	}
	return false
}

func isFloat(dataType string) bool {
	switch dataType {
	case "numeric", "decimal", "real", "double precision":
		return true
	}
	return false
}

func parseInteger(raw any) Value {
	switch v := raw.(type) {
	case int64:
		return Of(v)
	case int:
		return Of(int64(v))
	case string:
		s := strings.TrimSpace(v)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Of(i)
		}
		// integer columns with gaps arrive as floats, e.g. "3.0"
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
			return Null
		}
		// float64(math.MaxInt64) rounds up to 2^63, so the upper bound is exclusive
		if f >= 0x1p63 || f < -0x1p63 {
			return Null
		}
		return Of(int64(f))
	}
	return Null
}

func parseFloat(raw any) Value {
	switch v := raw.(type) {
	case float64:
		return Of(v)
	case int64:
		return Of(float64(v))
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return Null
		}
		return Of(f)
	}
	return Null
}

func parseTime(raw any, layout string) Value {
	switch v := raw.(type) {
	case time.Time:
		return Of(v)
	case string:
		t, err := time.Parse(layout, v)
		if err != nil {
			return Null
		}
		return Of(t)
	}
	return Null
}
