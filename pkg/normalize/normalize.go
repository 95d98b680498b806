// Package normalize converts backend-native column values into a
// backend-agnostic textual form.
//
// Every backend type name maps to one decode rule in a static table. Rules
// never fail: a value that cannot be decoded under its declared type becomes
// the null marker instead of aborting the row.
package normalize

import (
	"encoding/hex"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgtype"
)

// Value is a decoded column value. Valid is false for the null marker.
type Value = pgtype.Text

// NullMarker is how the null marker is rendered for display.
const NullMarker = "NULL"

// Null returns the null marker.
func Null() Value {
	return Value{}
}

// Text returns a non-null Value holding s.
func Text(s string) Value {
	return Value{String: s, Valid: true}
}

// Display renders v for humans, using NullMarker for null.
func Display(v Value) string {
	if !v.Valid {
		return NullMarker
	}
	return v.String
}

// rule decodes one raw value. It returns false when the value should degrade
// to the null marker.
type rule func(raw any) (string, bool)

// decodeTable is keyed by lower-cased backend type name. It is never mutated
// after package initialization.
var decodeTable = map[string]rule{
	"int2":     decodeInt(16),
	"smallint": decodeInt(16),

	"int4":    decodeInt(32),
	"int":     decodeInt(32),
	"integer": decodeInt(32),
	"serial":  decodeInt(32),

	"int8":      decodeInt(64),
	"bigint":    decodeInt(64),
	"bigserial": decodeInt(64),

	"float4": decodeFloat(32),
	"real":   decodeFloat(32),

	"float8":           decodeFloat(64),
	"float":            decodeFloat(64),
	"double":           decodeFloat(64),
	"double precision": decodeFloat(64),

	"bool":    decodeBool,
	"boolean": decodeBool,

	"numeric": decodeNative,
	"decimal": decodeNative,

	"date":                        decodeTemporal(true),
	"time":                        decodeNative,
	"timetz":                      decodeNative,
	"time without time zone":      decodeNative,
	"time with time zone":         decodeNative,
	"timestamp":                   decodeTemporal(false),
	"timestamptz":                 decodeTemporal(false),
	"timestamp without time zone": decodeTemporal(false),
	"timestamp with time zone":    decodeTemporal(false),
	"datetime":                    decodeTemporal(false),
	"interval":                    decodeNative,
}

// Decode converts raw, reported by a backend as a column of type typeName,
// into a Value. Matching on typeName is case-insensitive and ignores type
// modifiers such as "(10,2)". Unknown types decode as opaque text.
//
// raw may be nil, []byte (PostgreSQL text format), string, or any of the
// scalar types produced by database/sql drivers.
func Decode(typeName string, raw any) Value {
	if raw == nil {
		return Null()
	}
	s, ok := lookup(typeName)(raw)
	if !ok {
		return Null()
	}
	return Text(s)
}

func lookup(typeName string) rule {
	name := strings.ToLower(strings.TrimSpace(typeName))
	if r, ok := decodeTable[name]; ok {
		return r
	}
	if i := strings.IndexByte(name, '('); i >= 0 {
		base := strings.TrimSpace(name[:i])
		if j := strings.IndexByte(name, ')'); j > i {
			// "timestamp(3) with time zone" keeps its suffix.
			base = strings.TrimSpace(base + name[j+1:])
		}
		if r, ok := decodeTable[base]; ok {
			return r
		}
	}
	return decodeOpaque
}

func decodeInt(bits int) rule {
	return func(raw any) (string, bool) {
		var n int64
		switch v := raw.(type) {
		case int64:
			n = v
		case int32:
			n = int64(v)
		case int16:
			n = int64(v)
		case int:
			n = int64(v)
		case float64:
			if v != math.Trunc(v) || math.IsInf(v, 0) || v > math.MaxInt64 || v < math.MinInt64 {
				return "", false
			}
			n = int64(v)
		case []byte:
			return parseInt(string(v), bits)
		case string:
			return parseInt(v, bits)
		default:
			return "", false
		}
		if !fitsBits(n, bits) {
			return "", false
		}
		return strconv.FormatInt(n, 10), true
	}
}

func parseInt(s string, bits int) (string, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, bits)
	if err != nil {
		return "", false
	}
	return strconv.FormatInt(n, 10), true
}

func fitsBits(n int64, bits int) bool {
	switch bits {
	case 16:
		return n >= math.MinInt16 && n <= math.MaxInt16
	case 32:
		return n >= math.MinInt32 && n <= math.MaxInt32
	}
	return true
}

func decodeFloat(bits int) rule {
	return func(raw any) (string, bool) {
		switch v := raw.(type) {
		case float64:
			return formatFloat(v, bits), true
		case float32:
			return formatFloat(float64(v), 32), true
		case int64:
			return formatFloat(float64(v), bits), true
		case []byte:
			return parseFloat(string(v), bits)
		case string:
			return parseFloat(v, bits)
		}
		return "", false
	}
}

// parseFloat checks that s is a float and returns it as the backend wrote it.
func parseFloat(s string, bits int) (string, bool) {
	s = strings.TrimSpace(s)
	if _, err := strconv.ParseFloat(s, bits); err != nil {
		return "", false
	}
	return s, true
}

// formatFloat renders a native float in plain positional notation, falling
// back to exponent form only for very large or very small magnitudes.
// Special values are spelled the way PostgreSQL prints them.
func formatFloat(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	if a := math.Abs(f); a == 0 || (a >= 1e-4 && a < 1e15) {
		return strconv.FormatFloat(f, 'f', -1, bits)
	}
	return strconv.FormatFloat(f, 'g', -1, bits)
}

func decodeBool(raw any) (string, bool) {
	switch v := raw.(type) {
	case bool:
		return strconv.FormatBool(v), true
	case int64:
		if v == 0 || v == 1 {
			return strconv.FormatBool(v == 1), true
		}
		return "", false
	case []byte:
		return parseBool(string(v))
	case string:
		return parseBool(v)
	}
	return "", false
}

func parseBool(s string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "t", "true", "1", "yes", "y", "on":
		return "true", true
	case "f", "false", "0", "no", "n", "off":
		return "false", true
	}
	return "", false
}

// decodeNative keeps the backend's own text form. Used for arbitrary
// precision and temporal types, which must not be reinterpreted.
func decodeNative(raw any) (string, bool) {
	switch v := raw.(type) {
	case []byte:
		if !utf8.Valid(v) {
			return "", false
		}
		return string(v), true
	case string:
		return v, true
	}
	return dynamic(raw)
}

const (
	sqliteDate     = "2006-01-02"
	sqliteDateTime = "2006-01-02 15:04:05.999999999"
)

// decodeTemporal keeps text as-is. The SQLite driver hands back time values
// for DATE, DATETIME and TIMESTAMP columns; those are printed in SQLite's own
// layout, dropping the clock for whole dates and the offset for UTC.
func decodeTemporal(date bool) rule {
	return func(raw any) (string, bool) {
		if t, ok := raw.(time.Time); ok {
			return formatTime(t, date), true
		}
		return decodeNative(raw)
	}
}

func formatTime(t time.Time, date bool) string {
	if date && t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format(sqliteDate)
	}
	if t.Location() == time.UTC {
		return t.Format(sqliteDateTime)
	}
	return t.Format(sqliteDateTime + "-07:00")
}

func decodeOpaque(raw any) (string, bool) {
	if b, ok := raw.([]byte); ok {
		if utf8.Valid(b) {
			return string(b), true
		}
		return `\x` + hex.EncodeToString(b), true
	}
	return dynamic(raw)
}

// dynamic renders a value by its Go type. SQLite expressions carry no
// declared type, so their values land here.
func dynamic(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		return v, true
	case []byte:
		return decodeOpaque(v)
	case int64:
		return strconv.FormatInt(v, 10), true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case int:
		return strconv.Itoa(v), true
	case float64:
		return formatFloat(v, 64), true
	case float32:
		return formatFloat(float64(v), 32), true
	case bool:
		return strconv.FormatBool(v), true
	case time.Time:
		return formatTime(v, false), true
	}
	return "", false
}
