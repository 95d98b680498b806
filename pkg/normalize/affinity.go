package normalize

import "strings"

// DeclaredType maps a SQLite declared column type to the type name used for
// decoding, following SQLite's column affinity rules. Temporal declarations
// are checked first because the driver materializes them as time values.
//
// An empty declaration (an expression column) returns "", which decodes the
// value dynamically by its runtime type.
func DeclaredType(decl string) string {
	d := strings.ToUpper(strings.TrimSpace(decl))
	switch {
	case d == "":
		return ""
	case strings.Contains(d, "BOOL"):
		return "bool"
	case d == "DATE":
		return "date"
	case strings.Contains(d, "DATE"), strings.Contains(d, "TIME"):
		return "timestamp"
	case strings.Contains(d, "INT"):
		return "int8"
	case strings.Contains(d, "CHAR"), strings.Contains(d, "CLOB"), strings.Contains(d, "TEXT"):
		return "text"
	case strings.Contains(d, "BLOB"):
		return "bytea"
	case strings.Contains(d, "REAL"), strings.Contains(d, "FLOA"), strings.Contains(d, "DOUB"):
		return "float8"
	}
	return "numeric"
}

// DecodeDeclared decodes a SQLite value under its declared column type.
// SQLite lets any column hold any storage class, so a value whose storage
// class does not fit the column's affinity is rendered by its own type
// rather than nulled.
func DecodeDeclared(decl string, raw any) Value {
	if raw == nil {
		return Null()
	}
	if t := DeclaredType(decl); t != "" {
		if v := Decode(t, raw); v.Valid {
			return v
		}
	}
	s, ok := dynamic(raw)
	if !ok {
		return Null()
	}
	return Text(s)
}
