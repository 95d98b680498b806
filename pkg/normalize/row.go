package normalize

import "encoding/json"

// Column is one named value in a Row.
type Column struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
}

// Row is an ordered result row. Column order follows the statement's result
// columns, and duplicate names are kept positionally.
type Row []Column

// Names returns the column names in order.
func (r Row) Names() []string {
	names := make([]string, len(r))
	for i, c := range r {
		names[i] = c.Name
	}
	return names
}

// Get returns the first column named name.
func (r Row) Get(name string) (Value, bool) {
	for _, c := range r {
		if c.Name == name {
			return c.Value, true
		}
	}
	return Null(), false
}

// String returns the first column named name as text, or "" when it is
// missing or null.
func (r Row) String(name string) string {
	v, _ := r.Get(name)
	return v.String
}

// Map collapses the row into a map. When names repeat, the last column wins.
func (r Row) Map() map[string]Value {
	m := make(map[string]Value, len(r))
	for _, c := range r {
		m[c.Name] = c.Value
	}
	return m
}

// MarshalJSON encodes the row as an ordered array of name/value pairs so
// that column order and duplicates survive the trip.
func (r Row) MarshalJSON() ([]byte, error) {
	return json.Marshal([]Column(r))
}
