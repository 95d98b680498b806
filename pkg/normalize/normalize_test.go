package normalize

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		typeName string
		raw      any
		want     Value
	}{
		{name: "int4 text", typeName: "int4", raw: []byte("42"), want: Text("42")},
		{name: "int4 null", typeName: "int4", raw: nil, want: Null()},
		{name: "int4 case insensitive", typeName: "INT4", raw: int64(42), want: Text("42")},
		{name: "int4 garbage", typeName: "int4", raw: []byte("forty-two"), want: Null()},
		{name: "int4 overflow", typeName: "int4", raw: int64(1 << 40), want: Null()},
		{name: "int2 out of range", typeName: "int2", raw: []byte("70000"), want: Null()},
		{name: "int8 negative", typeName: "bigint", raw: []byte("-9000000000"), want: Text("-9000000000")},
		{name: "float8", typeName: "float8", raw: []byte("1.5"), want: Text("1.5")},
		{name: "float4 shortest", typeName: "float4", raw: []byte("0.1"), want: Text("0.1")},
		{name: "float infinity", typeName: "float8", raw: []byte("-Infinity"), want: Text("-Infinity")},
		{name: "float nan", typeName: "double precision", raw: []byte("NaN"), want: Text("NaN")},
		{name: "float8 million kept verbatim", typeName: "float8", raw: []byte("1000000"), want: Text("1000000")},
		{name: "float8 large kept verbatim", typeName: "float8", raw: []byte("123456789"), want: Text("123456789")},
		{name: "float8 exponent kept verbatim", typeName: "float8", raw: []byte("1e+20"), want: Text("1e+20")},
		{name: "float8 native large", typeName: "float8", raw: float64(123456789), want: Text("123456789")},
		{name: "float8 native huge", typeName: "float8", raw: 1e20, want: Text("1e+20")},
		{name: "float4 native", typeName: "real", raw: float32(0.1), want: Text("0.1")},
		{name: "date text kept verbatim", typeName: "date", raw: []byte("2024-01-02"), want: Text("2024-01-02")},
		{name: "float garbage", typeName: "float8", raw: []byte("1.2.3"), want: Null()},
		{name: "bool t", typeName: "bool", raw: []byte("t"), want: Text("true")},
		{name: "bool f", typeName: "boolean", raw: []byte("f"), want: Text("false")},
		{name: "bool native", typeName: "bool", raw: true, want: Text("true")},
		{name: "bool garbage", typeName: "bool", raw: []byte("maybe"), want: Null()},
		{name: "numeric kept verbatim", typeName: "numeric", raw: []byte("12345.678900"), want: Text("12345.678900")},
		{name: "numeric with modifiers", typeName: "numeric(10,2)", raw: []byte("1.10"), want: Text("1.10")},
		{name: "timestamptz kept verbatim", typeName: "timestamptz", raw: []byte("2024-01-02 03:04:05.123+09"), want: Text("2024-01-02 03:04:05.123+09")},
		{name: "timestamp precision with zone", typeName: "timestamp(3) with time zone", raw: []byte("2024-01-02 03:04:05+00"), want: Text("2024-01-02 03:04:05+00")},
		{name: "interval", typeName: "interval", raw: []byte("1 day 02:00:00"), want: Text("1 day 02:00:00")},
		{name: "jsonb opaque", typeName: "jsonb", raw: []byte(`{"a": 1}`), want: Text(`{"a": 1}`)},
		{name: "inet opaque", typeName: "inet", raw: []byte("10.0.0.1/32"), want: Text("10.0.0.1/32")},
		{name: "array opaque", typeName: "_int4", raw: []byte("{1,2,3}"), want: Text("{1,2,3}")},
		{name: "binary as hex", typeName: "bytea", raw: []byte{0xff, 0x00}, want: Text(`\xff00`)},
		{name: "unknown type", typeName: "my_custom_type", raw: []byte("x"), want: Text("x")},
		{name: "empty string is not null", typeName: "text", raw: []byte(""), want: Text("")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decode(tt.typeName, tt.raw)
			assert.Equal(t, tt.want, got)

			// Decoding is a pure function of its inputs.
			assert.Equal(t, got, Decode(tt.typeName, tt.raw))
		})
	}
}

func TestDecode_TimeValue(t *testing.T) {
	ts := time.Date(2024, 5, 6, 7, 8, 9, 500, time.FixedZone("x", 3600))
	got := Decode("timestamp", ts)
	require.True(t, got.Valid)
	assert.Equal(t, "2024-05-06 07:08:09.0000005+01:00", got.String)

	utc := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	assert.Equal(t, Text("2024-05-06 07:08:09"), Decode("datetime", utc))
	assert.Equal(t, Text("2024-05-06 07:08:09"), DecodeDeclared("", utc))

	day := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, Text("2024-05-06"), Decode("date", day))
	assert.Equal(t, Text("2024-05-06"), DecodeDeclared("DATE", day))
	assert.Equal(t, Text("2024-05-06 00:00:00"), DecodeDeclared("DATETIME", day))

	// A DATE column holding a clock keeps it.
	assert.Equal(t, Text("2024-05-06 07:08:09"), DecodeDeclared("DATE", utc))
}

func TestDeclaredType(t *testing.T) {
	tests := map[string]string{
		"INTEGER":       "int8",
		"bigint":        "int8",
		"VARCHAR(20)":   "text",
		"TEXT":          "text",
		"":              "",
		"REAL":          "float8",
		"DOUBLE":        "float8",
		"DATETIME":      "timestamp",
		"DATE":          "date",
		"BOOLEAN":       "bool",
		"DECIMAL(10,2)": "numeric",
		"BLOB":          "bytea",
	}
	for decl, want := range tests {
		assert.Equal(t, want, DeclaredType(decl), "decl %q", decl)
	}
}

func TestDecodeDeclared(t *testing.T) {
	assert.Equal(t, Text("7"), DecodeDeclared("INTEGER", int64(7)))
	assert.Equal(t, Text("hello"), DecodeDeclared("INTEGER", "hello"))
	assert.Equal(t, Text("7"), DecodeDeclared("", int64(7)))
	assert.Equal(t, Text("1.5"), DecodeDeclared("REAL", 1.5))
	assert.Equal(t, Text("1000000"), DecodeDeclared("REAL", 1e6))
	assert.Equal(t, Text("true"), DecodeDeclared("BOOLEAN", int64(1)))
	assert.Equal(t, Text("abc"), DecodeDeclared("", []byte("abc")))
	assert.Equal(t, Null(), DecodeDeclared("TEXT", nil))
}

func TestRow(t *testing.T) {
	row := Row{
		{Name: "id", Value: Text("1")},
		{Name: "name", Value: Null()},
		{Name: "id", Value: Text("2")},
	}

	assert.Equal(t, []string{"id", "name", "id"}, row.Names())

	v, ok := row.Get("id")
	require.True(t, ok)
	assert.Equal(t, "1", v.String)
	assert.Equal(t, "", row.String("name"))
	assert.Equal(t, "2", row.Map()["id"].String)

	_, ok = row.Get("missing")
	assert.False(t, ok)

	data, err := json.Marshal(row)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"name":"id","value":"1"},{"name":"name","value":null},{"name":"id","value":"2"}]`, string(data))
}

func TestDisplay(t *testing.T) {
	assert.Equal(t, "NULL", Display(Null()))
	assert.Equal(t, "0", Display(Text("0")))
	assert.Equal(t, "", Display(Text("")))
}
