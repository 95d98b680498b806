package backend

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/justjake/querylink/pkg/normalize"
)

// Execute runs one statement on conn and decodes every result row.
//
// A failing statement returns a *QueryError and no rows. Values that cannot
// be decoded under their column type become null instead. A statement that
// produces no rows returns an empty, non-nil slice.
//
// The caller must own conn exclusively for the duration of the call.
func Execute(ctx context.Context, conn Conn, query string) ([]normalize.Row, error) {
	switch c := conn.(type) {
	case *PostgresConn:
		return executePostgres(ctx, c, query)
	case *SQLiteConn:
		return executeSQLite(ctx, c, query)
	}
	return nil, fmt.Errorf("unsupported connection type %T", conn)
}

// executePostgres uses the simple query protocol, so every column arrives in
// PostgreSQL's text format. When the text holds several statements, the rows
// of the first one that returns columns are kept.
func executePostgres(ctx context.Context, c *PostgresConn, query string) ([]normalize.Row, error) {
	typeMap := c.conn.TypeMap()
	mrr := c.conn.PgConn().Exec(ctx, query)

	rows := []normalize.Row{}
	captured := false
	var firstErr error

	for mrr.NextResult() {
		rr := mrr.ResultReader()
		fields := rr.FieldDescriptions()
		capture := !captured && len(fields) > 0
		var typeNames []string
		if capture {
			captured = true
			typeNames = postgresTypeNames(typeMap, fields)
		}

		for rr.NextRow() {
			if capture {
				rows = append(rows, decodePostgresRow(fields, typeNames, rr.Values()))
			}
		}
		if _, err := rr.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := mrr.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	if firstErr != nil {
		return nil, newQueryError(c, firstErr)
	}
	return rows, nil
}

func postgresTypeNames(m *pgtype.Map, fields []pgconn.FieldDescription) []string {
	names := make([]string, len(fields))
	for i, fd := range fields {
		if t, ok := m.TypeForOID(fd.DataTypeOID); ok {
			names[i] = t.Name
		} else {
			names[i] = "unknown"
		}
	}
	return names
}

func decodePostgresRow(fields []pgconn.FieldDescription, typeNames []string, values [][]byte) normalize.Row {
	row := make(normalize.Row, len(fields))
	for i, fd := range fields {
		// values is reused by the reader; Decode copies what it keeps.
		var raw any
		if i < len(values) && values[i] != nil {
			raw = values[i]
		}
		row[i] = normalize.Column{Name: fd.Name, Value: normalize.Decode(typeNames[i], raw)}
	}
	return row
}

func executeSQLite(ctx context.Context, c *SQLiteConn, query string) ([]normalize.Row, error) {
	rs, err := c.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, newQueryError(c, err)
	}
	defer rs.Close()

	cols, err := rs.ColumnTypes()
	if err != nil {
		return nil, newQueryError(c, err)
	}

	rows := []normalize.Row{}
	raw := make([]any, len(cols))
	dest := make([]any, len(cols))
	for rs.Next() {
		for i := range raw {
			raw[i] = nil
			dest[i] = &raw[i]
		}
		if err := rs.Scan(dest...); err != nil {
			return nil, newQueryError(c, err)
		}

		row := make(normalize.Row, len(cols))
		for i, col := range cols {
			row[i] = normalize.Column{
				Name:  col.Name(),
				Value: normalize.DecodeDeclared(col.DatabaseTypeName(), raw[i]),
			}
		}
		rows = append(rows, row)
	}
	if err := rs.Err(); err != nil {
		return nil, newQueryError(c, err)
	}
	return rows, nil
}
