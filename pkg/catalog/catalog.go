// Package catalog lists PostgreSQL schema objects by running ordinary SQL
// against the system catalogs through a query Runner.
//
// Statements are built with goqu and rendered with interpolated, escaped
// literals rather than bind parameters, because Runner takes plain SQL text.
package catalog

import (
	"context"
	"fmt"
	"strconv"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // registers the "postgres" dialect
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/justjake/querylink/pkg/normalize"
)

// Runner executes SQL text. *query.Executor implements it.
type Runner interface {
	Execute(ctx context.Context, serverID int64, database, query string) ([]normalize.Row, error)
}

var dialect = goqu.Dialect("postgres")

// Catalog reads the system catalogs of one database on one server. An empty
// database means the server's default.
type Catalog struct {
	runner   Runner
	serverID int64
	database string
}

func New(runner Runner, serverID int64, database string) *Catalog {
	return &Catalog{runner: runner, serverID: serverID, database: database}
}

func infoSchema(table string) exp.IdentifierExpression {
	return goqu.S("information_schema").Table(table)
}

func pgCatalog(table string) exp.IdentifierExpression {
	return goqu.S("pg_catalog").Table(table)
}

func (c *Catalog) run(ctx context.Context, ds *goqu.SelectDataset) ([]normalize.Row, error) {
	sql, _, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build catalog query: %w", err)
	}
	return c.runner.Execute(ctx, c.serverID, c.database, sql)
}

type Database struct {
	Name string `json:"name"`
}

// Databases lists non-template databases on the server.
func (c *Catalog) Databases(ctx context.Context) ([]Database, error) {
	rows, err := c.run(ctx, dialect.From(pgCatalog("pg_database")).
		Select("datname").
		Where(goqu.C("datistemplate").IsFalse()).
		Order(goqu.C("datname").Asc()))
	if err != nil {
		return nil, err
	}
	return mapRows(rows, func(r normalize.Row) Database {
		return Database{Name: r.String("datname")}
	}), nil
}

type Schema struct {
	Name string `json:"name"`
}

// Schemas lists user schemas, leaving out pg_catalog and information_schema.
func (c *Catalog) Schemas(ctx context.Context) ([]Schema, error) {
	rows, err := c.run(ctx, dialect.From(infoSchema("schemata")).
		Select("schema_name").
		Where(goqu.C("schema_name").NotIn("pg_catalog", "information_schema")).
		Order(goqu.C("schema_name").Asc()))
	if err != nil {
		return nil, err
	}
	return mapRows(rows, func(r normalize.Row) Schema {
		return Schema{Name: r.String("schema_name")}
	}), nil
}

type Table struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
	// Type is "BASE TABLE", "VIEW", "FOREIGN", or "LOCAL TEMPORARY".
	Type string `json:"type"`
}

func (c *Catalog) Tables(ctx context.Context, schema string) ([]Table, error) {
	rows, err := c.run(ctx, dialect.From(infoSchema("tables")).
		Select("table_name", "table_schema", "table_type").
		Where(goqu.C("table_schema").Eq(schema)).
		Order(goqu.C("table_name").Asc()))
	if err != nil {
		return nil, err
	}
	return mapRows(rows, func(r normalize.Row) Table {
		return Table{Schema: r.String("table_schema"), Name: r.String("table_name"), Type: r.String("table_type")}
	}), nil
}

type Column struct {
	Name     string `json:"name"`
	Position int    `json:"position"`
	DataType string `json:"data_type"`
	Nullable bool   `json:"nullable"`
	// Default is the default expression, or nil if the column has none.
	Default *string `json:"default"`
}

func (c *Catalog) Columns(ctx context.Context, schema, table string) ([]Column, error) {
	rows, err := c.run(ctx, dialect.From(infoSchema("columns")).
		Select("column_name", "ordinal_position", "data_type", "is_nullable", "column_default").
		Where(goqu.Ex{"table_schema": schema, "table_name": table}).
		Order(goqu.C("ordinal_position").Asc()))
	if err != nil {
		return nil, err
	}
	return mapRows(rows, func(r normalize.Row) Column {
		return Column{
			Name:     r.String("column_name"),
			Position: atoi(r.String("ordinal_position")),
			DataType: r.String("data_type"),
			Nullable: r.String("is_nullable") == "YES",
			Default:  optional(r, "column_default"),
		}
	}), nil
}

type Trigger struct {
	Name      string `json:"name"`
	Event     string `json:"event"`
	Timing    string `json:"timing"`
	Statement string `json:"statement"`
}

// Triggers lists triggers on a table. A trigger firing on several events
// appears once per event.
func (c *Catalog) Triggers(ctx context.Context, schema, table string) ([]Trigger, error) {
	rows, err := c.run(ctx, dialect.From(infoSchema("triggers")).
		Select("trigger_name", "event_manipulation", "action_timing", "action_statement").
		Where(goqu.Ex{"event_object_schema": schema, "event_object_table": table}).
		Order(goqu.C("trigger_name").Asc(), goqu.C("event_manipulation").Asc()))
	if err != nil {
		return nil, err
	}
	return mapRows(rows, func(r normalize.Row) Trigger {
		return Trigger{
			Name:      r.String("trigger_name"),
			Event:     r.String("event_manipulation"),
			Timing:    r.String("action_timing"),
			Statement: r.String("action_statement"),
		}
	}), nil
}

type Index struct {
	Name       string `json:"name"`
	Definition string `json:"definition"`
}

func (c *Catalog) Indexes(ctx context.Context, schema, table string) ([]Index, error) {
	rows, err := c.run(ctx, dialect.From(pgCatalog("pg_indexes")).
		Select("indexname", "indexdef").
		Where(goqu.Ex{"schemaname": schema, "tablename": table}).
		Order(goqu.C("indexname").Asc()))
	if err != nil {
		return nil, err
	}
	return mapRows(rows, func(r normalize.Row) Index {
		return Index{Name: r.String("indexname"), Definition: r.String("indexdef")}
	}), nil
}

type PrimaryKey struct {
	Constraint string `json:"constraint"`
	Column     string `json:"column"`
	Position   int    `json:"position"`
}

func (c *Catalog) PrimaryKeys(ctx context.Context, schema, table string) ([]PrimaryKey, error) {
	rows, err := c.run(ctx, constraintColumns(schema, table, "PRIMARY KEY").
		Select(
			goqu.I("tc.constraint_name"),
			goqu.I("kcu.column_name"),
			goqu.I("kcu.ordinal_position"),
		).
		Order(goqu.I("kcu.ordinal_position").Asc()))
	if err != nil {
		return nil, err
	}
	return mapRows(rows, func(r normalize.Row) PrimaryKey {
		return PrimaryKey{
			Constraint: r.String("constraint_name"),
			Column:     r.String("column_name"),
			Position:   atoi(r.String("ordinal_position")),
		}
	}), nil
}

type ForeignKey struct {
	Constraint    string `json:"constraint"`
	Column        string `json:"column"`
	ForeignSchema string `json:"foreign_schema"`
	ForeignTable  string `json:"foreign_table"`
	ForeignColumn string `json:"foreign_column"`
}

func (c *Catalog) ForeignKeys(ctx context.Context, schema, table string) ([]ForeignKey, error) {
	rows, err := c.run(ctx, constraintColumns(schema, table, "FOREIGN KEY").
		Join(infoSchema("constraint_column_usage").As("ccu"), goqu.On(goqu.Ex{
			"ccu.constraint_name":   goqu.I("tc.constraint_name"),
			"ccu.constraint_schema": goqu.I("tc.constraint_schema"),
		})).
		Select(
			goqu.I("tc.constraint_name"),
			goqu.I("kcu.column_name"),
			goqu.I("ccu.table_schema").As("foreign_schema"),
			goqu.I("ccu.table_name").As("foreign_table"),
			goqu.I("ccu.column_name").As("foreign_column"),
		).
		Order(goqu.I("tc.constraint_name").Asc(), goqu.I("kcu.ordinal_position").Asc()))
	if err != nil {
		return nil, err
	}
	return mapRows(rows, func(r normalize.Row) ForeignKey {
		return ForeignKey{
			Constraint:    r.String("constraint_name"),
			Column:        r.String("column_name"),
			ForeignSchema: r.String("foreign_schema"),
			ForeignTable:  r.String("foreign_table"),
			ForeignColumn: r.String("foreign_column"),
		}
	}), nil
}

// constraintColumns joins a table's constraints of one type to their columns.
func constraintColumns(schema, table, constraintType string) *goqu.SelectDataset {
	return dialect.From(infoSchema("table_constraints").As("tc")).
		Join(infoSchema("key_column_usage").As("kcu"), goqu.On(goqu.Ex{
			"kcu.constraint_name":   goqu.I("tc.constraint_name"),
			"kcu.constraint_schema": goqu.I("tc.constraint_schema"),
		})).
		Where(goqu.Ex{
			"tc.constraint_type": constraintType,
			"tc.table_schema":    schema,
			"tc.table_name":      table,
		})
}

type View struct {
	Name       string `json:"name"`
	Definition string `json:"definition"`
}

func (c *Catalog) Views(ctx context.Context, schema string) ([]View, error) {
	rows, err := c.run(ctx, dialect.From(infoSchema("views")).
		Select("table_name", "view_definition").
		Where(goqu.C("table_schema").Eq(schema)).
		Order(goqu.C("table_name").Asc()))
	if err != nil {
		return nil, err
	}
	return mapRows(rows, func(r normalize.Row) View {
		return View{Name: r.String("table_name"), Definition: r.String("view_definition")}
	}), nil
}

type Sequence struct {
	Name      string `json:"name"`
	DataType  string `json:"data_type"`
	Start     string `json:"start"`
	Increment string `json:"increment"`
}

func (c *Catalog) Sequences(ctx context.Context, schema string) ([]Sequence, error) {
	rows, err := c.run(ctx, dialect.From(infoSchema("sequences")).
		Select("sequence_name", "data_type", "start_value", "increment").
		Where(goqu.C("sequence_schema").Eq(schema)).
		Order(goqu.C("sequence_name").Asc()))
	if err != nil {
		return nil, err
	}
	return mapRows(rows, func(r normalize.Row) Sequence {
		return Sequence{
			Name:      r.String("sequence_name"),
			DataType:  r.String("data_type"),
			Start:     r.String("start_value"),
			Increment: r.String("increment"),
		}
	}), nil
}

func mapRows[T any](rows []normalize.Row, fn func(normalize.Row) T) []T {
	out := make([]T, len(rows))
	for i, r := range rows {
		out[i] = fn(r)
	}
	return out
}

func optional(r normalize.Row, name string) *string {
	v, ok := r.Get(name)
	if !ok || !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
