package catalog

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// TableDescription is everything Describe knows about one table.
type TableDescription struct {
	Schema      string       `json:"schema"`
	Name        string       `json:"name"`
	Columns     []Column     `json:"columns"`
	PrimaryKey  []PrimaryKey `json:"primary_key"`
	ForeignKeys []ForeignKey `json:"foreign_keys"`
	Indexes     []Index      `json:"indexes"`
	Triggers    []Trigger    `json:"triggers"`
}

// Describe loads a table's columns, keys, indexes, and triggers. The
// lookups run concurrently; the first failure cancels the rest.
func (c *Catalog) Describe(ctx context.Context, schema, table string) (*TableDescription, error) {
	d := &TableDescription{Schema: schema, Name: table}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		d.Columns, err = c.Columns(ctx, schema, table)
		return err
	})
	g.Go(func() (err error) {
		d.PrimaryKey, err = c.PrimaryKeys(ctx, schema, table)
		return err
	})
	g.Go(func() (err error) {
		d.ForeignKeys, err = c.ForeignKeys(ctx, schema, table)
		return err
	})
	g.Go(func() (err error) {
		d.Indexes, err = c.Indexes(ctx, schema, table)
		return err
	})
	g.Go(func() (err error) {
		d.Triggers, err = c.Triggers(ctx, schema, table)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("describe %s.%s: %w", schema, table, err)
	}
	if len(d.Columns) == 0 {
		return nil, fmt.Errorf("describe %s.%s: table not found", schema, table)
	}
	return d, nil
}
