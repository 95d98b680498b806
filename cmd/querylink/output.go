package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/term"

	"github.com/justjake/querylink/pkg/normalize"
	"github.com/justjake/querylink/pkg/servers"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00CED1")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	nullStyle   = cellStyle.Foreground(lipgloss.Color("#888888")).Italic(true)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#9B30FF"))
)

// output prints results as tables on a terminal and as JSON lines
// otherwise.
type output struct {
	w    io.Writer
	json bool
}

func newOutput(w io.Writer, forceJSON bool) *output {
	tty := false
	if f, ok := w.(*os.File); ok {
		tty = term.IsTerminal(int(f.Fd()))
	}
	return &output{w: w, json: forceJSON || !tty}
}

func (o *output) encode(v any) error {
	enc := json.NewEncoder(o.w)
	if !o.json {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

func (o *output) render(headers []string, cells [][]string, nulls map[[2]int]bool) {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		Rows(cells...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case nulls[[2]int{row, col}]:
				return nullStyle
			}
			return cellStyle
		})
	fmt.Fprintln(o.w, t.Render())
}

// Rows prints query results. JSON output is one array of name/value pairs
// per row, so column order and duplicate names survive.
func (o *output) Rows(rows []normalize.Row) error {
	if o.json {
		for _, r := range rows {
			if err := o.encode(r); err != nil {
				return err
			}
		}
		return nil
	}

	if len(rows) == 0 {
		fmt.Fprintln(o.w, descStyle.Render("(0 rows)"))
		return nil
	}
	headers, cells, nulls := rowCells(rows)
	o.render(headers, cells, nulls)
	fmt.Fprintln(o.w, descStyle.Render(fmt.Sprintf("(%d rows)", len(rows))))
	return nil
}

// rowCells flattens rows into display strings, noting which cells are null.
func rowCells(rows []normalize.Row) ([]string, [][]string, map[[2]int]bool) {
	headers := rows[0].Names()
	cells := make([][]string, len(rows))
	nulls := make(map[[2]int]bool)
	for i, r := range rows {
		cells[i] = make([]string, len(r))
		for j, c := range r {
			cells[i][j] = normalize.Display(c.Value)
			if !c.Value.Valid {
				nulls[[2]int{i, j}] = true
			}
		}
	}
	return headers, cells, nulls
}

// Servers prints saved servers. Passwords are never printed.
func (o *output) Servers(list []servers.Server) error {
	if o.json {
		for _, s := range list {
			if err := o.encode(s); err != nil {
				return err
			}
		}
		return nil
	}
	headers, cells := serverCells(list)
	o.render(headers, cells, nil)
	return nil
}

func serverCells(list []servers.Server) ([]string, [][]string) {
	headers := []string{"id", "name", "backend", "address", "user", "default database", "created"}
	cells := make([][]string, len(list))
	for i, s := range list {
		cells[i] = []string{
			strconv.FormatInt(s.ID, 10),
			s.Name,
			string(s.Backend),
			s.Target("").Addr(),
			s.Username,
			s.ResolveDatabase(""),
			s.CreatedAt.Local().Format(time.DateTime),
		}
	}
	return headers, cells
}

// Value prints any other result as JSON, indented on a terminal.
func (o *output) Value(v any) error {
	return o.encode(v)
}
