package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

const maxCellWidth = 60

// tableView collects rows for one go-pretty table.
type tableView struct {
	headers []string
	right   map[int]bool
	rows    []table.Row
	footer  string
}

func newTable(headers ...string) *tableView {
	return &tableView{headers: headers, right: make(map[int]bool)}
}

// alignRight right-aligns the given zero-based columns.
func (t *tableView) alignRight(cols ...int) *tableView {
	for _, c := range cols {
		t.right[c] = true
	}
	return t
}

func (t *tableView) add(cells ...string) {
	row := make(table.Row, len(t.headers))
	for i := range row {
		if i < len(cells) {
			row[i] = cells[i]
		}
	}
	t.rows = append(t.rows, row)
}

func (t *tableView) setFooter(caption string) { t.footer = caption }

func (t *tableView) render() string {
	if len(t.headers) == 0 {
		return ""
	}
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(t.headers))
	configs := make([]table.ColumnConfig, len(t.headers))
	for i, h := range t.headers {
		header[i] = h
		align := text.AlignLeft
		if t.right[i] {
			align = text.AlignRight
		}
		configs[i] = table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft, WidthMax: maxCellWidth}
	}
	tw.AppendHeader(header)
	tw.AppendRows(t.rows)
	tw.SetColumnConfigs(configs)
	if t.footer != "" {
		tw.SetCaption(t.footer)
	}
	return tw.Render()
}
