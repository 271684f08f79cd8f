package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// renderTable draws rows under headers with a light border. Columns listed
// in right (zero-based) are right aligned; short rows are padded.
func renderTable(headers []string, rows [][]string, right ...int) string {
	if len(headers) == 0 {
		return ""
	}

	tw := table.NewWriter()
	style := table.StyleLight
	style.Format.Header = text.FormatDefault
	tw.SetStyle(style)
	tw.AppendHeader(toRow(headers, len(headers)))
	for _, row := range rows {
		tw.AppendRow(toRow(row, len(headers)))
	}

	configs := make([]table.ColumnConfig, 0, len(right))
	for _, col := range right {
		if col < 0 || col >= len(headers) {
			continue
		}
		configs = append(configs, table.ColumnConfig{
			Number:      col + 1,
			Align:       text.AlignRight,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

func toRow(cells []string, width int) table.Row {
	row := make(table.Row, width)
	for i := range row {
		if i < len(cells) {
			row[i] = cells[i]
		} else {
			row[i] = ""
		}
	}
	return row
}
