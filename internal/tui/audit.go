package tui

import (
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"grimm.is/foldwatch/internal/audit"
)

// AuditTable renders audit entries, newest first as given.
func AuditTable(entries []audit.Event) string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		result := "ok"
		if !e.OK {
			result = e.Failure
		}
		rows = append(rows, []string{
			e.Timestamp.Local().Format(time.DateTime),
			e.Target,
			e.Action,
			result,
			e.Caller,
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(StyleBorder).
		Headers("TIME", "TARGET", "ACTION", "RESULT", "CALLER").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return StyleTableHeader
			}
			if col == 3 && row >= 0 && row < len(entries) {
				if entries[row].OK {
					return StyleStatusGood.Padding(0, 1)
				}
				return StyleStatusWarn.Padding(0, 1)
			}
			return StyleTableCell
		})
	return t.Render()
}
