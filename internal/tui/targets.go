package tui

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"grimm.is/foldwatch/internal/dispatch"
)

// TargetTable renders target statuses as a bordered table. now is used to
// show how long ago each target was last active.
func TargetTable(statuses []dispatch.Status, now time.Time) string {
	rows := make([][]string, 0, len(statuses))
	for _, st := range statuses {
		rows = append(rows, []string{
			st.Target,
			fmt.Sprintf("%s:%d", st.Host, st.Port),
			string(st.State),
			yesNo(st.HasDocument),
			since(st.LastActivity, now),
			st.Reason,
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(StyleBorder).
		Headers("TARGET", "ADDRESS", "STATE", "STATE DOC", "ACTIVE", "REASON").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return StyleTableHeader
			}
			if col == 2 && row >= 0 && row < len(statuses) {
				return StateStyle(statuses[row].State).Padding(0, 1)
			}
			return StyleTableCell
		})
	return t.Render()
}

// StateStyle picks the color of a connection state.
func StateStyle(state dispatch.State) lipgloss.Style {
	switch state {
	case dispatch.StateConnected:
		return StyleStatusGood
	case dispatch.StateDisabled:
		return StyleStatusMuted
	}
	return StyleStatusWarn
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func since(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t).Round(time.Second)
	if d < time.Second {
		return "now"
	}
	if d < time.Minute {
		return strconv.Itoa(int(d.Seconds())) + "s ago"
	}
	return d.String() + " ago"
}
