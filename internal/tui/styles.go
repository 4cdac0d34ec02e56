// Package tui renders terminal views of broker state.
package tui

import "github.com/charmbracelet/lipgloss"

// Color palette
var (
	ColorAccent = lipgloss.Color("#A8D8EA")
	ColorDeep   = lipgloss.Color("#596E79") // secondary text, borders
	ColorText   = lipgloss.Color("#E0E0E0")
	ColorAlert  = lipgloss.Color("#FF6B6B")
	ColorGood   = lipgloss.Color("#4ECDC4")
	ColorWarn   = lipgloss.Color("#FFE66D")
	ColorMuted  = lipgloss.Color("#6c757d")
)

// Styles
var (
	StyleBase = lipgloss.NewStyle().Foreground(ColorText)

	StyleTitle = lipgloss.NewStyle().
			Foreground(ColorAccent).
			Bold(true)

	StyleStatusGood  = lipgloss.NewStyle().Foreground(ColorGood).Bold(true)
	StyleStatusBad   = lipgloss.NewStyle().Foreground(ColorAlert).Bold(true)
	StyleStatusWarn  = lipgloss.NewStyle().Foreground(ColorWarn).Bold(true)
	StyleStatusMuted = lipgloss.NewStyle().Foreground(ColorMuted)

	StyleTableHeader = lipgloss.NewStyle().
				Foreground(ColorAccent).
				Bold(true).
				Padding(0, 1)

	StyleTableCell = lipgloss.NewStyle().
			Padding(0, 1)

	StyleBorder = lipgloss.NewStyle().Foreground(ColorDeep)
)
