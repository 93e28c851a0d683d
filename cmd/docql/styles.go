package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	sqlStyle   = lipgloss.NewStyle().PaddingLeft(2)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1)
)

// keyValues renders aligned label: value rows.
func keyValues(rows [][2]string) string {
	width := 0
	for _, r := range rows {
		width = max(width, lipgloss.Width(r[0]))
	}
	lines := make([]string, len(rows))
	for i, r := range rows {
		label := labelStyle.Render(fmt.Sprintf("%-*s", width, r[0]))
		lines[i] = label + "  " + r[1]
	}
	return strings.Join(lines, "\n")
}
