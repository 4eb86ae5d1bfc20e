package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorCyan   = lipgloss.Color("36")
	colorYellow = lipgloss.Color("220")
	colorRed    = lipgloss.Color("167")
	colorDim    = lipgloss.Color("240")
)

// Styles for plugin names (c1) and file and command names (c2).
var (
	styleC1    = lipgloss.NewStyle().Foreground(colorCyan)
	styleC2    = lipgloss.NewStyle().Bold(true)
	styleWarn  = lipgloss.NewStyle().Foreground(colorYellow)
	styleError = lipgloss.NewStyle().Foreground(colorRed)
	styleDim   = lipgloss.NewStyle().Foreground(colorDim)
)

// notifyExisting prints the names skipped because the manifest already
// declares them.
func notifyExisting(names []string) {
	fmt.Printf("The following plugins are already present in the %s file and will be skipped:\n\n", styleC2.Render("pyproject.toml"))
	for _, name := range names {
		fmt.Printf("  • %s\n", styleC1.Render(name))
	}
	fmt.Printf("\nIf you want to update it to the latest compatible version, you can use `%s`.\n", styleC2.Render("poetry plugin update package"))
	fmt.Printf("If you prefer to upgrade it to the latest available version, you can use `%s`.\n\n", styleC2.Render("poetry plugin add package@latest"))
}

func levelStyle(level string) lipgloss.Style {
	switch level {
	case "error":
		return styleError
	case "warn":
		return styleWarn
	default:
		return styleDim
	}
}
