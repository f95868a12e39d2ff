// Package ui holds the terminal styles for plantsync CLI output.
package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	faintStyle = lipgloss.NewStyle().Faint(true)
	titleStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

// OK renders a success marker.
func OK(s string) string { return okStyle.Render(s) }

// Warn renders a warning marker.
func Warn(s string) string { return warnStyle.Render(s) }

// Err renders a failure marker.
func Err(s string) string { return errStyle.Render(s) }

// Title renders a section heading.
func Title(s string) string { return titleStyle.Render(s) }

// Faint renders secondary detail text.
func Faint(s string) string { return faintStyle.Render(s) }

// Row renders one aligned label/value line for status output.
func Row(label string, value any) string {
	return fmt.Sprintf("  %s %v", labelStyle.Render(fmt.Sprintf("%-12s", label+":")), value)
}

// Severity colors an alarm severity the way the logbook views do.
func Severity(s string) string {
	switch s {
	case "CRITICAL", "EMERGENCY":
		return errStyle.Render(s)
	case "WARNING":
		return warnStyle.Render(s)
	default:
		return faintStyle.Render(s)
	}
}
