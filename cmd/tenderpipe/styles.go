package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	success = lipgloss.Color("#8BC34A")
	warning = lipgloss.Color("#FFC107")
	failure = lipgloss.Color("#e53935")
	muted   = lipgloss.Color("#7a8699")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#2196F3"))
	okStyle      = lipgloss.NewStyle().Foreground(success).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(warning)
	errorStyle   = lipgloss.NewStyle().Foreground(failure).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	keyStyle     = lipgloss.NewStyle().Width(22).Foreground(muted)
	sectionStyle = lipgloss.NewStyle().MarginTop(1).Bold(true)
)

func printOK(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, okStyle.Render("✓ ")+fmt.Sprintf(format, args...))
}

func printWarn(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, warnStyle.Render("! "+fmt.Sprintf(format, args...)))
}

func printFail(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, errorStyle.Render("✗ ")+fmt.Sprintf(format, args...))
}

func printKV(w io.Writer, key string, value any) {
	fmt.Fprintln(w, keyStyle.Render(key)+fmt.Sprint(value))
}
