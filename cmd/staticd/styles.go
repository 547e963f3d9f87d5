package main

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/benaskins/staticd/internal/staticserver"
)

var (
	colorSuccess = lipgloss.Color("#10B981")
	colorError   = lipgloss.Color("#EF4444")
	colorWarning = lipgloss.Color("#F59E0B")
	colorMuted   = lipgloss.Color("#6B7280")

	labelStyle = lipgloss.NewStyle().Foreground(colorMuted)
	linkStyle  = lipgloss.NewStyle().Underline(true)

	stateStyles = map[staticserver.State]lipgloss.Style{
		staticserver.StateActive:   lipgloss.NewStyle().Bold(true).Foreground(colorSuccess),
		staticserver.StateCrashed:  lipgloss.NewStyle().Bold(true).Foreground(colorError),
		staticserver.StateStarting: lipgloss.NewStyle().Foreground(colorWarning),
		staticserver.StateStopping: lipgloss.NewStyle().Foreground(colorWarning),
		staticserver.StateInactive: lipgloss.NewStyle().Foreground(colorMuted),
	}
)

// styled reports whether stdout is a terminal worth colouring.
func styled() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func renderState(st staticserver.State) string {
	if !styled() {
		return string(st)
	}
	if style, ok := stateStyles[st]; ok {
		return style.Render(string(st))
	}
	return string(st)
}

func renderLabel(s string) string {
	if !styled() {
		return s
	}
	return labelStyle.Render(s)
}

func renderLink(s string) string {
	if !styled() || s == "" {
		return s
	}
	return linkStyle.Render(s)
}
