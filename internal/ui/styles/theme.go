// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"github.com/charmbracelet/lipgloss"
)

// Theme holds the styled components of the chat screen.
type Theme struct {
	Header    lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style
	Body      lipgloss.Style
	Error     lipgloss.Style
	Warning   lipgloss.Style
	Notice    lipgloss.Style
	Hint      lipgloss.Style
	Spinner   lipgloss.Style
	Input     lipgloss.Style
}

// NewTheme builds the default theme.
func NewTheme() *Theme {
	return &Theme{
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(Cyan).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(Overlay),
		User:      lipgloss.NewStyle().Bold(true).Foreground(Cyan),
		Assistant: lipgloss.NewStyle().Bold(true).Foreground(Purple),
		Body:      lipgloss.NewStyle().Foreground(TextPrimary),
		Error:     lipgloss.NewStyle().Bold(true).Foreground(Rose),
		Warning:   lipgloss.NewStyle().Bold(true).Foreground(Amber),
		Notice:    lipgloss.NewStyle().Foreground(Emerald),
		Hint:      lipgloss.NewStyle().Foreground(TextMuted),
		Spinner:   lipgloss.NewStyle().Foreground(Purple),
		Input: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(TextSecondary).
			Padding(0, 1),
	}
}

// SeverityStyle returns the style for an ERROR or WARNING label.
func (t *Theme) SeverityStyle(severity string) lipgloss.Style {
	if severity == "WARNING" {
		return t.Warning
	}
	return t.Error
}
