// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Rows taken by everything except the transcript: header with its border,
// the status line, and the bordered input.
const chromeHeight = 6

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width
	m.viewport.Height = max(height-chromeHeight, 1)
	m.input.Width = max(width-8, 10)
	m.ready = true
	m.refresh()
}

// refresh re-renders the transcript and follows the newest text.
func (m *Model) refresh() {
	m.viewport.SetContent(m.renderContent())
	m.viewport.GotoBottom()
}

// View implements tea.Model.
func (m *Model) View() string {
	if !m.ready {
		return "Starting..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.theme.Header.Width(m.width).Render(m.headerText()),
		m.viewport.View(),
		m.statusLine(),
		m.theme.Input.Width(max(m.width-2, 10)).Render(m.input.View()),
	)
}

func (m *Model) headerText() string {
	st := m.conv.Status()
	parts := []string{m.opts.Title, st.Backend}
	if st.Model != "" {
		parts = append(parts, st.Model)
	}
	parts = append(parts, fmt.Sprintf("%d/%d messages", st.HistoryLen, st.MaxHistory))
	if st.Condensations > 0 {
		parts = append(parts, fmt.Sprintf("condensed %dx", st.Condensations))
	}
	return strings.Join(parts, " | ")
}

func (m *Model) statusLine() string {
	if m.busy {
		return m.spinner.View() + m.theme.Hint.Render(" thinking... (ctrl+c cancels)")
	}
	help := make([]string, 0, 4)
	for _, b := range m.keys.shortHelp() {
		h := b.Help()
		help = append(help, h.Key+" "+h.Desc)
	}
	return m.theme.Hint.Render(strings.Join(help, " | "))
}

func (m *Model) renderContent() string {
	var b strings.Builder
	for i, e := range m.entries {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.renderEntry(e))
	}
	if m.busy && m.partial.Len() > 0 {
		if len(m.entries) > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.theme.Assistant.Render("Assistant"))
		b.WriteString("\n")
		b.WriteString(m.wrap(m.partial.String()))
	}
	return b.String()
}

func (m *Model) renderEntry(e entry) string {
	switch e.kind {
	case entryUser:
		return m.theme.User.Render("You") + "\n" + m.wrap(e.text)
	case entryAssistant:
		body := m.wrap(e.text)
		if m.opts.Render != nil {
			body = strings.TrimRight(m.opts.Render(e.text), "\n")
		}
		return m.theme.Assistant.Render("Assistant") + "\n" + body
	case entryFailure:
		label := m.theme.SeverityStyle(e.severity).Render(e.severity + ":")
		return label + " " + strings.Join(strings.Fields(e.text), " ")
	default:
		return m.theme.Notice.Render(e.text)
	}
}

func (m *Model) wrap(text string) string {
	width := m.width - 2
	if width < 10 {
		return text
	}
	return m.theme.Body.Width(width).Render(text)
}
