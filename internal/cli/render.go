// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"sync"

	"github.com/charmbracelet/glamour"
)

var (
	markdownRenderer     *glamour.TermRenderer
	markdownRendererOnce sync.Once
)

// renderMarkdown renders markdown for the terminal. It returns content
// unchanged when the renderer cannot be built or fails.
func renderMarkdown(content, theme string) string {
	markdownRendererOnce.Do(func() {
		style := glamour.WithAutoStyle()
		switch theme {
		case "dark", "light":
			style = glamour.WithStandardStyle(theme)
		}
		width := GetTerminalWidth() - 4
		r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
		if err == nil {
			markdownRenderer = r
		}
	})
	if markdownRenderer == nil {
		return content
	}
	out, err := markdownRenderer.Render(content)
	if err != nil {
		return content
	}
	return out
}

// useMarkdown reports whether replies on stdout should be rendered.
func (a *app) useMarkdown() bool {
	return a.cfg.UI.Markdown && isTerminal(a.env.Stdout) && ColorsEnabled()
}
