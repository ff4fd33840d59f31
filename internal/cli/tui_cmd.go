// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigchat/internal/ui/chat"
)

func newTUICmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Chat in a full-screen terminal view",
		Long: `Tui opens the conversation in a full-screen view. Replies stream in as
they are generated.

Keys: enter sends, ctrl+c cancels a reply, esc or ctrl+d quits.
Commands: /clear starts a new conversation, /exit leaves.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTUI(cmd.Context())
		},
	}
}

func (a *app) runTUI(ctx context.Context) error {
	if !a.env.Interactive() {
		return NewValidationError("terminal", "", "tui needs an interactive terminal")
	}
	ctrl, err := a.openController(ctx)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	opts := chat.Options{
		Title:  "rigchat " + Version,
		OnTurn: func() { a.save(ctrl) },
	}
	if a.cfg.UI.Markdown && ColorsEnabled() {
		theme := a.cfg.UI.Theme
		opts.Render = func(s string) string { return renderMarkdown(s, theme) }
	}
	m := chat.New(ctx, ctrl, opts)

	p := tea.NewProgram(m,
		tea.WithAltScreen(),
		tea.WithContext(ctx),
		tea.WithInput(a.env.Stdin),
		tea.WithOutput(a.env.Stdout),
	)
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return NewCommandError("tui", "", err)
	}
	a.save(ctrl)
	return m.Err()
}
