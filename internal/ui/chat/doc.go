// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat is the full-screen chat view, a Bubble Tea model over a
// session controller.
//
// Replies stream into the transcript as they are generated. Enter sends,
// Ctrl+C cancels a reply in progress, and Esc or Ctrl+D leaves. Lines
// starting with "/" are commands: /clear starts a new conversation and
// /exit leaves.
//
//	m := chat.New(ctx, ctrl, chat.Options{OnTurn: save})
//	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
package chat
