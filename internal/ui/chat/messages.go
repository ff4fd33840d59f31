// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import tea "github.com/charmbracelet/bubbletea"

// =============================================================================
// STREAMING MESSAGES
// =============================================================================

// StreamDeltaMsg carries new reply text.
type StreamDeltaMsg struct {
	Text string
}

// StreamDoneMsg ends a turn. Reply may hold partial text when Err is set.
type StreamDoneMsg struct {
	Reply string
	Err   error
}

// ResetDoneMsg reports the end of a /clear.
type ResetDoneMsg struct {
	Err error
}

// waitForEvent reads the next message of a turn. It returns nil once the
// turn's channel is closed.
func waitForEvent(events <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-events
		if !ok {
			return nil
		}
		return msg
	}
}
