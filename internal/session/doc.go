// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session owns the active model session and the message history of
// one conversation.
//
// # Key Types
//
//   - Controller: one conversation over a backend.Backend
//   - Turn: a single in-flight response, consumed as a stream of deltas
//   - TurnError: every failure the controller reports, with a Category
//
// # Usage
//
//	ctrl, err := session.New(ctx, b, session.DefaultConfig())
//	if err != nil {
//	    // session.IsFatal(err) is true when the backend is unavailable
//	}
//	defer ctrl.Close()
//
//	turn, err := ctrl.Send(ctx, "hello")
//	for delta := range turn.Deltas() {
//	    fmt.Print(delta)
//	}
//	text, err := turn.Result()
//
// # Overflow
//
// When the backend reports that the context window is full the controller
// condenses the session transcript to its instructions plus the most recent
// entries and continues on a new session. The failed turn is not retried;
// it is reported with CategoryOverflow so the user can resend it.
package session
