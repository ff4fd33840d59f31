// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small helpers shared across rigchat.
//
// String helpers are rune and display-width aware (go-runewidth):
//   - TruncateWidth, PadRight, Preview
//
// File helpers:
//   - AtomicWriteFile, AtomicWriteJSON: temp file, fsync, rename
//
//	err := util.AtomicWriteJSON(path, messages, 0600)
package util
