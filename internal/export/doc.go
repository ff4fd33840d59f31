// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders conversation snapshots for sharing.
//
// # Formats
//
//   - Markdown: YAML frontmatter, a heading per message
//   - JSON: the snapshot with its metadata, re-importable
//   - Text: plain "You: ..." transcript
//
// Any format can be zstd-compressed on the way to disk.
//
// # Usage
//
//	conv := export.NewConversation("current", msgs)
//	path, err := export.ToFile(conv, export.NewMarkdownExporter(nil), opts)
package export
