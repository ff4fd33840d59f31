// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists conversation snapshots for rigchat.
//
// A snapshot is the ordered message history of one named conversation.
// Stores only ever read a whole snapshot and write a full replacement;
// there are no partial or in-place edits.
//
// # Key Types
//
//   - Store: the interface both backends implement
//   - FileStore: one JSON array per conversation under a directory
//   - SQLiteStore: one table in a pure-Go SQLite database
//   - ConversationMeta: lightweight metadata for listing
//
// # Usage
//
//	store, err := storage.NewFileStore(dir, logger)
//	msgs, err := store.Load("current") // missing or corrupt => empty
//	err = store.Save("current", controller.History())
//
// # Storage Location
//
// Conversations are stored in ~/.rigchat/conversations/ by default.
package storage
