// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the conversation message types.
//
// # Key Types
//
//   - Role: user, assistant or system
//   - Message: role, content and creation time; immutable once stored
//   - Store: bounded FIFO log of messages (default capacity 10)
//
// # Usage
//
//	store := model.NewStore(model.DefaultMaxHistory)
//	store.Append(model.RoleUser, "Hello")
//	for _, m := range store.Recent(4) {
//	    fmt.Println(m.Role.DisplayName(), m.Content)
//	}
package model
