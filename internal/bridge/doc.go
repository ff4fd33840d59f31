// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package bridge lets an editor talk to the conversation through files.
//
// The editor writes DIR/inbox/<id>.request.json:
//
//	{"id": "42", "action": "explain", "language": "go", "code": "..."}
//
// and the bridge answers with DIR/outbox/<id>.response.json, written
// atomically, before moving the request to DIR/processed. Actions are
// explain, refactor, document and ask (a free-form prompt with optional
// code). Failed requests still get a response with status "error".
package bridge
