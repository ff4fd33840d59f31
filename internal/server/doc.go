// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes one conversation over a local HTTP API.
//
// # Endpoints
//
//   - GET  /health       - Liveness and backend state
//   - GET  /api/status   - Controller status and server counters
//   - GET  /api/history  - Stored messages, oldest first
//   - POST /api/chat     - Send a prompt; ?stream=true answers with SSE
//   - POST /api/reset    - Clear the conversation and start a new session
//   - POST /api/fetch    - Fetch a page and analyze it
//   - GET  /ws           - Websocket chat
//
// # Status Codes
//
// Controller failures map to 409 (busy, overflow), 422 (rejected),
// 429 (rate or concurrency limited), 503 (backend unavailable),
// 408 (canceled) and 502 (generation failed). Bodies carry the error
// category:
//
//	{"error": {"message": "...", "category": "overflow"}}
//
// # Usage
//
//	srv := server.New(&server.Config{Addr: "127.0.0.1:8787"}, server.Deps{
//		Controller: ctrl,
//		Store:      store,
//	})
//	if err := srv.Run(ctx); err != nil {
//		return err
//	}
package server
