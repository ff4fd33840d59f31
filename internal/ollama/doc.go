// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama is the HTTP client and model backend for a local Ollama
// server.
//
// # Key Types
//
//   - Client: HTTP client for the Ollama API
//   - StreamReader: NDJSON decoder for streaming chat responses
//   - Backend: backend.Backend over a Client
//
// # Usage
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{DefaultModel: "llama3.2"})
//	b := ollama.NewBackend(client, nil)
//	ctrl, err := session.New(ctx, b, nil)
//
// Ollama streams deltas. The backend accumulates them so that every value a
// Session yields is the full response so far.
package ollama
