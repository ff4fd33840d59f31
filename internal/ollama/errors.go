// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/jeranaias/rigchat/internal/backend"
)

// overflowMarkers are substrings of the errors Ollama and llama.cpp report
// when the prompt does not fit the context window.
var overflowMarkers = []string{
	"context length",
	"context window",
	"exceeds the context",
	"exceeds context",
	"input length exceeds",
	"prompt is too long",
	"too many tokens",
}

// classify maps a client error to a backend error. Context errors pass
// through unchanged so the controller can see the cancellation.
func classify(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var ce *ClientError
	if !errors.As(err, &ce) {
		return backend.NewError(backend.KindUnknown, "", err)
	}

	lower := strings.ToLower(ce.Message)
	switch {
	case ce.StatusCode == http.StatusTooManyRequests:
		return backend.NewError(backend.KindRateLimited, ce.Message, err)
	case ce.StatusCode == http.StatusServiceUnavailable, strings.Contains(lower, "server busy"), strings.Contains(lower, "maximum pending requests"):
		return backend.NewError(backend.KindConcurrencyLimited, ce.Message, err)
	case containsAny(lower, overflowMarkers):
		return backend.NewError(backend.KindContextOverflow, ce.Message, err)
	case ce.Type == ErrTypeModelNotFound:
		return backend.NewError(backend.KindAssetsUnavailable, ce.Message, err)
	case ce.Type == ErrTypeInvalidResponse:
		return backend.NewError(backend.KindDecodeFailure, ce.Message, err)
	}
	return backend.NewError(backend.KindUnknown, ce.Message, err)
}

// overflowed reports whether a final chunk stopped because the window filled
// up rather than because the model finished.
func overflowed(final StreamChunk, numCtx int) bool {
	if final.DoneReason != "length" || numCtx <= 0 {
		return false
	}
	return final.PromptTokens+final.CompletionTokens >= numCtx
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
