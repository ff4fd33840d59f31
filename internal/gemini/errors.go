// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gemini

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/jeranaias/rigchat/internal/backend"
)

// classifyError maps a transport or API failure to a backend error.
func classifyError(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	code, status, msg := 0, "", err.Error()
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		code, status, msg = apiErr.Code, apiErr.Status, apiErr.Message
	}
	lower := strings.ToLower(msg)

	switch {
	case code == http.StatusTooManyRequests, status == "RESOURCE_EXHAUSTED":
		return backend.NewError(backend.KindRateLimited, msg, err)
	case code == http.StatusServiceUnavailable, status == "UNAVAILABLE", strings.Contains(lower, "overloaded"):
		return backend.NewError(backend.KindConcurrencyLimited, msg, err)
	case strings.Contains(lower, "token") && (strings.Contains(lower, "exceeds") || strings.Contains(lower, "limit")):
		return backend.NewError(backend.KindContextOverflow, msg, err)
	case strings.Contains(lower, "language") && (strings.Contains(lower, "not supported") || strings.Contains(lower, "unsupported")):
		return backend.NewError(backend.KindUnsupportedLocale, msg, err)
	case strings.Contains(lower, "response_schema") || strings.Contains(lower, "response schema"):
		return backend.NewError(backend.KindUnsupportedGuide, msg, err)
	case code == http.StatusNotFound, status == "NOT_FOUND":
		return backend.NewError(backend.KindAssetsUnavailable, msg, err)
	}
	return backend.NewError(backend.KindUnknown, msg, err)
}

// classifyResponse reports a blocked prompt or a candidate that stopped for a
// reason other than completing its answer. It returns nil for normal chunks.
func classifyResponse(resp *genai.GenerateContentResponse) error {
	if resp == nil {
		return nil
	}
	if fb := resp.PromptFeedback; fb != nil && string(fb.BlockReason) != "" {
		reason := string(fb.BlockReason)
		if fb.BlockReasonMessage != "" {
			reason += ": " + fb.BlockReasonMessage
		}
		return backend.NewError(backend.KindGuardrailViolation, "prompt blocked ("+reason+")", nil)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil
	}

	switch reason := string(resp.Candidates[0].FinishReason); reason {
	case "SAFETY", "PROHIBITED_CONTENT", "BLOCKLIST", "SPII", "IMAGE_SAFETY":
		return backend.NewError(backend.KindGuardrailViolation, "response blocked ("+reason+")", nil)
	case "RECITATION":
		return backend.NewError(backend.KindRefusal, "response withheld (RECITATION)", nil)
	case "LANGUAGE":
		return backend.NewError(backend.KindUnsupportedLocale, "language not supported", nil)
	case "MALFORMED_FUNCTION_CALL":
		return backend.NewError(backend.KindDecodeFailure, "malformed response", nil)
	}
	return nil
}

// responseText concatenates the non-thought text parts of the first
// candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		b.WriteString(part.Text)
	}
	return b.String()
}
