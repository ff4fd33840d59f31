// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"errors"
	"strings"
)

// =============================================================================
// GENERATION ERRORS
// =============================================================================

// Kind categorizes a generation failure reported by a backend.
type Kind int

const (
	KindUnknown Kind = iota
	KindContextOverflow
	KindRefusal
	KindAssetsUnavailable
	KindGuardrailViolation
	KindUnsupportedGuide
	KindUnsupportedLocale
	KindDecodeFailure
	KindRateLimited
	KindConcurrencyLimited
)

var kindNames = map[Kind]string{
	KindUnknown:            "unknown",
	KindContextOverflow:    "context-overflow",
	KindRefusal:            "refusal",
	KindAssetsUnavailable:  "assets-unavailable",
	KindGuardrailViolation: "guardrail-violation",
	KindUnsupportedGuide:   "unsupported-guide",
	KindUnsupportedLocale:  "unsupported-locale",
	KindDecodeFailure:      "decode-failure",
	KindRateLimited:        "rate-limited",
	KindConcurrencyLimited: "concurrency-limited",
}

// String returns the kebab-case name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind is the inverse of Kind.String. Unrecognized names map to
// KindUnknown.
func ParseKind(s string) Kind {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k
		}
	}
	return KindUnknown
}

// Error is a generation failure from a backend.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error of the same kind, so the sentinels below work
// with errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewError builds an Error of the given kind.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Sentinel errors for errors.Is checks.
var (
	ErrContextOverflow    = &Error{Kind: KindContextOverflow, Message: "context window exceeded"}
	ErrRefusal            = &Error{Kind: KindRefusal, Message: "model refused the request"}
	ErrAssetsUnavailable  = &Error{Kind: KindAssetsUnavailable, Message: "model assets unavailable"}
	ErrGuardrailViolation = &Error{Kind: KindGuardrailViolation, Message: "content blocked by safety guardrails"}
	ErrUnsupportedGuide   = &Error{Kind: KindUnsupportedGuide, Message: "unsupported generation guide"}
	ErrUnsupportedLocale  = &Error{Kind: KindUnsupportedLocale, Message: "unsupported language or locale"}
	ErrDecodeFailure      = &Error{Kind: KindDecodeFailure, Message: "failed to decode model output"}
	ErrRateLimited        = &Error{Kind: KindRateLimited, Message: "rate limited"}
	ErrConcurrencyLimited = &Error{Kind: KindConcurrencyLimited, Message: "too many concurrent requests"}
)

// KindOf returns the kind of the first *Error in err's chain, or
// KindUnknown.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindUnknown
}

// IsContextOverflow checks if an error is a context-window overflow.
func IsContextOverflow(err error) bool {
	return err != nil && KindOf(err) == KindContextOverflow
}

// IsTransient checks if an error is worth retrying later (rate or
// concurrency limit).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	k := KindOf(err)
	return k == KindRateLimited || k == KindConcurrencyLimited
}

// IsInputRejected checks if the backend declined this particular input.
func IsInputRejected(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindRefusal, KindGuardrailViolation, KindUnsupportedGuide, KindUnsupportedLocale:
		return true
	}
	return false
}
