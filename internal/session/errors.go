// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"

	"github.com/jeranaias/rigchat/internal/backend"
)

// =============================================================================
// ERROR CATEGORIES
// =============================================================================

// Category is how a failure affects the conversation and what the caller
// should do about it.
type Category int

const (
	// CategoryFailed is an unexpected backend failure; the next turn may
	// still work.
	CategoryFailed Category = iota
	// CategoryFatal means no session can be created; the process should exit.
	CategoryFatal
	// CategoryOverflow means the session was condensed; resend the message.
	CategoryOverflow
	// CategoryRetry is a rate or concurrency limit; retry later.
	CategoryRetry
	// CategoryRejected means the backend declined this input.
	CategoryRejected
	// CategoryCanceled means the caller canceled the turn.
	CategoryCanceled
	// CategoryDegraded is a non-backend failure (for example a failed page
	// fetch) that the conversation can continue past.
	CategoryDegraded
	// CategoryBusy means another turn is in flight.
	CategoryBusy
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryFatal:
		return "fatal"
	case CategoryOverflow:
		return "overflow"
	case CategoryRetry:
		return "retry"
	case CategoryRejected:
		return "rejected"
	case CategoryCanceled:
		return "canceled"
	case CategoryDegraded:
		return "degraded"
	case CategoryBusy:
		return "busy"
	default:
		return "failed"
	}
}

// Severity is "ERROR" when the user has to act and "WARNING" when the
// conversation can simply continue.
func (c Category) Severity() string {
	switch c {
	case CategoryFatal, CategoryFailed:
		return "ERROR"
	default:
		return "WARNING"
	}
}

// TurnError is the only error type the controller returns for turn and session
// failures. Raw backend errors are kept as Cause.
type TurnError struct {
	Category Category
	// Kind is set for generation failures.
	Kind backend.Kind
	// Reason is set for availability failures.
	Reason  backend.Reason
	Message string
	Cause   error
}

func (e *TurnError) Error() string {
	return e.Message
}

func (e *TurnError) Unwrap() error {
	return e.Cause
}

// Is matches another *TurnError with the same category and message, which is
// how the sentinels below compare.
func (e *TurnError) Is(target error) bool {
	t, ok := target.(*TurnError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Message == t.Message
}

// Sentinel errors for errors.Is checks.
var (
	ErrBusy        = &TurnError{Category: CategoryBusy, Message: "a response is already being generated"}
	ErrTornDown    = &TurnError{Category: CategoryFailed, Message: "session controller is closed"}
	ErrEmptyPrompt = &TurnError{Category: CategoryRejected, Message: "prompt is empty"}
	ErrNotReady    = &TurnError{Category: CategoryFailed, Message: "session controller is not initialized"}
)

// CategoryOf returns the category of err, or CategoryFailed when err is not
// a *TurnError.
func CategoryOf(err error) Category {
	var se *TurnError
	if errors.As(err, &se) {
		return se.Category
	}
	return CategoryFailed
}

// IsFatal checks if err means the process should exit.
func IsFatal(err error) bool {
	return err != nil && CategoryOf(err) == CategoryFatal
}

// IsOverflow checks if err reports an overflow recovery.
func IsOverflow(err error) bool {
	return err != nil && CategoryOf(err) == CategoryOverflow
}

// IsRetryable checks if err is a rate or concurrency limit.
func IsRetryable(err error) bool {
	return err != nil && CategoryOf(err) == CategoryRetry
}

// IsRejected checks if the backend declined the input.
func IsRejected(err error) bool {
	return err != nil && CategoryOf(err) == CategoryRejected
}

// IsCanceled checks if the caller canceled the turn.
func IsCanceled(err error) bool {
	return err != nil && CategoryOf(err) == CategoryCanceled
}

// unavailableError maps a failed availability check to a fatal error with a
// message the user can act on.
func unavailableError(a backend.Availability, backendName string) *TurnError {
	var msg string
	switch a.Reason {
	case backend.ReasonDeviceIneligible:
		msg = "this device cannot run the " + backendName + " model"
	case backend.ReasonFeatureDisabled:
		msg = backendName + " is not enabled"
	case backend.ReasonModelNotReady:
		msg = backendName + " model is not ready"
	default:
		msg = backendName + " is unavailable"
	}
	if a.Detail != "" {
		msg += ": " + a.Detail
	}
	return &TurnError{Category: CategoryFatal, Reason: a.Reason, Message: msg}
}

// sessionError wraps a failure to create a replacement session.
func sessionError(err error) *TurnError {
	return &TurnError{
		Category: CategoryFailed,
		Kind:     backend.KindOf(err),
		Message:  "could not create a new session: " + err.Error(),
		Cause:    err,
	}
}

// translate converts a generation failure into a categorized *TurnError.
func translate(err error) *TurnError {
	kind := backend.KindOf(err)
	e := &TurnError{Kind: kind, Cause: err}

	switch kind {
	case backend.KindContextOverflow:
		e.Category = CategoryOverflow
		e.Message = "context window exceeded; the conversation was condensed, please resend your message"
	case backend.KindRateLimited:
		e.Category = CategoryRetry
		e.Message = "the model is rate limited; try again shortly"
	case backend.KindConcurrencyLimited:
		e.Category = CategoryRetry
		e.Message = "too many concurrent requests; try again shortly"
	case backend.KindRefusal:
		e.Category = CategoryRejected
		e.Message = "the model declined to answer this request"
	case backend.KindGuardrailViolation:
		e.Category = CategoryRejected
		e.Message = "the request was blocked by safety guardrails"
	case backend.KindUnsupportedGuide:
		e.Category = CategoryRejected
		e.Message = "the request uses an unsupported generation guide"
	case backend.KindUnsupportedLocale:
		e.Category = CategoryRejected
		e.Message = "the request's language is not supported"
	case backend.KindAssetsUnavailable:
		e.Category = CategoryFailed
		e.Message = "model assets are unavailable; they may still be downloading"
	case backend.KindDecodeFailure:
		e.Category = CategoryFailed
		e.Message = "the model produced output that could not be decoded"
	default:
		e.Category = CategoryFailed
		e.Message = "generation failed: " + err.Error()
	}
	return e
}
