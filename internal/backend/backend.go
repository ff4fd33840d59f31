// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend defines the contract between the session controller and a
// language-model runtime.
//
// A Backend creates Sessions. A Session streams each response as a sequence
// of snapshots, each one the complete text generated so far. Failures are
// reported as *Error values whose Kind the controller maps to user-facing
// categories.
package backend

import (
	"context"
	"fmt"
	"iter"
	"math"
	"strings"

	"github.com/jeranaias/rigchat/internal/transcript"
)

// =============================================================================
// USE CASES
// =============================================================================

// UseCase selects how a backend configures a session.
type UseCase string

const (
	UseCaseGeneral        UseCase = "general"
	UseCaseContentTagging UseCase = "content-tagging"
)

// ParseUseCase validates a use-case name. The empty string means general.
func ParseUseCase(s string) (UseCase, error) {
	switch UseCase(strings.ToLower(strings.TrimSpace(s))) {
	case "", UseCaseGeneral:
		return UseCaseGeneral, nil
	case UseCaseContentTagging, "tagging":
		return UseCaseContentTagging, nil
	}
	return "", fmt.Errorf("unknown use case %q (want general or content-tagging)", s)
}

// =============================================================================
// AVAILABILITY
// =============================================================================

// Reason explains why a backend cannot serve requests.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonDeviceIneligible
	ReasonFeatureDisabled
	ReasonModelNotReady
	ReasonOther
)

// String returns the kebab-case name of the reason.
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonDeviceIneligible:
		return "device-ineligible"
	case ReasonFeatureDisabled:
		return "feature-disabled"
	case ReasonModelNotReady:
		return "model-not-ready"
	default:
		return "other"
	}
}

// Availability is the result of a backend readiness check.
type Availability struct {
	Available bool
	Reason    Reason
	// Detail is a human-readable explanation, e.g. how to fix the problem.
	Detail string
}

// Available is the zero-problem Availability.
func Available() Availability {
	return Availability{Available: true}
}

// Unavailable builds an Availability with a reason and detail.
func Unavailable(reason Reason, detail string) Availability {
	return Availability{Reason: reason, Detail: detail}
}

func (a Availability) String() string {
	if a.Available {
		return "available"
	}
	if a.Detail != "" {
		return "unavailable (" + a.Reason.String() + "): " + a.Detail
	}
	return "unavailable (" + a.Reason.String() + ")"
}

// =============================================================================
// BACKEND CONTRACT
// =============================================================================

// SessionConfig is what a session is created from.
type SessionConfig struct {
	UseCase      UseCase
	Instructions string
	// Model overrides the backend's default model when non-empty.
	Model string
}

// Backend is a language-model runtime.
type Backend interface {
	// Name identifies the backend in status output and logs.
	Name() string

	// Availability reports whether sessions can be created.
	Availability(ctx context.Context) Availability

	// NewSession creates a session. A non-empty history seeds the session's
	// transcript (used to rebuild a condensed session); otherwise the
	// transcript starts with the instructions. Use-case framing applies in
	// both cases.
	NewSession(ctx context.Context, cfg SessionConfig, history transcript.Transcript) (Session, error)

	// Prewarm asks the runtime to load what the session needs. It is best
	// effort: it reports nothing and failures are ignored.
	Prewarm(ctx context.Context, s Session)
}

// Session is one dialogue with the runtime.
type Session interface {
	// ID is a handle unique to this session.
	ID() string

	// Transcript is the runtime's record of the dialogue so far.
	Transcript() transcript.Transcript

	// Stream generates a response to prompt. Each yielded string is the full
	// response so far. A failure is yielded once as a non-nil error and ends
	// the sequence. The prompt and response are appended to the transcript
	// only when the stream completes successfully.
	Stream(ctx context.Context, prompt string, temperature float64) iter.Seq2[string, error]
}

// Frame appends a use-case framing to instructions.
func Frame(instructions, framing string) string {
	if framing == "" {
		return instructions
	}
	return strings.TrimSpace(instructions + "\n\n" + framing)
}

// SessionTranscript returns the transcript a new session starts from. An
// empty history starts with the framed instructions. A non-empty history
// keeps its dialogue; when framing is set its leading instructions entry is
// framed, or a framed one is prepended, unless it already carries framing.
func SessionTranscript(history transcript.Transcript, instructions, framing string) transcript.Transcript {
	if history.Len() == 0 {
		return transcript.New(transcript.Instructions(Frame(instructions, framing)))
	}
	if framing == "" {
		return history
	}
	entries := history.Entries()
	if entries[0].Kind != transcript.KindInstructions {
		return transcript.New(append([]transcript.Entry{transcript.Instructions(framing)}, entries...)...)
	}
	if strings.HasSuffix(entries[0].Text, framing) {
		return history
	}
	entries[0] = transcript.Instructions(Frame(entries[0].Text, framing))
	return transcript.New(entries...)
}

// ClampTemperature limits t to [0, 1]. NaN becomes 0.
func ClampTemperature(t float64) float64 {
	switch {
	case math.IsNaN(t), t < 0:
		return 0
	case t > 1:
		return 1
	}
	return t
}
