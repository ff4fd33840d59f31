// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/transcript"
)

// =============================================================================
// ERROR TESTS
// =============================================================================

func TestError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("turn 3: %w", NewError(KindContextOverflow, "prompt too long", nil))

	assert.ErrorIs(t, err, ErrContextOverflow)
	assert.NotErrorIs(t, err, ErrRefusal)
	assert.True(t, IsContextOverflow(err))
	assert.Equal(t, KindContextOverflow, KindOf(err))
}

func TestError_Message(t *testing.T) {
	cause := errors.New("HTTP 429")
	e := NewError(KindRateLimited, "", cause)
	assert.Equal(t, "rate-limited: HTTP 429", e.Error())
	assert.ErrorIs(t, e, cause)
}

func TestKindHelpers(t *testing.T) {
	tests := []struct {
		kind      Kind
		transient bool
		rejected  bool
	}{
		{KindRateLimited, true, false},
		{KindConcurrencyLimited, true, false},
		{KindRefusal, false, true},
		{KindGuardrailViolation, false, true},
		{KindUnsupportedGuide, false, true},
		{KindUnsupportedLocale, false, true},
		{KindDecodeFailure, false, false},
		{KindUnknown, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			err := NewError(tt.kind, "x", nil)
			assert.Equal(t, tt.transient, IsTransient(err))
			assert.Equal(t, tt.rejected, IsInputRejected(err))
			assert.Equal(t, tt.kind, ParseKind(tt.kind.String()))
		})
	}

	assert.False(t, IsTransient(nil))
	assert.False(t, IsInputRejected(nil))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

// =============================================================================
// CONFIG TESTS
// =============================================================================

func TestParseUseCase(t *testing.T) {
	uc, err := ParseUseCase("")
	require.NoError(t, err)
	assert.Equal(t, UseCaseGeneral, uc)

	uc, err = ParseUseCase("Content-Tagging")
	require.NoError(t, err)
	assert.Equal(t, UseCaseContentTagging, uc)

	_, err = ParseUseCase("poetry")
	assert.Error(t, err)
}

func TestClampTemperature(t *testing.T) {
	assert.Equal(t, 0.0, ClampTemperature(-0.5))
	assert.Equal(t, 1.0, ClampTemperature(1.7))
	assert.Equal(t, 0.4, ClampTemperature(0.4))
	assert.Equal(t, 0.0, ClampTemperature(math.NaN()))
}

func TestSessionTranscript(t *testing.T) {
	const framing = "Reply with tags."
	dialogue := []transcript.Entry{transcript.Prompt("q"), transcript.Response("a")}
	withSys := transcript.New(append([]transcript.Entry{transcript.Instructions("Be kind.")}, dialogue...)...)

	tests := []struct {
		name     string
		history  transcript.Transcript
		framing  string
		wantLen  int
		wantHead transcript.Entry
	}{
		{"empty general", transcript.Transcript{}, "", 1, transcript.Instructions("Be kind.")},
		{"empty framed", transcript.Transcript{}, framing, 1, transcript.Instructions("Be kind.\n\n" + framing)},
		{"history general", withSys, "", 3, transcript.Instructions("Be kind.")},
		{"history framed", withSys, framing, 3, transcript.Instructions("Be kind.\n\n" + framing)},
		{"no instructions entry", transcript.New(dialogue...), framing, 3, transcript.Instructions(framing)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SessionTranscript(tt.history, "Be kind.", tt.framing)
			require.Equal(t, tt.wantLen, got.Len())
			assert.Equal(t, tt.wantHead, got.At(0))
			if tt.history.Len() > 0 {
				assert.Equal(t, transcript.Response("a"), got.At(got.Len()-1), "dialogue is kept")
			}
		})
	}
}

func TestSessionTranscript_FramesOnce(t *testing.T) {
	once := SessionTranscript(transcript.Transcript{}, "Be kind.", "Tags only.")
	twice := SessionTranscript(once.Append(transcript.Prompt("q")), "Be kind.", "Tags only.")
	assert.Equal(t, once.At(0), twice.At(0))
}

func TestAvailabilityString(t *testing.T) {
	assert.Equal(t, "available", Available().String())
	a := Unavailable(ReasonModelNotReady, "pull the model")
	assert.False(t, a.Available)
	assert.Equal(t, "unavailable (model-not-ready): pull the model", a.String())
}

// =============================================================================
// STUB TESTS
// =============================================================================

func drain(seq func(func(string, error) bool)) ([]string, error) {
	var out []string
	for s, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, s)
	}
	return out, nil
}

func TestWordSnapshots(t *testing.T) {
	assert.Equal(t, []string{"a ", "a b ", "a b c"}, WordSnapshots("a b c"))
	assert.Empty(t, WordSnapshots(""))
}

func TestStub_EchoAndTranscript(t *testing.T) {
	ctx := context.Background()
	stub := NewStub(nil)

	sess, err := stub.NewSession(ctx, SessionConfig{Instructions: "sys"}, transcript.Transcript{})
	require.NoError(t, err)
	assert.Equal(t, 1, sess.Transcript().Len())

	snaps, err := drain(sess.Stream(ctx, "hi there", 0.3))
	require.NoError(t, err)
	assert.Equal(t, "Echo: hi there", snaps[len(snaps)-1])

	tr := sess.Transcript()
	require.Equal(t, 3, tr.Len())
	assert.Equal(t, transcript.Prompt("hi there"), tr.At(1))
	assert.Equal(t, transcript.Response("Echo: hi there"), tr.At(2))
	assert.Equal(t, 1, stub.Calls())
}

func TestStub_FailureLeavesTranscript(t *testing.T) {
	ctx := context.Background()
	stub := NewStub(&StubConfig{Respond: func(int, string) ([]string, error) {
		return []string{"par"}, ErrRefusal
	}})
	sess, err := stub.NewSession(ctx, SessionConfig{}, transcript.Transcript{})
	require.NoError(t, err)

	snaps, err := drain(sess.Stream(ctx, "q", 0.5))
	assert.ErrorIs(t, err, ErrRefusal)
	assert.Equal(t, []string{"par"}, snaps)
	assert.Equal(t, 1, sess.Transcript().Len())
}

func TestStub_SeededHistory(t *testing.T) {
	seed := transcript.New(transcript.Instructions("a"), transcript.Prompt("b"))
	sess, err := NewStub(nil).NewSession(context.Background(), SessionConfig{}, seed)
	require.NoError(t, err)
	assert.Equal(t, 2, sess.Transcript().Len())
}

func TestStub_Cancellation(t *testing.T) {
	gate := make(chan struct{})
	stub := NewStub(&StubConfig{Gate: gate})
	sess, err := stub.NewSession(context.Background(), SessionConfig{}, transcript.Transcript{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = drain(sess.Stream(ctx, "hello", 0.5))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStub_Unavailable(t *testing.T) {
	a := Unavailable(ReasonDeviceIneligible, "")
	stub := NewStub(&StubConfig{Availability: &a})
	assert.False(t, stub.Availability(context.Background()).Available)
	assert.Equal(t, "echo", stub.Name())

	stub.Prewarm(context.Background(), nil)
	assert.Equal(t, 1, stub.Prewarms())
}
