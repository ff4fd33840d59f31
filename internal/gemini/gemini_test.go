// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gemini

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/jeranaias/rigchat/internal/backend"
	"github.com/jeranaias/rigchat/internal/transcript"
)

// newWithStream builds a backend around a fake stream function.
func newWithStream(config *Config, fn streamFunc) *Backend {
	b := NewBackend(config)
	b.once.Do(func() { b.generate = fn })
	b.injected = true
	return b
}

func chunk(text, finish string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      genai.NewContentFromText(text, genai.RoleModel),
			FinishReason: genai.FinishReason(finish),
		}},
	}
}

// fakeStream records its inputs and replays responses.
type fakeStream struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig

	responses []*genai.GenerateContentResponse
	err       error
}

func (f *fakeStream) stream(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	f.model, f.contents, f.config = model, contents, config
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for _, r := range f.responses {
			if !yield(r, nil) {
				return
			}
		}
		if f.err != nil {
			yield(nil, f.err)
		}
	}
}

func newSession(t *testing.T, f *fakeStream, cfg backend.SessionConfig, history transcript.Transcript) backend.Session {
	t.Helper()
	b := newWithStream(&Config{Model: "gemini-test"}, f.stream)
	require.True(t, b.Availability(context.Background()).Available)
	s, err := b.NewSession(context.Background(), cfg, history)
	require.NoError(t, err)
	return s
}

func drain(seq iter.Seq2[string, error]) ([]string, error) {
	var out []string
	for s, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, s)
	}
	return out, nil
}

func TestSession_StreamSnapshots(t *testing.T) {
	f := &fakeStream{responses: []*genai.GenerateContentResponse{
		chunk("Hi", ""),
		chunk(" there", ""),
		chunk("!", "STOP"),
	}}
	s := newSession(t, f, backend.SessionConfig{Instructions: "Be kind."}, transcript.Transcript{})

	snaps, err := drain(s.Stream(context.Background(), "hello", 0.25))
	require.NoError(t, err)
	assert.Equal(t, []string{"Hi", "Hi there", "Hi there!"}, snaps)

	assert.Equal(t, "gemini-test", f.model)
	require.Len(t, f.contents, 1)
	assert.Equal(t, string(genai.RoleUser), f.contents[0].Role)
	require.NotNil(t, f.config.SystemInstruction)
	assert.Equal(t, "Be kind.", f.config.SystemInstruction.Parts[0].Text)
	require.NotNil(t, f.config.Temperature)
	assert.InDelta(t, 0.25, float64(*f.config.Temperature), 1e-6)

	assert.Equal(t, 3, s.Transcript().Len())
	assert.Equal(t, "Hi there!", s.Transcript().At(2).Text)
}

func TestSession_ReplaysHistory(t *testing.T) {
	f := &fakeStream{responses: []*genai.GenerateContentResponse{chunk("ok", "STOP")}}
	history := transcript.New(transcript.Instructions("sys"), transcript.Prompt("q"), transcript.Response("a"))
	s := newSession(t, f, backend.SessionConfig{}, history)

	_, err := drain(s.Stream(context.Background(), "q2", 0))
	require.NoError(t, err)

	roles := make([]string, len(f.contents))
	for i, c := range f.contents {
		roles[i] = c.Role
	}
	assert.Equal(t, []string{"user", "model", "user"}, roles)
}

func TestSession_SkipsThoughts(t *testing.T) {
	resp := chunk("answer", "STOP")
	resp.Candidates[0].Content.Parts = append([]*genai.Part{{Text: "thinking...", Thought: true}}, resp.Candidates[0].Content.Parts...)
	f := &fakeStream{responses: []*genai.GenerateContentResponse{resp}}
	s := newSession(t, f, backend.SessionConfig{}, transcript.Transcript{})

	snaps, err := drain(s.Stream(context.Background(), "q", 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"answer"}, snaps)
}

func TestSession_FinishReasons(t *testing.T) {
	tests := []struct {
		finish string
		want   backend.Kind
	}{
		{"SAFETY", backend.KindGuardrailViolation},
		{"PROHIBITED_CONTENT", backend.KindGuardrailViolation},
		{"BLOCKLIST", backend.KindGuardrailViolation},
		{"RECITATION", backend.KindRefusal},
		{"LANGUAGE", backend.KindUnsupportedLocale},
	}
	for _, tt := range tests {
		t.Run(tt.finish, func(t *testing.T) {
			f := &fakeStream{responses: []*genai.GenerateContentResponse{chunk("par", ""), chunk("tial", tt.finish)}}
			s := newSession(t, f, backend.SessionConfig{}, transcript.Transcript{})

			_, err := drain(s.Stream(context.Background(), "q", 0))
			assert.Equal(t, tt.want, backend.KindOf(err))
			assert.Equal(t, 1, s.Transcript().Len())
		})
	}
}

func TestSession_PromptBlocked(t *testing.T) {
	f := &fakeStream{responses: []*genai.GenerateContentResponse{{
		PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: "SAFETY"},
	}}}
	s := newSession(t, f, backend.SessionConfig{}, transcript.Transcript{})

	_, err := drain(s.Stream(context.Background(), "q", 0))
	assert.True(t, backend.IsInputRejected(err))
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want backend.Kind
	}{
		{"quota", genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED", Message: "quota"}, backend.KindRateLimited},
		{"overloaded", genai.APIError{Code: 503, Status: "UNAVAILABLE", Message: "The model is overloaded."}, backend.KindConcurrencyLimited},
		{"too long", genai.APIError{Code: 400, Message: "The input token count (1200000) exceeds the maximum number of tokens allowed (1048576)."}, backend.KindContextOverflow},
		{"language", genai.APIError{Code: 400, Message: "User location or language is not supported"}, backend.KindUnsupportedLocale},
		{"no model", genai.APIError{Code: 404, Status: "NOT_FOUND", Message: "models/x is not found"}, backend.KindAssetsUnavailable},
		{"plain", errors.New("connection reset"), backend.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, backend.KindOf(classifyError(tt.err)))
		})
	}

	assert.ErrorIs(t, classifyError(context.Canceled), context.Canceled)
}

func TestBackend_NoKeyIsFeatureDisabled(t *testing.T) {
	a := NewBackend(nil).Availability(context.Background())
	assert.False(t, a.Available)
	assert.Equal(t, backend.ReasonFeatureDisabled, a.Reason)
}

func TestBackend_ContentTaggingModel(t *testing.T) {
	f := &fakeStream{responses: []*genai.GenerateContentResponse{chunk("go, testing", "STOP")}}
	b := newWithStream(&Config{TaggingModel: "gemini-lite"}, f.stream)
	s, err := b.NewSession(context.Background(), backend.SessionConfig{UseCase: backend.UseCaseContentTagging}, transcript.Transcript{})
	require.NoError(t, err)

	_, err = drain(s.Stream(context.Background(), "content", 0))
	require.NoError(t, err)
	assert.Equal(t, "gemini-lite", f.model)
	assert.Contains(t, f.config.SystemInstruction.Parts[0].Text, "tags")
}

func TestBackend_ContentTaggingFramesSeededHistory(t *testing.T) {
	f := &fakeStream{responses: []*genai.GenerateContentResponse{chunk("go", "STOP")}}
	history := transcript.New(
		transcript.Instructions("You are helpful."),
		transcript.Prompt("q"),
		transcript.Response("a"),
	)
	s := newSession(t, f, backend.SessionConfig{
		UseCase:      backend.UseCaseContentTagging,
		Instructions: "You are helpful.",
	}, history)

	_, err := drain(s.Stream(context.Background(), "content", 0))
	require.NoError(t, err)
	assert.Equal(t, "You are helpful.\n\n"+taggingInstructions, f.config.SystemInstruction.Parts[0].Text)
	assert.Len(t, f.contents, 3)
}
