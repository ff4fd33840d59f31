// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gemini is a model backend for the Google Gemini API.
package gemini

import (
	"context"
	"iter"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/jeranaias/rigchat/internal/backend"
	"github.com/jeranaias/rigchat/internal/transcript"
)

// DefaultModel is the model used when none is configured.
const DefaultModel = "gemini-2.5-flash"

// taggingInstructions frame content-tagging sessions.
const taggingInstructions = "Reply only with a comma-separated list of short, lowercase topic tags for the content you are given."

// Config configures the Gemini backend.
type Config struct {
	APIKey string
	Model  string
	// TaggingModel is used for content-tagging sessions when set.
	TaggingModel string
	Logger       *zap.Logger
}

// streamFunc matches genai's Models.GenerateContentStream.
type streamFunc func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]

// Backend implements backend.Backend over the genai SDK. The SDK client is
// created on first use.
type Backend struct {
	cfg Config
	log *zap.Logger

	once      sync.Once
	clientErr error
	generate  streamFunc
	injected  bool
}

var _ backend.Backend = (*Backend)(nil)

// NewBackend creates a Gemini backend.
func NewBackend(config *Config) *Backend {
	var cfg Config
	if config != nil {
		cfg = *config
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Backend{cfg: cfg, log: cfg.Logger.Named("gemini")}
}

func (b *Backend) init(ctx context.Context) error {
	b.once.Do(func() {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  b.cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			b.clientErr = err
			return
		}
		b.generate = client.Models.GenerateContentStream
	})
	return b.clientErr
}

// Name implements backend.Backend.
func (b *Backend) Name() string {
	return "gemini"
}

// Availability implements backend.Backend. Without an API key the feature is
// disabled.
func (b *Backend) Availability(ctx context.Context) backend.Availability {
	if b.cfg.APIKey == "" && !b.injected {
		return backend.Unavailable(backend.ReasonFeatureDisabled,
			"no Gemini API key; set GEMINI_API_KEY or gemini.api_key in the config")
	}
	if err := b.init(ctx); err != nil {
		return backend.Unavailable(backend.ReasonOther, err.Error())
	}
	return backend.Available()
}

// NewSession implements backend.Backend.
func (b *Backend) NewSession(ctx context.Context, cfg backend.SessionConfig, history transcript.Transcript) (backend.Session, error) {
	if err := b.init(ctx); err != nil {
		return nil, backend.NewError(backend.KindUnknown, "gemini client", err)
	}

	model := cfg.Model
	framing := ""
	if cfg.UseCase == backend.UseCaseContentTagging {
		if model == "" {
			model = b.cfg.TaggingModel
		}
		framing = taggingInstructions
	}
	if model == "" {
		model = b.cfg.Model
	}
	history = backend.SessionTranscript(history, cfg.Instructions, framing)

	s := &Session{
		id:       "gemini_" + uuid.NewString(),
		model:    model,
		generate: b.generate,
		history:  history,
	}
	b.log.Debug("session created", zap.String("session", s.id), zap.String("model", model))
	return s, nil
}

// Prewarm implements backend.Backend. Hosted models need no loading.
func (b *Backend) Prewarm(context.Context, backend.Session) {}

// Session is a Gemini dialogue kept on the client side.
type Session struct {
	id       string
	model    string
	generate streamFunc

	mu      sync.Mutex
	history transcript.Transcript
}

// ID implements backend.Session.
func (s *Session) ID() string {
	return s.id
}

// Transcript implements backend.Session.
func (s *Session) Transcript() transcript.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history
}

// Stream implements backend.Session.
func (s *Session) Stream(ctx context.Context, prompt string, temperature float64) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		system, contents := toContents(s.Transcript())
		contents = append(contents, genai.NewContentFromText(prompt, genai.RoleUser))

		temp := float32(backend.ClampTemperature(temperature))
		cfg := &genai.GenerateContentConfig{Temperature: &temp}
		if system != "" {
			cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
		}

		var text strings.Builder
		for resp, err := range s.generate(ctx, s.model, contents, cfg) {
			if err != nil {
				yield("", classifyError(err))
				return
			}
			if piece := responseText(resp); piece != "" {
				text.WriteString(piece)
				if !yield(text.String(), nil) {
					return
				}
			}
			if err := classifyResponse(resp); err != nil {
				yield("", err)
				return
			}
		}

		s.mu.Lock()
		s.history = s.history.Append(transcript.Prompt(prompt), transcript.Response(text.String()))
		s.mu.Unlock()
	}
}

// toContents splits a transcript into the system instruction and the
// dialogue turns.
func toContents(t transcript.Transcript) (string, []*genai.Content) {
	var system string
	contents := make([]*genai.Content, 0, t.Len()+1)
	for _, e := range t.Entries() {
		switch e.Kind {
		case transcript.KindInstructions:
			system = e.Text
		case transcript.KindPrompt:
			contents = append(contents, genai.NewContentFromText(e.Text, genai.RoleUser))
		case transcript.KindResponse:
			contents = append(contents, genai.NewContentFromText(e.Text, genai.RoleModel))
		}
	}
	return system, contents
}
