// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"iter"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeranaias/rigchat/internal/backend"
	"github.com/jeranaias/rigchat/internal/transcript"
)

// =============================================================================
// BACKEND
// =============================================================================

// TaggingInstructions frame content-tagging sessions.
const TaggingInstructions = "Reply only with a comma-separated list of short, lowercase topic tags for the content you are given."

// BackendConfig configures the Ollama backend.
type BackendConfig struct {
	// TaggingModel is used for content-tagging sessions when set.
	TaggingModel string

	Logger *zap.Logger
}

// Backend adapts a Client to backend.Backend.
type Backend struct {
	client *Client
	cfg    BackendConfig
	log    *zap.Logger
}

var _ backend.Backend = (*Backend)(nil)

// NewBackend wraps client.
func NewBackend(client *Client, config *BackendConfig) *Backend {
	var cfg BackendConfig
	if config != nil {
		cfg = *config
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Backend{client: client, cfg: cfg, log: cfg.Logger.Named("ollama")}
}

// Name implements backend.Backend.
func (b *Backend) Name() string {
	return "ollama"
}

// Client returns the underlying API client.
func (b *Backend) Client() *Client {
	return b.client
}

// Availability pings the server and checks that the default model is
// installed.
func (b *Backend) Availability(ctx context.Context) backend.Availability {
	base := b.client.Config().BaseURL
	if err := b.client.CheckRunning(ctx); err != nil {
		if IsNotRunning(err) {
			return backend.Unavailable(backend.ReasonFeatureDisabled,
				"Ollama is not running at "+base+"; start it with 'ollama serve'")
		}
		if IsTimeout(err) {
			return backend.Unavailable(backend.ReasonOther,
				"Ollama at "+base+" did not answer in time")
		}
		return backend.Unavailable(backend.ReasonOther, err.Error())
	}

	model := b.client.Config().DefaultModel
	if _, err := b.client.GetModel(ctx, model); err != nil {
		if IsModelNotFound(err) {
			return backend.Unavailable(backend.ReasonModelNotReady,
				"model "+model+" is not installed; run 'ollama pull "+model+"'")
		}
		return backend.Unavailable(backend.ReasonOther, err.Error())
	}
	return backend.Available()
}

// NewSession implements backend.Backend. Sessions live entirely on the
// client side; Ollama itself is stateless between requests.
func (b *Backend) NewSession(_ context.Context, cfg backend.SessionConfig, history transcript.Transcript) (backend.Session, error) {
	model := cfg.Model
	framing := ""
	if cfg.UseCase == backend.UseCaseContentTagging {
		if model == "" {
			model = b.cfg.TaggingModel
		}
		framing = TaggingInstructions
	}
	history = backend.SessionTranscript(history, cfg.Instructions, framing)

	s := &Session{
		id:      "ollama_" + uuid.NewString(),
		model:   model,
		client:  b.client,
		log:     b.log,
		history: history,
	}
	b.log.Debug("session created", zap.String("session", s.id), zap.String("model", b.client.model(model)), zap.Int("entries", history.Len()))
	return s, nil
}

// Prewarm loads the session's model into server memory.
func (b *Backend) Prewarm(ctx context.Context, s backend.Session) {
	sess, ok := s.(*Session)
	if !ok {
		return
	}
	if err := b.client.Load(ctx, sess.model); err != nil {
		b.log.Debug("prewarm failed", zap.Error(err))
	}
}

// =============================================================================
// SESSION
// =============================================================================

// Session is a client-side Ollama dialogue.
type Session struct {
	id     string
	model  string
	client *Client
	log    *zap.Logger

	mu      sync.Mutex
	history transcript.Transcript
}

// ID implements backend.Session.
func (s *Session) ID() string {
	return s.id
}

// Model returns the model the session chats with ("" means the client
// default).
func (s *Session) Model() string {
	return s.model
}

// Transcript implements backend.Session.
func (s *Session) Transcript() transcript.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history
}

// Stream implements backend.Session. Ollama sends each chunk as a delta;
// they are accumulated here into full-text-so-far snapshots.
func (s *Session) Stream(ctx context.Context, prompt string, temperature float64) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		temp := backend.ClampTemperature(temperature)
		req := ChatRequest{
			Model:    s.model,
			Messages: append(toMessages(s.Transcript()), Message{Role: "user", Content: prompt}),
			Options:  &Options{Temperature: &temp},
		}

		var text strings.Builder
		for chunk, err := range s.client.ChatStream(ctx, req) {
			if err != nil {
				yield("", classify(err))
				return
			}
			if chunk.Content != "" {
				text.WriteString(chunk.Content)
				if !yield(text.String(), nil) {
					return
				}
			}
			if chunk.Done {
				s.log.Debug("stream complete",
					zap.String("session", s.id),
					zap.Int("completion_tokens", chunk.CompletionTokens),
					zap.Float64("tokens_per_second", chunk.TokensPerSecond()),
				)
				if overflowed(chunk, s.client.Config().NumCtx) {
					yield("", backend.NewError(backend.KindContextOverflow, "response stopped at the context limit", nil))
					return
				}
				break
			}
		}

		s.mu.Lock()
		s.history = s.history.Append(transcript.Prompt(prompt), transcript.Response(text.String()))
		s.mu.Unlock()
	}
}

// toMessages renders a transcript as chat messages.
func toMessages(t transcript.Transcript) []Message {
	msgs := make([]Message, 0, t.Len()+1)
	for _, e := range t.Entries() {
		switch e.Kind {
		case transcript.KindInstructions:
			if e.Text != "" {
				msgs = append(msgs, Message{Role: "system", Content: e.Text})
			}
		case transcript.KindPrompt:
			msgs = append(msgs, Message{Role: "user", Content: e.Text})
		case transcript.KindResponse:
			msgs = append(msgs, Message{Role: "assistant", Content: e.Text})
		}
	}
	return msgs
}
