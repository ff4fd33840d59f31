// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/rigchat/internal/transcript"
)

// =============================================================================
// STUB BACKEND
// =============================================================================

// RespondFunc scripts a stub reply. call counts Stream calls across all
// sessions of the stub, starting at 1. It returns the snapshots to stream
// and an optional error yielded after them.
type RespondFunc func(call int, prompt string) ([]string, error)

// StubConfig configures a Stub.
type StubConfig struct {
	// Availability is returned by Availability (default: available).
	Availability *Availability

	// Respond produces each reply (default: EchoResponder).
	Respond RespondFunc

	// Delay is slept before each snapshot.
	Delay time.Duration

	// Gate, when set, must deliver a value before each snapshot is yielded.
	Gate <-chan struct{}

	// NewSessionErr makes NewSession fail.
	NewSessionErr error
}

// Stub is an in-process backend with scripted output. It backs tests and the
// offline "echo" backend.
type Stub struct {
	cfg StubConfig

	mu       sync.Mutex
	calls    int
	prewarms int
	sessions []*StubSession
}

// NewStub creates a stub backend.
func NewStub(cfg *StubConfig) *Stub {
	if cfg == nil {
		cfg = &StubConfig{}
	}
	c := *cfg
	if c.Respond == nil {
		c.Respond = EchoResponder
	}
	return &Stub{cfg: c}
}

// EchoResponder replies "Echo: <prompt>", one word per snapshot.
func EchoResponder(_ int, prompt string) ([]string, error) {
	return WordSnapshots("Echo: " + prompt), nil
}

// WordSnapshots splits text into cumulative snapshots at spaces, so
// "a b c" becomes "a", "a b", "a b c".
func WordSnapshots(text string) []string {
	words := strings.SplitAfter(text, " ")
	out := make([]string, 0, len(words))
	var b strings.Builder
	for _, w := range words {
		if w == "" {
			continue
		}
		b.WriteString(w)
		out = append(out, b.String())
	}
	return out
}

// Name implements Backend.
func (s *Stub) Name() string {
	return "echo"
}

// Availability implements Backend.
func (s *Stub) Availability(context.Context) Availability {
	if s.cfg.Availability != nil {
		return *s.cfg.Availability
	}
	return Available()
}

// NewSession implements Backend.
func (s *Stub) NewSession(_ context.Context, cfg SessionConfig, history transcript.Transcript) (Session, error) {
	if s.cfg.NewSessionErr != nil {
		return nil, s.cfg.NewSessionErr
	}
	if history.Len() == 0 {
		history = transcript.New(transcript.Instructions(cfg.Instructions))
	}
	sess := &StubSession{
		id:     "stub_" + uuid.NewString(),
		cfg:    cfg,
		stub:   s,
		script: history,
	}

	s.mu.Lock()
	s.sessions = append(s.sessions, sess)
	s.mu.Unlock()
	return sess, nil
}

// Prewarm implements Backend by counting calls.
func (s *Stub) Prewarm(context.Context, Session) {
	s.mu.Lock()
	s.prewarms++
	s.mu.Unlock()
}

// Calls returns the number of Stream calls so far.
func (s *Stub) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Prewarms returns the number of Prewarm calls so far.
func (s *Stub) Prewarms() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prewarms
}

// Sessions returns every session created, oldest first.
func (s *Stub) Sessions() []*StubSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*StubSession, len(s.sessions))
	copy(out, s.sessions)
	return out
}

func (s *Stub) nextCall() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.calls
}

// StubSession is a Session created by a Stub.
type StubSession struct {
	id   string
	cfg  SessionConfig
	stub *Stub

	mu     sync.Mutex
	script transcript.Transcript
	temps  []float64
}

// ID implements Session.
func (ss *StubSession) ID() string {
	return ss.id
}

// Config returns the configuration the session was created with.
func (ss *StubSession) Config() SessionConfig {
	return ss.cfg
}

// Temperatures returns the temperature passed to each Stream call.
func (ss *StubSession) Temperatures() []float64 {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	out := make([]float64, len(ss.temps))
	copy(out, ss.temps)
	return out
}

// Transcript implements Session.
func (ss *StubSession) Transcript() transcript.Transcript {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.script
}

// Stream implements Session.
func (ss *StubSession) Stream(ctx context.Context, prompt string, temperature float64) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		call := ss.stub.nextCall()
		ss.mu.Lock()
		ss.temps = append(ss.temps, temperature)
		ss.mu.Unlock()

		snapshots, failure := ss.stub.cfg.Respond(call, prompt)
		last := ""
		for _, snap := range snapshots {
			if err := ss.wait(ctx); err != nil {
				yield("", err)
				return
			}
			if !yield(snap, nil) {
				return
			}
			last = snap
		}
		if failure != nil {
			yield("", failure)
			return
		}

		ss.mu.Lock()
		ss.script = ss.script.Append(transcript.Prompt(prompt), transcript.Response(last))
		ss.mu.Unlock()
	}
}

func (ss *StubSession) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if gate := ss.stub.cfg.Gate; gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if d := ss.stub.cfg.Delay; d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
