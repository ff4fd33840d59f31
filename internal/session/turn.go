// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"iter"

	"go.uber.org/zap"

	"github.com/jeranaias/rigchat/internal/backend"
	"github.com/jeranaias/rigchat/internal/stream"
)

// Turn is one response being generated. Consume it with Deltas or wait for
// it with Result; a Turn is not safe for concurrent use.
type Turn struct {
	c           *Controller
	ctx         context.Context
	prompt      string
	sess        backend.Session
	temperature float64
	acc         *stream.Accumulator

	started  bool
	finished bool
	text     string
	err      error
}

// Prompt returns the user message that started the turn.
func (t *Turn) Prompt() string {
	return t.prompt
}

// SessionID returns the handle of the session the turn runs on.
func (t *Turn) SessionID() string {
	return t.sess.ID()
}

// Deltas yields the reply as it is generated, one new piece of text at a
// time. The sequence can be ranged over only once. Stopping early abandons
// the turn, which then reports CategoryCanceled.
func (t *Turn) Deltas() iter.Seq[string] {
	return func(yield func(string) bool) {
		if t.started {
			return
		}
		t.started = true
		defer t.finish()

		for delta := range t.acc.Consume(t.sess.Stream(t.ctx, t.prompt, t.temperature)) {
			if delta == "" {
				continue
			}
			if !yield(delta) {
				return
			}
		}
	}
}

// Result drains the turn if needed and returns the final reply. On a
// CategoryFailed error the partial reply is returned alongside it; every
// other failure returns an empty string.
func (t *Turn) Result() (string, error) {
	if !t.started {
		for range t.Deltas() {
		}
	}
	return t.text, t.err
}

// Err returns the turn's failure once it has finished.
func (t *Turn) Err() error {
	return t.err
}

// Stats returns streaming statistics for the turn.
func (t *Turn) Stats() *stream.Stats {
	return t.acc.Stats()
}

func (t *Turn) finish() {
	if t.finished {
		return
	}
	t.finished = true

	c := t.c
	err := t.acc.Err()
	log := c.log.With(zap.String("session", t.sess.ID()))

	switch {
	case !t.acc.Done():
		t.err = &TurnError{Category: CategoryCanceled, Message: "response abandoned"}
		c.endTurn()

	case err == nil:
		t.text = t.acc.FinalText()
		c.completeTurn(t.text)
		log.Debug("turn complete",
			zap.Int("chars", len(t.text)),
			zap.Duration("ttft", t.acc.Stats().TTFT()),
			zap.Duration("duration", t.acc.Stats().Duration()),
		)

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), backend.KindOf(err) == backend.KindUnknown && t.ctx.Err() != nil:
		msg := "response canceled"
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "response timed out"
		}
		t.err = &TurnError{Category: CategoryCanceled, Message: msg, Cause: err}
		c.endTurn()

	default:
		te := translate(err)
		if te.Category == CategoryOverflow {
			if rerr := c.recoverOverflow(t.ctx, t.sess); rerr != nil {
				te = &TurnError{
					Category: CategoryFailed,
					Kind:     backend.KindContextOverflow,
					Message:  "context window exceeded and the session could not be rebuilt: " + rerr.Error(),
					Cause:    err,
				}
			}
		}
		if te.Category == CategoryFailed {
			t.text = t.acc.FinalText()
		}
		t.err = te
		log.Warn("turn failed",
			zap.Stringer("category", te.Category),
			zap.Stringer("kind", te.Kind),
			zap.Error(err),
		)
		c.endTurn()
	}
}
