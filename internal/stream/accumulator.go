// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream converts model output snapshots into display deltas.
//
// Backends report progress as the entire response so far ("H", "He",
// "Hello"). The Accumulator turns that into the newly arrived suffix of each
// snapshot ("H", "e", "llo") and keeps the last snapshot as the final text.
package stream

import (
	"iter"
	"unicode/utf8"
)

// =============================================================================
// STREAM ACCUMULATOR
// =============================================================================

// Accumulator tracks how much of a snapshot stream has been emitted.
// It is single use and not safe for concurrent use.
type Accumulator struct {
	prior    int
	final    string
	err      error
	done     bool
	consumed bool
	stats    *Stats
}

// NewAccumulator creates an accumulator with its clock started.
func NewAccumulator() *Accumulator {
	return &Accumulator{stats: NewStats()}
}

// Next records snapshot and returns the part not yet emitted. A snapshot
// shorter than the previous one yields "" and becomes the new baseline. So
// does a rewritten snapshot whose previous length falls inside a rune: its
// suffix would not be valid UTF-8 on its own.
func (a *Accumulator) Next(snapshot string) string {
	a.final = snapshot
	if len(snapshot) <= a.prior || !utf8.RuneStart(snapshot[a.prior]) {
		a.prior = len(snapshot)
		a.stats.record("")
		return ""
	}

	delta := snapshot[a.prior:]
	a.prior = len(snapshot)
	a.stats.record(delta)
	return delta
}

// Consume returns a lazy sequence of deltas drawn from src. The sequence is
// finite and can be ranged over once; later ranges yield nothing.
//
// When src yields an error the sequence ends, Err returns it, and FinalText
// still returns the last snapshot seen before the failure. Breaking out of the
// range early stops src without marking the accumulator done.
func (a *Accumulator) Consume(src iter.Seq2[string, error]) iter.Seq[string] {
	return func(yield func(string) bool) {
		if a.consumed {
			return
		}
		a.consumed = true

		for snapshot, err := range src {
			if err != nil {
				a.err = err
				break
			}
			if !yield(a.Next(snapshot)) {
				return
			}
		}

		a.done = true
		a.stats.finish()
	}
}

// FinalText returns the last snapshot seen. It is the complete response once
// Done reports true, or the partial response when Err is non-nil.
func (a *Accumulator) FinalText() string {
	return a.final
}

// Err returns the failure that ended the stream, if any.
func (a *Accumulator) Err() error {
	return a.err
}

// Done reports whether the source stream ran to its end (successfully or
// not).
func (a *Accumulator) Done() bool {
	return a.done
}

// Stats returns timing and size information for the stream.
func (a *Accumulator) Stats() *Stats {
	return a.stats
}

// Deltas is a convenience that runs snapshots through a fresh accumulator and
// collects every delta.
func Deltas(snapshots ...string) []string {
	acc := NewAccumulator()
	out := make([]string, 0, len(snapshots))
	for _, s := range snapshots {
		out = append(out, acc.Next(s))
	}
	return out
}

// FromSlice adapts a fixed list of snapshots to a stream source. A non-nil
// err is yielded after the snapshots.
func FromSlice(snapshots []string, err error) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, s := range snapshots {
			if !yield(s, nil) {
				return
			}
		}
		if err != nil {
			yield("", err)
		}
	}
}
