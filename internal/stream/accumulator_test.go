// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
)

func collect(seq func(func(string) bool)) []string {
	var out []string
	for d := range seq {
		out = append(out, d)
	}
	return out
}

// =============================================================================
// DELTA TESTS
// =============================================================================

func TestConsume_Growing(t *testing.T) {
	acc := NewAccumulator()
	got := collect(acc.Consume(FromSlice([]string{"Hi", "Hi there", "Hi there!"}, nil)))

	if diff := cmp.Diff([]string{"Hi", " there", "!"}, got); diff != "" {
		t.Errorf("deltas mismatch (-want +got):\n%s", diff)
	}
	if acc.FinalText() != "Hi there!" {
		t.Errorf("FinalText() = %q, want %q", acc.FinalText(), "Hi there!")
	}
	if !acc.Done() || acc.Err() != nil {
		t.Errorf("Done() = %v, Err() = %v; want true, nil", acc.Done(), acc.Err())
	}
}

func TestConsume_Regressive(t *testing.T) {
	acc := NewAccumulator()
	got := collect(acc.Consume(FromSlice([]string{"Hello", "Hel"}, nil)))

	if diff := cmp.Diff([]string{"Hello", ""}, got); diff != "" {
		t.Errorf("deltas mismatch (-want +got):\n%s", diff)
	}
	if acc.Err() != nil {
		t.Errorf("Err() = %v, want nil", acc.Err())
	}
	if acc.FinalText() != "Hel" {
		t.Errorf("FinalText() = %q, want %q", acc.FinalText(), "Hel")
	}
}

func TestConsume_ConcatenationEqualsFinal(t *testing.T) {
	snapshots := []string{"", "T", "Th", "The ", "The q", "The quick", "The quick brown"}
	acc := NewAccumulator()
	joined := strings.Join(collect(acc.Consume(FromSlice(snapshots, nil))), "")

	if joined != acc.FinalText() {
		t.Errorf("joined deltas = %q, FinalText = %q", joined, acc.FinalText())
	}
}

func TestConsume_FailureKeepsPartial(t *testing.T) {
	boom := errors.New("backend went away")
	acc := NewAccumulator()
	got := collect(acc.Consume(FromSlice([]string{"Par", "Partial"}, boom)))

	if diff := cmp.Diff([]string{"Par", "tial"}, got); diff != "" {
		t.Errorf("deltas mismatch (-want +got):\n%s", diff)
	}
	if !errors.Is(acc.Err(), boom) {
		t.Errorf("Err() = %v, want %v", acc.Err(), boom)
	}
	if acc.FinalText() != "Partial" {
		t.Errorf("FinalText() = %q, want partial text %q", acc.FinalText(), "Partial")
	}
	if !acc.Done() {
		t.Error("Done() should be true after a failed stream ends")
	}
}

func TestConsume_NotRestartable(t *testing.T) {
	acc := NewAccumulator()
	seq := acc.Consume(FromSlice([]string{"a", "ab"}, nil))

	first := collect(seq)
	second := collect(seq)

	if len(first) != 2 {
		t.Fatalf("first range got %d deltas, want 2", len(first))
	}
	if len(second) != 0 {
		t.Errorf("second range got %v, want nothing", second)
	}
}

func TestConsume_EarlyBreakStopsSource(t *testing.T) {
	pulled := 0
	src := func(yield func(string, error) bool) {
		for _, s := range []string{"a", "ab", "abc", "abcd"} {
			pulled++
			if !yield(s, nil) {
				return
			}
		}
	}

	acc := NewAccumulator()
	for d := range acc.Consume(src) {
		if d == "b" {
			break
		}
	}

	if pulled != 2 {
		t.Errorf("source pulled %d times, want 2", pulled)
	}
	if acc.Done() {
		t.Error("Done() should be false after an early break")
	}
	if acc.FinalText() != "ab" {
		t.Errorf("FinalText() = %q, want %q", acc.FinalText(), "ab")
	}
}

func TestNext_MultiByte(t *testing.T) {
	got := Deltas("日", "日本", "日本語!")
	if diff := cmp.Diff([]string{"日", "本", "語!"}, got); diff != "" {
		t.Errorf("deltas mismatch (-want +got):\n%s", diff)
	}
}

func TestNext_RewrittenSnapshotNeverSplitsRune(t *testing.T) {
	acc := NewAccumulator()
	acc.Next("ab")
	// Byte offset 2 falls inside "é" in the rewritten snapshot.
	if d := acc.Next("aé"); d != "" {
		t.Errorf("delta = %q, want empty", d)
	}
	if d := acc.Next("aé!"); d != "!" {
		t.Errorf("delta after rewrite = %q, want %q", d, "!")
	}
	if acc.FinalText() != "aé!" {
		t.Errorf("FinalText() = %q, want %q", acc.FinalText(), "aé!")
	}
}

func TestNext_DeltasNeverRepeatEmittedBytes(t *testing.T) {
	got := Deltas("ab", "a€x", "a€xy")
	emitted := 0
	for _, d := range got {
		if !utf8.ValidString(d) {
			t.Errorf("delta %q is not valid UTF-8", d)
		}
		emitted += len(d)
	}
	if emitted > len("a€xy") {
		t.Errorf("emitted %d bytes for a %d byte response; deltas = %q", emitted, len("a€xy"), got)
	}
}

// =============================================================================
// STATS TESTS
// =============================================================================

func TestStats_Counts(t *testing.T) {
	acc := NewAccumulator()
	collect(acc.Consume(FromSlice([]string{"ab", "ab", "abcd"}, nil)))

	st := acc.Stats()
	if st.Snapshots != 3 {
		t.Errorf("Snapshots = %d, want 3", st.Snapshots)
	}
	if st.Chars != 4 {
		t.Errorf("Chars = %d, want 4", st.Chars)
	}
	if st.EndTime.IsZero() {
		t.Error("EndTime not set after stream end")
	}
	if st.Format() == "" {
		t.Error("Format() returned empty string")
	}
}
