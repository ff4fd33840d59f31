// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transcript

import (
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ints(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// =============================================================================
// CONDENSE TESTS
// =============================================================================

func TestCondense_KeepsFirstAndTail(t *testing.T) {
	got := Condense(ints(12), 6)
	want := []int{0, 6, 7, 8, 9, 10, 11}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Condense mismatch (-want +got):\n%s", diff)
	}
}

func TestCondense_ShortInputUnchanged(t *testing.T) {
	for n := 0; n <= 7; n++ {
		in := ints(n)
		got := Condense(in, 6)
		if diff := cmp.Diff(in, got); diff != "" {
			t.Errorf("n=%d: short input changed (-want +got):\n%s", n, diff)
		}
	}
}

func TestCondense_Properties(t *testing.T) {
	for _, k := range []int{0, 1, 3, 6} {
		for n := 1; n <= 40; n++ {
			in := ints(n)
			once := Condense(in, k)

			if once[0] != 0 {
				t.Fatalf("k=%d n=%d: first entry dropped", k, n)
			}
			if len(once) > k+1 {
				t.Fatalf("k=%d n=%d: len = %d, want <= %d", k, n, len(once), k+1)
			}
			for i := 1; i < len(once); i++ {
				if once[i] <= once[i-1] {
					t.Fatalf("k=%d n=%d: order or duplicate violated at %d: %v", k, n, i, once)
				}
			}

			twice := Condense(once, k)
			if diff := cmp.Diff(once, twice); diff != "" {
				t.Fatalf("k=%d n=%d: not idempotent (-once +twice):\n%s", k, n, diff)
			}
		}
	}
}

func TestCondense_DoesNotAliasInput(t *testing.T) {
	in := ints(3)
	got := Condense(in, 6)
	got[0] = 99
	if in[0] != 0 {
		t.Error("Condense result shares storage with its input")
	}
}

func TestCondense_NegativeKeep(t *testing.T) {
	got := Condense(ints(5), -3)
	if diff := cmp.Diff([]int{0}, got); diff != "" {
		t.Errorf("negative keep (-want +got):\n%s", diff)
	}
}

// =============================================================================
// CONDENSER TESTS
// =============================================================================

func buildTranscript(turns int) Transcript {
	t := New(Instructions("be brief"))
	for i := 0; i < turns; i++ {
		t = t.Append(Prompt("q"+strconv.Itoa(i)), Response("a"+strconv.Itoa(i)))
	}
	return t
}

func TestCondenser_Result(t *testing.T) {
	c := NewCondenser(nil)
	require.Equal(t, DefaultKeepRecent, c.KeepRecent())

	tr := buildTranscript(5) // 11 entries
	res := c.Condense(tr)

	assert.True(t, res.WasCondensed())
	assert.Equal(t, 4, res.Dropped)
	require.Equal(t, 7, res.Transcript.Len())
	assert.Equal(t, Instructions("be brief"), res.Transcript.At(0))
	assert.Equal(t, Prompt("q2"), res.Transcript.At(1))
	assert.Equal(t, Response("a4"), res.Transcript.At(6))

	// The source transcript is untouched.
	assert.Equal(t, 11, tr.Len())
}

func TestCondenser_NoOp(t *testing.T) {
	c := NewCondenser(&CondenserConfig{KeepRecent: 6})
	res := c.Condense(buildTranscript(3)) // 7 entries

	assert.False(t, res.WasCondensed())
	assert.Equal(t, 7, res.Transcript.Len())
}

func TestCondenser_ZeroConfigUsesDefault(t *testing.T) {
	c := NewCondenser(&CondenserConfig{})
	assert.Equal(t, DefaultKeepRecent, c.KeepRecent())
}

// =============================================================================
// TRANSCRIPT TESTS
// =============================================================================

func TestTranscript_AppendIsImmutable(t *testing.T) {
	base := New(Instructions("sys"))
	a := base.Append(Prompt("one"))
	b := base.Append(Prompt("two"))

	assert.Equal(t, 1, base.Len())
	assert.Equal(t, "one", a.At(1).Text)
	assert.Equal(t, "two", b.At(1).Text)
}

func TestTranscript_EntriesCopy(t *testing.T) {
	tr := New(Prompt("x"))
	entries := tr.Entries()
	entries[0].Text = "changed"
	assert.Equal(t, "x", tr.At(0).Text)
	assert.Equal(t, 1, tr.TextLen())
	assert.Equal(t, 0, New().Len())
	assert.Equal(t, 1, tr.Slice(0, 1).Len())
}
