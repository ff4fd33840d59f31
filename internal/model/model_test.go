// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// =============================================================================
// ROLE TESTS
// =============================================================================

func TestParseRole(t *testing.T) {
	tests := []struct {
		in     string
		want   Role
		wantOK bool
	}{
		{"user", RoleUser, true},
		{" Assistant ", RoleAssistant, true},
		{"SYSTEM", RoleSystem, true},
		{"tool", Role("tool"), false},
		{"", Role(""), false},
	}
	for _, tt := range tests {
		got, ok := ParseRole(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseRole(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestRoleDisplayName(t *testing.T) {
	if RoleUser.DisplayName() != "You" {
		t.Errorf("RoleUser.DisplayName() = %q, want 'You'", RoleUser.DisplayName())
	}
	if RoleAssistant.DisplayName() != "Assistant" {
		t.Errorf("RoleAssistant.DisplayName() = %q", RoleAssistant.DisplayName())
	}
}

// =============================================================================
// STORE TESTS
// =============================================================================

func contents(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func TestStore_BoundHoldsForAnyAppendCount(t *testing.T) {
	for n := 0; n <= 35; n++ {
		s := NewStore(10)
		for i := 0; i < n; i++ {
			s.Append(RoleUser, strconv.Itoa(i))
			if s.Count() > 10 {
				t.Fatalf("after %d appends Count() = %d, want <= 10", i+1, s.Count())
			}
		}

		for k := -1; k <= 12; k++ {
			got := contents(s.Recent(k))

			want := []string{}
			size := n
			if size > 10 {
				size = 10
			}
			take := k
			if take > size {
				take = size
			}
			for i := n - take; i < n && take > 0; i++ {
				want = append(want, strconv.Itoa(i))
			}

			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("n=%d Recent(%d) mismatch (-want +got):\n%s", n, k, diff)
			}
		}
	}
}

func TestStore_EvictsOldestFirst(t *testing.T) {
	s := NewStore(3)
	for _, c := range []string{"a", "b", "c", "d", "e"} {
		s.Append(RoleUser, c)
	}

	if diff := cmp.Diff([]string{"c", "d", "e"}, contents(s.Snapshot())); diff != "" {
		t.Errorf("Snapshot mismatch (-want +got):\n%s", diff)
	}

	last, ok := s.Last()
	if !ok || last.Content != "e" {
		t.Errorf("Last() = (%q, %v), want ('e', true)", last.Content, ok)
	}
}

func TestStore_DefaultCapacity(t *testing.T) {
	if got := NewStore(0).Cap(); got != DefaultMaxHistory {
		t.Errorf("NewStore(0).Cap() = %d, want %d", got, DefaultMaxHistory)
	}
}

func TestStore_Clear(t *testing.T) {
	s := NewStore(4)
	s.Append(RoleUser, "x")
	s.Append(RoleAssistant, "y")
	s.Clear()

	if s.Count() != 0 {
		t.Errorf("Count() after Clear = %d, want 0", s.Count())
	}
	if _, ok := s.Last(); ok {
		t.Error("Last() should report empty after Clear")
	}

	s.Append(RoleUser, "z")
	if diff := cmp.Diff([]string{"z"}, contents(s.Snapshot())); diff != "" {
		t.Errorf("Snapshot after reuse (-want +got):\n%s", diff)
	}
}

func TestStore_TimestampsNonDecreasing(t *testing.T) {
	s := NewStore(5)
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := []time.Time{base, base.Add(time.Second), base.Add(-time.Hour), base.Add(2 * time.Second)}
	i := 0
	s.now = func() time.Time {
		ts := clock[i]
		i++
		return ts
	}

	for range clock {
		s.Append(RoleUser, "m")
	}

	msgs := s.Snapshot()
	for j := 1; j < len(msgs); j++ {
		if msgs[j].Timestamp.Before(msgs[j-1].Timestamp) {
			t.Errorf("timestamp %d (%v) before timestamp %d (%v)", j, msgs[j].Timestamp, j-1, msgs[j-1].Timestamp)
		}
	}
	if !msgs[2].Timestamp.Equal(base.Add(time.Second)) {
		t.Errorf("clamped timestamp = %v, want %v", msgs[2].Timestamp, base.Add(time.Second))
	}
}

func TestStore_RecentReturnsCopy(t *testing.T) {
	s := NewStore(3)
	s.Append(RoleUser, "original")

	got := s.Recent(1)
	got[0].Content = "mutated"

	if s.Snapshot()[0].Content != "original" {
		t.Error("mutating Recent() result changed the store")
	}
}

func TestStore_Restore(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	msgs := []Message{
		{Role: RoleUser, Content: "1", Timestamp: base},
		{Role: Role("tool"), Content: "dropped", Timestamp: base},
		{Role: RoleAssistant, Content: "2", Timestamp: base.Add(time.Minute)},
		{Role: RoleUser, Content: "3", Timestamp: base},
		{Role: RoleAssistant, Content: "4", Timestamp: base.Add(2 * time.Minute)},
	}

	s := NewStore(3)
	s.Append(RoleUser, "stale")
	s.Restore(msgs)

	got := s.Snapshot()
	if diff := cmp.Diff([]string{"2", "3", "4"}, contents(got)); diff != "" {
		t.Errorf("Restore kept wrong messages (-want +got):\n%s", diff)
	}
	if got[1].Timestamp.Before(got[0].Timestamp) {
		t.Errorf("Restore did not clamp timestamps: %v before %v", got[1].Timestamp, got[0].Timestamp)
	}
}
