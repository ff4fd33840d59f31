// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// DefaultMaxHistory is the capacity used when a Store is created with a
// non-positive size.
const DefaultMaxHistory = 10

// =============================================================================
// MESSAGE STORE
// =============================================================================

// Store is a fixed-capacity, insertion-ordered message log. When full, the
// next Append evicts the oldest message. Nothing is ever reordered.
//
// A Store is not safe for concurrent use; its owner serializes access.
type Store struct {
	buf   []Message // ring buffer, len(buf) == capacity
	start int       // index of the oldest message
	size  int
	last  time.Time
	now   func() time.Time
}

// NewStore creates an empty store holding at most maxHistory messages.
func NewStore(maxHistory int) *Store {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &Store{
		buf: make([]Message, maxHistory),
		now: time.Now,
	}
}

// Append records a message, evicting the oldest one when the store is full.
// Timestamps never go backwards: a clock step back reuses the previous
// timestamp.
func (s *Store) Append(role Role, content string) Message {
	ts := s.now()
	if ts.Before(s.last) {
		ts = s.last
	}
	msg := Message{Role: role, Content: content, Timestamp: ts}
	s.push(msg)
	return msg
}

func (s *Store) push(msg Message) {
	capacity := len(s.buf)
	if s.size < capacity {
		s.buf[(s.start+s.size)%capacity] = msg
		s.size++
	} else {
		s.buf[s.start] = msg
		s.start = (s.start + 1) % capacity
	}
	s.last = msg.Timestamp
}

// Recent returns the newest min(n, Count()) messages, oldest first. The
// returned slice is a copy.
func (s *Store) Recent(n int) []Message {
	if n <= 0 || s.size == 0 {
		return []Message{}
	}
	if n > s.size {
		n = s.size
	}
	out := make([]Message, n)
	capacity := len(s.buf)
	first := s.size - n
	for i := 0; i < n; i++ {
		out[i] = s.buf[(s.start+first+i)%capacity]
	}
	return out
}

// Snapshot returns every stored message, oldest first.
func (s *Store) Snapshot() []Message {
	return s.Recent(s.size)
}

// Count returns the number of stored messages.
func (s *Store) Count() int {
	return s.size
}

// Cap returns the store's capacity.
func (s *Store) Cap() int {
	return len(s.buf)
}

// Last returns the newest message, if any.
func (s *Store) Last() (Message, bool) {
	if s.size == 0 {
		return Message{}, false
	}
	return s.buf[(s.start+s.size-1)%len(s.buf)], true
}

// Clear empties the store.
func (s *Store) Clear() {
	for i := range s.buf {
		s.buf[i] = Message{}
	}
	s.start = 0
	s.size = 0
}

// Restore replaces the contents with msgs, keeping the newest Cap() of them.
// Messages with unknown roles are dropped. Timestamps are clamped so the
// sequence stays non-decreasing.
func (s *Store) Restore(msgs []Message) {
	s.Clear()
	s.last = time.Time{}
	for _, m := range msgs {
		if !m.Role.Valid() {
			continue
		}
		if m.Timestamp.Before(s.last) {
			m.Timestamp = s.last
		}
		s.push(m)
	}
}
