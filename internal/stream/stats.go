// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"fmt"
	"time"
)

// =============================================================================
// STREAM STATISTICS
// =============================================================================

// Stats holds timing collected while a stream is consumed.
type Stats struct {
	StartTime      time.Time
	FirstDeltaTime time.Time
	EndTime        time.Time

	// Snapshots counts every snapshot, including ones with an empty delta.
	Snapshots int
	// Chars counts emitted runes.
	Chars int
}

// NewStats creates Stats with the start time set to now.
func NewStats() *Stats {
	return &Stats{StartTime: time.Now()}
}

func (s *Stats) record(delta string) {
	s.Snapshots++
	if delta == "" {
		return
	}
	if s.FirstDeltaTime.IsZero() {
		s.FirstDeltaTime = time.Now()
	}
	s.Chars += len([]rune(delta))
}

func (s *Stats) finish() {
	if s.EndTime.IsZero() {
		s.EndTime = time.Now()
	}
}

// TTFT is the time from start to the first non-empty delta.
func (s *Stats) TTFT() time.Duration {
	if s.FirstDeltaTime.IsZero() {
		return 0
	}
	return s.FirstDeltaTime.Sub(s.StartTime)
}

// Duration is the time from start to the end of the stream, or to now when
// the stream is still open.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// CharsPerSecond is the output rate over the whole stream.
func (s *Stats) CharsPerSecond() float64 {
	d := s.Duration().Seconds()
	if d <= 0 {
		return 0
	}
	return float64(s.Chars) / d
}

// Format renders the stats as a one-line summary.
func (s *Stats) Format() string {
	return fmt.Sprintf("%s | %d chars | %.1f chars/s | TTFT %dms",
		formatDuration(s.Duration()), s.Chars, s.CharsPerSecond(), s.TTFT().Milliseconds())
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
