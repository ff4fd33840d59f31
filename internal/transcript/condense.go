// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transcript

// DefaultKeepRecent is how many trailing entries survive condensation.
const DefaultKeepRecent = 6

// =============================================================================
// CONDENSATION
// =============================================================================

// Condense returns the first entry followed by the last keepRecent entries,
// in their original order. The first entry is never included twice. When
// len(entries) <= keepRecent+1 the input is returned unchanged (as a copy).
//
// keepRecent < 0 is treated as 0.
func Condense[E any](entries []E, keepRecent int) []E {
	if keepRecent < 0 {
		keepRecent = 0
	}
	if len(entries) <= keepRecent+1 {
		out := make([]E, len(entries))
		copy(out, entries)
		return out
	}

	tailStart := len(entries) - keepRecent
	out := make([]E, 0, keepRecent+1)
	out = append(out, entries[0])
	// tailStart >= 2 here, so entry 0 is never inside the tail.
	out = append(out, entries[tailStart:]...)
	return out
}

// CondenserConfig holds configuration for a Condenser.
type CondenserConfig struct {
	// KeepRecent is the number of trailing entries kept (default: 6)
	KeepRecent int
}

// DefaultCondenserConfig returns default configuration.
func DefaultCondenserConfig() *CondenserConfig {
	return &CondenserConfig{KeepRecent: DefaultKeepRecent}
}

// Condenser applies Condense to transcripts with a fixed KeepRecent.
type Condenser struct {
	keepRecent int
}

// Result describes one condensation.
type Result struct {
	Transcript Transcript
	// Dropped is how many entries were removed.
	Dropped int
}

// WasCondensed reports whether any entry was removed.
func (r Result) WasCondensed() bool {
	return r.Dropped > 0
}

// NewCondenser creates a condenser. A nil config or a non-positive
// KeepRecent falls back to DefaultKeepRecent.
func NewCondenser(config *CondenserConfig) *Condenser {
	if config == nil {
		config = DefaultCondenserConfig()
	}
	keep := config.KeepRecent
	if keep <= 0 {
		keep = DefaultKeepRecent
	}
	return &Condenser{keepRecent: keep}
}

// KeepRecent returns the configured tail length.
func (c *Condenser) KeepRecent() int {
	return c.keepRecent
}

// Condense reduces t to its first entry plus the last KeepRecent entries.
func (c *Condenser) Condense(t Transcript) Result {
	kept := Condense(t.entries, c.keepRecent)
	return Result{
		Transcript: Transcript{entries: kept},
		Dropped:    t.Len() - len(kept),
	}
}
