// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transcript models a backend's own record of a dialogue and
// condenses it when the backend runs out of context window.
package transcript

// =============================================================================
// ENTRY TYPES
// =============================================================================

// Kind classifies a transcript entry.
type Kind string

const (
	KindInstructions Kind = "instructions"
	KindPrompt       Kind = "prompt"
	KindResponse     Kind = "response"
)

// Entry is one item in a transcript. Backends decide what goes in Text; the
// session layer never inspects it.
type Entry struct {
	Kind Kind
	Text string
}

// Instructions, Prompt and Response build entries of the matching kind.
func Instructions(text string) Entry { return Entry{Kind: KindInstructions, Text: text} }
func Prompt(text string) Entry       { return Entry{Kind: KindPrompt, Text: text} }
func Response(text string) Entry     { return Entry{Kind: KindResponse, Text: text} }

// =============================================================================
// TRANSCRIPT
// =============================================================================

// Transcript is an immutable ordered sequence of entries. Every method that
// changes it returns a new value.
type Transcript struct {
	entries []Entry
}

// New builds a transcript from entries, copying them.
func New(entries ...Entry) Transcript {
	return Transcript{entries: clone(entries)}
}

// Len returns the number of entries.
func (t Transcript) Len() int {
	return len(t.entries)
}

// At returns entry i. It panics when i is out of range, like slice indexing.
func (t Transcript) At(i int) Entry {
	return t.entries[i]
}

// Entries returns a copy of all entries in order.
func (t Transcript) Entries() []Entry {
	return clone(t.entries)
}

// Append returns a new transcript with entries added at the end.
func (t Transcript) Append(entries ...Entry) Transcript {
	out := make([]Entry, 0, len(t.entries)+len(entries))
	out = append(out, t.entries...)
	out = append(out, entries...)
	return Transcript{entries: out}
}

// Slice returns entries [from, to) as a new transcript.
func (t Transcript) Slice(from, to int) Transcript {
	return Transcript{entries: clone(t.entries[from:to])}
}

// TextLen returns the total number of bytes of entry text, a rough size
// measure for status output.
func (t Transcript) TextLen() int {
	n := 0
	for _, e := range t.entries {
		n += len(e.Text)
	}
	return n
}

func clone(entries []Entry) []Entry {
	if len(entries) == 0 {
		return nil
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}
