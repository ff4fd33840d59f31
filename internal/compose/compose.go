// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package compose turns fetched content into analysis prompts.
//
// Content is NFC-normalized and stripped of control characters, then cut
// to a rune budget at a word boundary with a visible marker so the first
// turn of a conversation does not overflow the model's context window.
package compose

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/rigchat/internal/fetch"
)

const (
	// DefaultMaxChars is the content budget in runes.
	DefaultMaxChars = 4000

	// TruncationMarker is appended when content was cut.
	TruncationMarker = "[... content truncated ...]"

	// DefaultInstruction is the directive used when the user gives none.
	DefaultInstruction = "Summarize the key points of this page."

	// NoContentNotice replaces empty content.
	NoContentNotice = "[no content available: the page could not be fetched or contained no readable text]"
)

// Composer builds prompts with a fixed template.
type Composer struct {
	// MaxChars is the content budget in runes (0 = DefaultMaxChars).
	MaxChars int
}

// New returns a composer with the given budget.
func New(maxChars int) *Composer {
	return &Composer{MaxChars: maxChars}
}

// Compose embeds text followed by instruction.
func Compose(text, instruction string) string {
	return (&Composer{}).Compose(text, instruction)
}

// ComposePage embeds a fetched page with its title and URL.
func ComposePage(p *fetch.PageResult, instruction string) string {
	return (&Composer{}).ComposePage(p, instruction)
}

// Compose embeds text followed by instruction.
func (c *Composer) Compose(text, instruction string) string {
	return c.build("", text, instruction)
}

// ComposePage embeds a fetched page with its title and URL. A nil page
// composes the no-content notice.
func (c *Composer) ComposePage(p *fetch.PageResult, instruction string) string {
	if p == nil {
		return c.build("", "", instruction)
	}
	var header strings.Builder
	if title := Clean(p.Title); title != "" {
		header.WriteString("Title: " + title + "\n")
	}
	if p.URL != "" {
		header.WriteString("URL: " + p.URL + "\n")
	}
	return c.build(header.String(), p.Text, instruction)
}

func (c *Composer) build(header, text, instruction string) string {
	max := c.MaxChars
	if max <= 0 {
		max = DefaultMaxChars
	}

	body := Clean(text)
	if strings.TrimSpace(body) == "" {
		body = NoContentNotice
	} else {
		body = Truncate(body, max)
	}

	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		instruction = DefaultInstruction
	}

	var b strings.Builder
	b.WriteString("The following content was retrieved from the web.\n\n")
	if header != "" {
		b.WriteString(header)
		b.WriteString("\n")
	}
	b.WriteString("--- BEGIN CONTENT ---\n")
	b.WriteString(body)
	b.WriteString("\n--- END CONTENT ---\n\n")
	b.WriteString(instruction)
	return b.String()
}

// Clean NFC-normalizes s and removes control characters other than
// newline and tab.
func Clean(s string) string {
	s = norm.NFC.String(s)
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// Truncate cuts s to at most max runes plus the marker. The cut lands on
// the last whitespace at or before max when one exists in the second half
// of the budget; otherwise it is a hard cut at max.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}

	cut := max
	for i := max; i > max/2; i-- {
		if unicode.IsSpace(runes[i]) {
			cut = i
			break
		}
	}
	return strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace) + "\n" + TruncationMarker
}
