// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package fetch retrieves web pages and reduces them to text a model can
// read.
//
// HTTPFetcher issues plain GET requests. RodFetcher drives a headless
// Chromium so that pages rendered by JavaScript come back complete. Both
// refuse private and metadata addresses unless explicitly allowed.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Mode selects how page content is returned.
type Mode string

const (
	ModeText     Mode = "text"
	ModeMarkdown Mode = "markdown"
	ModeHTML     Mode = "html"
	ModeJSON     Mode = "json"
)

// ParseMode validates an output mode name. The empty string means text.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeText, nil
	case ModeText, ModeMarkdown, ModeHTML, ModeJSON:
		return m, nil
	case "md":
		return ModeMarkdown, nil
	}
	return "", fmt.Errorf("unknown output mode %q (want text, markdown, html or json)", s)
}

// Request describes one fetch.
type Request struct {
	URL  string
	Mode Mode
	// WaitTime is extra settling time after load (rendered fetches only).
	WaitTime time.Duration
	// Timeout bounds the whole fetch; zero uses the fetcher default.
	Timeout time.Duration
}

// PageResult is what a fetch returns. Text holds the content in the
// requested mode (raw HTML for ModeHTML, plain text for ModeText and
// ModeJSON).
type PageResult struct {
	Title       string            `json:"title"`
	URL         string            `json:"url"`
	Text        string            `json:"text"`
	Links       []string          `json:"links,omitempty"`
	Scripts     []string          `json:"scripts,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
}

// Fetcher retrieves pages.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*PageResult, error)
}

// Errors returned by fetchers.
var (
	ErrBlockedIP        = errors.New("IP address is blocked (private/internal range)")
	ErrBlockedHost      = errors.New("hostname is blocked")
	ErrInvalidScheme    = errors.New("only http and https schemes are allowed")
	ErrInvalidURL       = errors.New("invalid URL")
	ErrTooManyRedirects = errors.New("too many redirects")
	ErrResponseTooLarge = errors.New("response body too large")
	ErrUnsupportedType  = errors.New("unsupported content type")
)

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return "HTTP " + e.Status
}

// Render formats a result for display in the given mode.
func Render(p *PageResult, mode Mode) (string, error) {
	if mode == ModeJSON {
		data, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	var b strings.Builder
	if p.Title != "" {
		if mode == ModeMarkdown {
			b.WriteString("# " + p.Title + "\n\n")
		} else {
			b.WriteString("Title: " + p.Title + "\n")
		}
	}
	if mode != ModeMarkdown {
		b.WriteString("URL: " + p.URL + "\n\n")
	} else {
		b.WriteString("<" + p.URL + ">\n\n")
	}
	b.WriteString(p.Text)
	return b.String(), nil
}
