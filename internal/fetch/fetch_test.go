// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package fetch

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<!DOCTYPE html>
<html><head>
<title>  Sample   Page </title>
<meta name="description" content="A test page">
<meta property="og:title" content="Sample">
<script src="/app.js"></script>
<style>body { color: red; }</style>
</head>
<body>
<nav><a href="/home">Home</a></nav>
<h1>Welcome</h1>
<p>Hello <strong>bold</strong> world.</p>
<script>var hidden = "nope";</script>
<ul><li>one</li><li>two</li></ul>
<p><a href="https://example.org/x">External</a> and <a href="#top">anchor</a>.</p>
</body></html>`

// =============================================================================
// EXTRACTION TESTS
// =============================================================================

func TestExtract(t *testing.T) {
	base, _ := url.Parse("https://example.com/docs/")
	doc, err := Extract(samplePage, base)
	require.NoError(t, err)

	assert.Equal(t, "Sample Page", doc.Title)
	assert.Equal(t, "A test page", doc.Metadata["description"])
	assert.Equal(t, "Sample", doc.Metadata["og:title"])
	assert.Equal(t, []string{"https://example.com/app.js"}, doc.Scripts)
	assert.Equal(t, []string{"https://example.com/home", "https://example.org/x"}, doc.Links)

	assert.Contains(t, doc.Text, "Welcome")
	assert.Contains(t, doc.Text, "Hello bold world.")
	assert.Contains(t, doc.Text, "- one")
	assert.NotContains(t, doc.Text, "hidden")
	assert.NotContains(t, doc.Text, "color: red")
	assert.NotContains(t, doc.Text, "Sample Page", "title is not body text")

	assert.Contains(t, doc.Markdown, "# Welcome")
	assert.Contains(t, doc.Markdown, "**bold**")
	assert.Contains(t, doc.Markdown, "[External](https://example.org/x)")
	assert.NotContains(t, doc.Markdown, "\n\n\n")
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
		err  bool
	}{
		{"", ModeText, false},
		{"TEXT", ModeText, false},
		{"md", ModeMarkdown, false},
		{"markdown", ModeMarkdown, false},
		{"html", ModeHTML, false},
		{"json", ModeJSON, false},
		{"pdf", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.err {
			t.Errorf("ParseMode(%q) error = %v, want error %v", tt.in, err, tt.err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRender(t *testing.T) {
	p := &PageResult{Title: "T", URL: "https://x.test", Text: "body"}

	text, err := Render(p, ModeText)
	require.NoError(t, err)
	assert.Equal(t, "Title: T\nURL: https://x.test\n\nbody", text)

	md, err := Render(p, ModeMarkdown)
	require.NoError(t, err)
	assert.Equal(t, "# T\n\n<https://x.test>\n\nbody", md)

	js, err := Render(p, ModeJSON)
	require.NoError(t, err)
	assert.Contains(t, js, `"title": "T"`)
}

// =============================================================================
// GUARD TESTS
// =============================================================================

func TestGuard_ValidateURL(t *testing.T) {
	tests := []struct {
		url  string
		want error
	}{
		{"https://example.com/page", nil},
		{"ftp://example.com", ErrInvalidScheme},
		{"file:///etc/passwd", ErrInvalidScheme},
		{"http://", ErrInvalidURL},
		{"http://localhost:8080", ErrBlockedHost},
		{"http://metadata.google.internal/computeMetadata", ErrBlockedHost},
		{"http://127.0.0.1", ErrBlockedIP},
		{"http://10.1.2.3", ErrBlockedIP},
		{"http://169.254.169.254/latest", ErrBlockedIP},
		{"http://[::1]", ErrBlockedIP},
	}
	for _, tt := range tests {
		_, err := Guard{}.ValidateURL(tt.url)
		if !errors.Is(err, tt.want) {
			t.Errorf("ValidateURL(%q) = %v, want %v", tt.url, err, tt.want)
		}
	}

	_, err := Guard{AllowPrivate: true}.ValidateURL("http://127.0.0.1:9")
	assert.NoError(t, err)
}

func TestGuard_ValidateResolved(t *testing.T) {
	ctx := context.Background()

	_, err := Guard{}.ValidateResolved(ctx, "http://10.0.0.5/admin")
	assert.ErrorIs(t, err, ErrBlockedIP)

	u, err := Guard{}.ValidateResolved(ctx, "http://93.184.216.34/page")
	require.NoError(t, err)
	assert.Equal(t, "93.184.216.34", u.Hostname())

	_, err = Guard{AllowPrivate: true}.ValidateResolved(ctx, "http://10.0.0.5/admin")
	assert.NoError(t, err)
}

func TestRodFetcher_CheckLanding(t *testing.T) {
	ctx := context.Background()
	f := NewRodFetcher(nil)

	assert.NoError(t, f.checkLanding(ctx, "https://example.com/", "https://example.com/"))
	assert.NoError(t, f.checkLanding(ctx, "https://example.com/", ""))
	assert.ErrorIs(t, f.checkLanding(ctx, "https://example.com/", "http://169.254.169.254/latest/meta-data"), ErrBlockedIP)
	assert.ErrorIs(t, f.checkLanding(ctx, "https://example.com/", "http://localhost:8080/"), ErrBlockedHost)
	assert.ErrorIs(t, f.checkLanding(ctx, "https://example.com/", "file:///etc/passwd"), ErrInvalidScheme)

	open := NewRodFetcher(&RodConfig{AllowPrivate: true})
	assert.NoError(t, open.checkLanding(ctx, "https://example.com/", "http://127.0.0.1:9/"))
}

func TestIsBlockedIP(t *testing.T) {
	assert.True(t, IsBlockedIP(net.ParseIP("192.168.1.1")))
	assert.True(t, IsBlockedIP(net.ParseIP("::ffff:10.0.0.1")))
	assert.False(t, IsBlockedIP(net.ParseIP("8.8.8.8")))
}

// =============================================================================
// HTTP FETCHER TESTS
// =============================================================================

func newTestFetcher(t *testing.T, h http.HandlerFunc) (*HTTPFetcher, string) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPFetcher(&HTTPConfig{AllowPrivate: true, MaxBodySize: 1024}), srv.URL
}

func TestHTTPFetcher_HTML(t *testing.T) {
	f, base := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, `<html><head><title>Hi</title></head><body><h2>Head</h2><p>Body text</p></body></html>`)
	})

	page, err := f.Fetch(context.Background(), Request{URL: base + "/page"})
	require.NoError(t, err)
	assert.Equal(t, "Hi", page.Title)
	assert.Equal(t, "Head\n\nBody text", page.Text)
	assert.Equal(t, "text/html", page.ContentType)

	md, err := f.Fetch(context.Background(), Request{URL: base, Mode: ModeMarkdown})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(md.Text, "## Head"), "markdown = %q", md.Text)

	raw, err := f.Fetch(context.Background(), Request{URL: base, Mode: ModeHTML})
	require.NoError(t, err)
	assert.Contains(t, raw.Text, "<h2>Head</h2>")
	assert.Equal(t, "Hi", raw.Title)
}

func TestHTTPFetcher_PlainBodies(t *testing.T) {
	f, base := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/json":
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"a":1}`)
		case "/bin":
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Write([]byte{0, 1, 2})
		default:
			w.Header().Set("Content-Type", "text/plain")
			io.WriteString(w, "plain")
		}
	})

	page, err := f.Fetch(context.Background(), Request{URL: base + "/json"})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, page.Text)

	page, err = f.Fetch(context.Background(), Request{URL: base + "/txt"})
	require.NoError(t, err)
	assert.Equal(t, "plain", page.Text)

	_, err = f.Fetch(context.Background(), Request{URL: base + "/bin"})
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestHTTPFetcher_Errors(t *testing.T) {
	f, base := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/big":
			w.Header().Set("Content-Type", "text/plain")
			io.WriteString(w, strings.Repeat("x", 2048))
		case "/loop":
			http.Redirect(w, r, "/loop", http.StatusFound)
		}
	})

	_, err := f.Fetch(context.Background(), Request{URL: base + "/missing"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)

	_, err = f.Fetch(context.Background(), Request{URL: base + "/big"})
	assert.ErrorIs(t, err, ErrResponseTooLarge)

	_, err = f.Fetch(context.Background(), Request{URL: base + "/loop"})
	assert.ErrorIs(t, err, ErrTooManyRedirects)
}

func TestHTTPFetcher_BlocksPrivateByDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not reach a private address")
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(nil).Fetch(context.Background(), Request{URL: srv.URL})
	assert.ErrorIs(t, err, ErrBlockedIP)
}

func TestHTTPFetcher_RateLimitHonoursContext(t *testing.T) {
	f := NewHTTPFetcher(&HTTPConfig{AllowPrivate: true, RequestsPerSecond: 0.001, Burst: 1})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	_, err := f.Fetch(context.Background(), Request{URL: srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Fetch(ctx, Request{URL: srv.URL})
	assert.Error(t, err)
}
