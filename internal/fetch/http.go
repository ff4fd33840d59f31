// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package fetch

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// =============================================================================
// HTTP FETCHER
// =============================================================================

// HTTPConfig configures an HTTPFetcher.
type HTTPConfig struct {
	// MaxBodySize caps the bytes read from a response (default: 5 MiB).
	MaxBodySize int64
	// Timeout bounds one fetch (default: 30s).
	Timeout time.Duration
	// MaxRedirects is the redirect limit (default: 5).
	MaxRedirects int
	UserAgent    string
	// AllowPrivate permits private and loopback targets.
	AllowPrivate bool
	// RequestsPerSecond throttles outgoing fetches (0 = unlimited).
	RequestsPerSecond float64
	Burst             int

	Logger *zap.Logger
}

// DefaultUserAgent identifies page fetches.
const DefaultUserAgent = "rigchat/1.0 (+https://github.com/jeranaias/rigchat)"

// DefaultHTTPConfig returns the default fetcher configuration.
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		MaxBodySize:  5 << 20,
		Timeout:      30 * time.Second,
		MaxRedirects: 5,
		UserAgent:    DefaultUserAgent,
	}
}

// HTTPFetcher fetches pages with plain HTTP GET requests.
type HTTPFetcher struct {
	cfg     HTTPConfig
	guard   Guard
	client  *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates a fetcher from config; zero fields take defaults.
func NewHTTPFetcher(config *HTTPConfig) *HTTPFetcher {
	defaults := DefaultHTTPConfig()
	var cfg HTTPConfig
	if config != nil {
		cfg = *config
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaults.MaxBodySize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = defaults.MaxRedirects
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.UserAgent
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	f := &HTTPFetcher{
		cfg:   cfg,
		guard: Guard{AllowPrivate: cfg.AllowPrivate},
		log:   cfg.Logger.Named("fetch"),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	f.client = &http.Client{
		Transport: &http.Transport{
			DialContext:         f.guard.dialContext(newDialer()),
			TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= cfg.MaxRedirects {
				return ErrTooManyRedirects
			}
			if _, err := f.guard.ValidateURL(req.URL.String()); err != nil {
				return err
			}
			return nil
		},
	}
	return f
}

// Fetch retrieves req.URL and extracts its content. HTML is parsed; JSON
// and plain-text bodies are returned as they are.
func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (*PageResult, error) {
	target, err := f.guard.ValidateURL(req.URL)
	if err != nil {
		return nil, err
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	httpReq.Header.Set("User-Agent", f.cfg.UserAgent)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/json,text/plain;q=0.9,*/*;q=0.5")

	start := time.Now()
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodySize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > f.cfg.MaxBodySize {
		return nil, ErrResponseTooLarge
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	final := resp.Request.URL
	f.log.Debug("fetched",
		zap.String("url", final.String()),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)))

	result := &PageResult{URL: final.String(), ContentType: mediaType}
	switch {
	case mediaType == "" || mediaType == "text/html" || mediaType == "application/xhtml+xml":
		if req.Mode == ModeHTML {
			result.Text = string(body)
			if doc, err := Extract(string(body), final); err == nil {
				result.Title = doc.Title
			}
			return result, nil
		}
		doc, err := Extract(string(body), final)
		if err != nil {
			return nil, fmt.Errorf("parse HTML: %w", err)
		}
		fill(result, doc, req.Mode)
	case mediaType == "application/json", strings.HasSuffix(mediaType, "+json"), strings.HasPrefix(mediaType, "text/"):
		result.Text = string(body)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mediaType)
	}
	return result, nil
}

// fill copies an extracted document into a result in the given mode.
func fill(result *PageResult, doc *Document, mode Mode) {
	result.Title = doc.Title
	result.Links = doc.Links
	result.Scripts = doc.Scripts
	if len(doc.Metadata) > 0 {
		result.Metadata = doc.Metadata
	}
	if mode == ModeMarkdown {
		result.Text = doc.Markdown
	} else {
		result.Text = doc.Text
	}
}
