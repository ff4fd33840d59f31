// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// =============================================================================
// RENDERING FETCHER
// =============================================================================

// RodConfig configures a RodFetcher.
type RodConfig struct {
	// Headless hides the browser window (default true via DefaultRodConfig).
	Headless bool
	// ControlURL connects to an existing browser instead of launching one.
	ControlURL string
	// Timeout bounds one fetch (default: 30s).
	Timeout time.Duration
	// AllowPrivate permits private and loopback targets.
	AllowPrivate bool

	Logger *zap.Logger
}

// DefaultRodConfig returns the default rendering configuration.
func DefaultRodConfig() *RodConfig {
	return &RodConfig{Headless: true, Timeout: 30 * time.Second}
}

// RodFetcher renders pages in headless Chromium before extracting them.
// The browser starts on first use and lives until Close.
type RodFetcher struct {
	cfg   RodConfig
	guard Guard
	log   *zap.Logger

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
}

var _ Fetcher = (*RodFetcher)(nil)

// NewRodFetcher creates a rendering fetcher.
func NewRodFetcher(config *RodConfig) *RodFetcher {
	if config == nil {
		config = DefaultRodConfig()
	}
	cfg := *config
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &RodFetcher{cfg: cfg, guard: Guard{AllowPrivate: cfg.AllowPrivate}, log: cfg.Logger.Named("rod")}
}

// extractJS collects the rendered page in one round trip.
const extractJS = `() => {
	const meta = {};
	document.querySelectorAll('meta[name], meta[property]').forEach(m => {
		const key = (m.getAttribute('name') || m.getAttribute('property')).toLowerCase();
		meta[key] = m.getAttribute('content') || '';
	});
	const links = [...new Set([...document.querySelectorAll('a[href]')]
		.map(a => a.href)
		.filter(h => h.startsWith('http')))];
	const scripts = [...document.querySelectorAll('script[src]')].map(s => s.src);
	return JSON.stringify({
		title: document.title || '',
		url: location.href,
		text: document.body ? document.body.innerText : '',
		links: links,
		scripts: scripts,
		metadata: meta,
	});
}`

func (f *RodFetcher) connect(ctx context.Context) (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser != nil {
		return f.browser, nil
	}

	controlURL := f.cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(f.cfg.Headless)
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		f.launcher = l
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		if f.launcher != nil {
			f.launcher.Cleanup()
			f.launcher = nil
		}
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	f.log.Debug("browser connected", zap.String("control_url", controlURL))
	f.browser = browser
	return browser, nil
}

// Fetch loads req.URL in a fresh tab, waits for it to settle and extracts
// the rendered DOM.
func (f *RodFetcher) Fetch(ctx context.Context, req Request) (*PageResult, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target, err := f.guard.ValidateResolved(ctx, req.URL)
	if err != nil {
		return nil, err
	}

	browser, err := f.connect(ctx)
	if err != nil {
		return nil, err
	}

	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{URL: target.String()})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}
	if req.WaitTime > 0 {
		select {
		case <-time.After(req.WaitTime):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	res, err := page.Evaluate(&rod.EvalOptions{JS: extractJS, ByValue: true, AwaitPromise: true})
	if err != nil {
		return nil, fmt.Errorf("extract page: %w", err)
	}
	var result PageResult
	if err := json.Unmarshal([]byte(res.Value.String()), &result); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}
	if err := f.checkLanding(ctx, target.String(), result.URL); err != nil {
		return nil, err
	}
	result.ContentType = "text/html"

	switch req.Mode {
	case ModeHTML:
		html, err := page.HTML()
		if err != nil {
			return nil, fmt.Errorf("read html: %w", err)
		}
		result.Text = html
	case ModeMarkdown:
		html, err := page.HTML()
		if err != nil {
			return nil, fmt.Errorf("read html: %w", err)
		}
		if doc, err := Extract(html, target); err == nil {
			result.Text = doc.Markdown
		}
	}
	f.log.Debug("rendered", zap.String("url", result.URL), zap.Int("chars", len(result.Text)))
	return &result, nil
}

// Close shuts the browser down.
func (f *RodFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	if f.browser != nil {
		err = f.browser.Close()
		f.browser = nil
	}
	if f.launcher != nil {
		f.launcher.Cleanup()
		f.launcher = nil
	}
	return err
}

// checkLanding rejects a page the browser ended up on through a redirect or
// a script navigation when the guard would have refused it as a target.
func (f *RodFetcher) checkLanding(ctx context.Context, target, landed string) error {
	if landed == "" || landed == target {
		return nil
	}
	if _, err := f.guard.ValidateResolved(ctx, landed); err != nil {
		f.log.Warn("page left the allowed targets", zap.String("target", target), zap.String("landed", landed), zap.Error(err))
		return fmt.Errorf("page redirected to %s: %w", landed, err)
	}
	return nil
}
