// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/rigchat/internal/session"
	"github.com/jeranaias/rigchat/internal/storage"
	"github.com/jeranaias/rigchat/internal/util"
)

const (
	// RequestSuffix marks files in the inbox that the bridge picks up.
	RequestSuffix = ".request.json"
	// ResponseSuffix is appended to the request ID in the outbox.
	ResponseSuffix = ".response.json"

	// DefaultDebounce is how long a request file must be quiet before it is read.
	DefaultDebounce = 200 * time.Millisecond
	// DefaultPollInterval is the scan interval when fsnotify is unavailable.
	DefaultPollInterval = time.Second

	// maxRequestSize bounds request files.
	maxRequestSize = 1 << 20
)

// Conversation answers one prompt at a time. *session.Controller satisfies it.
type Conversation interface {
	Ask(ctx context.Context, prompt string) (string, error)
}

var _ Conversation = (*session.Controller)(nil)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config configures a Bridge.
type Config struct {
	// Dir holds the inbox, outbox and processed directories.
	Dir string
	// Debounce is the quiet period before a request is read.
	Debounce time.Duration
	// PollInterval is used when fsnotify cannot watch the inbox.
	PollInterval time.Duration
	// ForcePolling skips fsnotify.
	ForcePolling bool
	// MaxCodeChars bounds the code block in each prompt (0 = compose default).
	MaxCodeChars int
	Logger       *zap.Logger
	// OnResponse is called after each response file has been written.
	OnResponse func(Request, Response)
}

// DefaultConfig returns defaults for everything except Dir.
func DefaultConfig() *Config {
	return &Config{
		Debounce:     DefaultDebounce,
		PollInterval: DefaultPollInterval,
	}
}

// =============================================================================
// BRIDGE
// =============================================================================

// Bridge answers editor requests dropped into a directory. Requests are
// handled one at a time in the order they became due.
type Bridge struct {
	cfg  Config
	conv Conversation
	log  *zap.Logger

	inbox     string
	outbox    string
	processed string

	mu      sync.Mutex
	pending map[string]time.Time

	handled atomic.Int64
	failed  atomic.Int64
}

// New creates the bridge directories under cfg.Dir.
func New(conv Conversation, cfg *Config) (*Bridge, error) {
	if conv == nil {
		return nil, errors.New("bridge: conversation is required")
	}
	if cfg == nil || cfg.Dir == "" {
		return nil, errors.New("bridge: directory is required")
	}
	c := *cfg
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	b := &Bridge{
		cfg:       c,
		conv:      conv,
		log:       c.Logger.Named("bridge"),
		inbox:     filepath.Join(c.Dir, "inbox"),
		outbox:    filepath.Join(c.Dir, "outbox"),
		processed: filepath.Join(c.Dir, "processed"),
		pending:   make(map[string]time.Time),
	}
	for _, dir := range []string{b.inbox, b.outbox, b.processed} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("bridge: create %s: %w", dir, err)
		}
	}
	return b, nil
}

// Inbox returns the directory requests are read from.
func (b *Bridge) Inbox() string { return b.inbox }

// Outbox returns the directory responses are written to.
func (b *Bridge) Outbox() string { return b.outbox }

// Counts returns how many requests were answered and how many failed.
func (b *Bridge) Counts() (handled, failed int64) {
	return b.handled.Load(), b.failed.Load()
}

// Run watches the inbox until ctx is canceled. Requests already in the inbox
// are handled first. Cancellation is not an error.
func (b *Bridge) Run(ctx context.Context) error {
	var watcher *fsnotify.Watcher
	if !b.cfg.ForcePolling {
		w, err := fsnotify.NewWatcher()
		if err == nil {
			if err = w.Add(b.inbox); err != nil {
				w.Close()
			} else {
				watcher = w
			}
		}
		if err != nil {
			b.log.Warn("fsnotify unavailable, polling inbox", zap.Error(err))
		}
	}

	b.scan()
	b.log.Info("watching for requests", zap.String("inbox", b.inbox), zap.Bool("polling", watcher == nil))

	g, gctx := errgroup.WithContext(ctx)
	if watcher != nil {
		g.Go(func() error { return b.watchEvents(gctx, watcher) })
	} else {
		g.Go(func() error { return b.poll(gctx) })
	}
	g.Go(func() error { return b.processPending(gctx) })

	err := g.Wait()
	if watcher != nil {
		watcher.Close()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// watchEvents marks created or written request files as pending.
func (b *Bridge) watchEvents(ctx context.Context, w *fsnotify.Watcher) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				b.mark(event.Name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			b.log.Warn("watcher error", zap.Error(err))
		}
	}
}

// poll rescans the inbox on an interval.
func (b *Bridge) poll(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.scan()
		}
	}
}

// processPending handles pending files once their debounce has passed.
func (b *Bridge) processPending(ctx context.Context) error {
	interval := b.cfg.Debounce / 2
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, path := range b.due() {
				if _, err := b.ProcessFile(ctx, path); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					b.log.Warn("request not processed", zap.String("file", filepath.Base(path)), zap.Error(err))
				}
			}
		}
	}
}

// scan marks every request file in the inbox as pending.
func (b *Bridge) scan() {
	entries, err := os.ReadDir(b.inbox)
	if err != nil {
		b.log.Warn("cannot read inbox", zap.Error(err))
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			b.mark(filepath.Join(b.inbox, e.Name()))
		}
	}
}

func (b *Bridge) mark(path string) {
	if !isRequestFile(path) {
		return
	}
	b.mu.Lock()
	b.pending[path] = time.Now()
	b.mu.Unlock()
}

// due removes and returns the pending files whose debounce has passed, sorted
// by name.
func (b *Bridge) due() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	var paths []string
	for path, changed := range b.pending {
		if now.Sub(changed) >= b.cfg.Debounce {
			paths = append(paths, path)
			delete(b.pending, path)
		}
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })
	return paths
}

func isRequestFile(path string) bool {
	name := filepath.Base(path)
	return strings.HasSuffix(name, RequestSuffix) && !strings.HasPrefix(name, ".")
}

// =============================================================================
// REQUEST HANDLING
// =============================================================================

// ProcessFile answers one request file: the response is written to the
// outbox and the request is moved to processed. Malformed requests get an
// error response. If ctx is canceled while the model is answering, the
// request is left in the inbox and the context error is returned.
func (b *Bridge) ProcessFile(ctx context.Context, path string) (*Response, error) {
	data, err := readLimited(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	id := strings.TrimSuffix(filepath.Base(path), RequestSuffix)
	var req Request
	var resp Response
	if err != nil {
		resp = failure(id, "", "invalid", err)
	} else if err := json.Unmarshal(data, &req); err != nil {
		resp = failure(id, "", "invalid", fmt.Errorf("invalid request JSON: %w", err))
	} else {
		if strings.TrimSpace(req.ID) != "" {
			id = req.ID
		}
		resp = b.answer(ctx, req, id)
		if ctx.Err() != nil && resp.Status == StatusError {
			return nil, ctx.Err()
		}
	}
	resp.ID = storage.SanitizeName(id)
	if resp.ID == "" {
		resp.ID = "request"
	}
	resp.CompletedAt = time.Now().UTC()

	out := filepath.Join(b.outbox, resp.ID+ResponseSuffix)
	if err := util.AtomicWriteJSON(out, resp, 0600); err != nil {
		return nil, fmt.Errorf("write response: %w", err)
	}
	if err := os.Rename(path, filepath.Join(b.processed, filepath.Base(path))); err != nil {
		b.log.Warn("cannot move request", zap.String("file", path), zap.Error(err))
		_ = os.Remove(path)
	}

	if resp.Status == StatusOK {
		b.handled.Add(1)
	} else {
		b.failed.Add(1)
	}
	b.log.Info("request answered",
		zap.String("id", resp.ID),
		zap.String("action", resp.Action),
		zap.String("status", resp.Status))
	if b.cfg.OnResponse != nil {
		b.cfg.OnResponse(req, resp)
	}
	return &resp, nil
}

func (b *Bridge) answer(ctx context.Context, req Request, id string) Response {
	action, err := ParseAction(req.Action)
	if err != nil {
		return failure(id, req.Action, "invalid", err)
	}
	prompt, err := BuildPrompt(req, b.cfg.MaxCodeChars)
	if err != nil {
		return failure(id, string(action), "invalid", err)
	}
	reply, err := b.conv.Ask(ctx, prompt)
	if err != nil {
		cat := session.CategoryOf(err)
		resp := failure(id, string(action), cat.String(), err)
		resp.Severity = cat.Severity()
		return resp
	}
	return Response{ID: id, Action: string(action), Status: StatusOK, Reply: reply}
}

func failure(id, action, category string, err error) Response {
	return Response{
		ID:       id,
		Action:   action,
		Status:   StatusError,
		Severity: "ERROR",
		Category: category,
		Error:    err.Error(),
	}
}

func readLimited(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxRequestSize {
		return nil, fmt.Errorf("request file is %d bytes (limit %d)", info.Size(), maxRequestSize)
	}
	return os.ReadFile(path)
}
