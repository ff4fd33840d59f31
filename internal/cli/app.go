// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/rigchat/internal/backend"
	"github.com/jeranaias/rigchat/internal/compose"
	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/fetch"
	"github.com/jeranaias/rigchat/internal/gemini"
	"github.com/jeranaias/rigchat/internal/logging"
	"github.com/jeranaias/rigchat/internal/ollama"
	"github.com/jeranaias/rigchat/internal/session"
	"github.com/jeranaias/rigchat/internal/storage"
)

// =============================================================================
// ENVIRONMENT
// =============================================================================

// Env is the process environment a command tree runs in. Zero fields take
// the real process values.
type Env struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Interactive reports whether stdin is a terminal.
	Interactive func() bool
	// StopSignals releases the root signal context so the REPL can handle
	// SIGINT per turn.
	StopSignals func()
	// Interrupts replaces the REPL's SIGINT subscription.
	Interrupts <-chan os.Signal
	// LineReader replaces the liner prompt.
	LineReader lineReader
}

func (e *Env) fill() {
	if e.Stdin == nil {
		e.Stdin = os.Stdin
	}
	if e.Stdout == nil {
		e.Stdout = os.Stdout
	}
	if e.Stderr == nil {
		e.Stderr = os.Stderr
	}
	if e.Interactive == nil {
		e.Interactive = IsTTY
	}
}

// =============================================================================
// OPTIONS
// =============================================================================

// options holds the persistent flags.
type options struct {
	configPath   string
	backend      backendFlag
	model        string
	useCase      useCaseFlag
	temperature  temperatureFlag
	instructions string
	conversation string
	noSave       bool
	verbose      bool
	quiet        bool

	// Fetch flags are shared by the root command and the fetch subcommand.
	fetchURL string
	render   bool
	wait     time.Duration
	timeout  time.Duration
}

// =============================================================================
// APP
// =============================================================================

// app carries everything commands share after PersistentPreRunE.
type app struct {
	env  *Env
	opts *options

	cfg        *config.Config
	configPath string
	log        *zap.Logger

	store storage.Store
	// lastBackend is the backend behind the most recent controller.
	lastBackend backend.Backend
}

func newApp(env *Env) *app {
	env.fill()
	return &app{env: env, opts: &options{}, log: zap.NewNop()}
}

// setup loads configuration, applies flags and builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	if err := a.loadConfig(); err != nil {
		return err
	}
	if err := a.applyFlags(); err != nil {
		return err
	}
	a.initLogger()
	return nil
}

func (a *app) loadConfig() error {
	if a.opts.configPath != "" {
		cfg, err := config.LoadFromPath(a.opts.configPath)
		if err != nil {
			return &ConfigError{Path: a.opts.configPath, Err: err}
		}
		a.cfg, a.configPath = cfg, a.opts.configPath
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		path := ""
		if dir, derr := config.ConfigDir(); derr == nil {
			path = config.FindConfigFile(dir)
		}
		return &ConfigError{Path: path, Err: err}
	}
	a.cfg = cfg
	if dir, err := config.ConfigDir(); err == nil {
		a.configPath = config.FindConfigFile(dir)
	}
	return nil
}

func (a *app) applyFlags() error {
	o := a.opts
	if o.backend.value != "" {
		a.cfg.Backend.Name = o.backend.value
	}
	if o.model != "" {
		switch a.cfg.Backend.Name {
		case "gemini":
			a.cfg.Gemini.Model = o.model
		default:
			a.cfg.Ollama.Model = o.model
		}
	}
	if o.useCase.value != "" {
		a.cfg.Session.UseCase = string(o.useCase.value)
	}
	if o.temperature.set {
		if o.temperature.clamped {
			printWarning(a.env.Stderr, "temperature %s is outside [0, 1], using %s", o.temperature.raw, o.temperature.String())
		}
		a.cfg.Session.Temperature = o.temperature.value
	}
	if o.instructions != "" {
		a.cfg.Session.Instructions = o.instructions
	}
	if o.conversation != "" {
		a.cfg.Storage.Conversation = o.conversation
	}
	if o.render {
		a.cfg.Fetch.Render = true
	}
	if o.noSave {
		a.cfg.Storage.AutoSave = false
	}
	if a.cfg.UI.NoColor {
		ForceColorsEnabled(false)
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	if _, err := backend.ParseUseCase(a.cfg.Session.UseCase); err != nil {
		return NewValidationError("use case", a.cfg.Session.UseCase, err.Error())
	}
	return nil
}

func (a *app) initLogger() {
	file, err := a.cfg.LogFile()
	if err != nil {
		file = ""
	}
	log, err := logging.New(logging.Options{
		Level:   a.cfg.Logging.Level,
		File:    file,
		Verbose: a.opts.verbose,
		Quiet:   a.opts.quiet,
	})
	if err != nil {
		printWarning(a.env.Stderr, "logging disabled: %v", err)
		return
	}
	a.log = log
}

// finish flushes the logger and closes the store.
func (a *app) finish() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("store close failed", zap.Error(err))
		}
		a.store = nil
	}
	_ = a.log.Sync()
}

// conversation returns the sanitized conversation name.
func (a *app) conversation() string {
	return storage.SanitizeName(a.cfg.Storage.Conversation)
}

// =============================================================================
// FACTORIES
// =============================================================================

// newBackend builds the configured model backend.
func (a *app) newBackend() backend.Backend {
	switch a.cfg.Backend.Name {
	case "gemini":
		return gemini.NewBackend(&gemini.Config{
			APIKey:       a.cfg.Gemini.APIKey,
			Model:        a.cfg.Gemini.Model,
			TaggingModel: a.cfg.Gemini.TaggingModel,
			Logger:       a.log,
		})
	case "echo":
		return backend.NewStub(nil)
	default:
		client := ollama.NewClientWithConfig(&ollama.ClientConfig{
			BaseURL:      a.cfg.Ollama.URL,
			Timeout:      time.Duration(a.cfg.Ollama.TimeoutSecs) * time.Second,
			DefaultModel: a.cfg.Ollama.Model,
			NumCtx:       a.cfg.Ollama.NumCtx,
			KeepAlive:    a.cfg.Ollama.KeepAlive,
		})
		return ollama.NewBackend(client, &ollama.BackendConfig{
			TaggingModel: a.cfg.Ollama.TaggingModel,
			Logger:       a.log,
		})
	}
}

// sessionModel is the model name the controller asks for.
func (a *app) sessionModel() string {
	switch a.cfg.Backend.Name {
	case "gemini":
		return a.cfg.Gemini.Model
	case "echo":
		return ""
	default:
		return a.cfg.Ollama.Model
	}
}

// openStore opens the configured history store once.
func (a *app) openStore() (storage.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	dir, err := a.cfg.HistoryDir()
	if err != nil {
		return nil, err
	}

	var store storage.Store
	switch a.cfg.Storage.Driver {
	case "sqlite":
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
		store, err = storage.NewSQLiteStore(filepath.Join(dir, "history.db"), a.log)
	default:
		store, err = storage.NewFileStore(dir, a.log)
	}
	if err != nil {
		return nil, err
	}
	a.store = store
	return store, nil
}

// openController starts a session and restores the saved conversation.
// Failures to open history are warnings; an unavailable backend is fatal.
func (a *app) openController(ctx context.Context) (*session.Controller, error) {
	uc, _ := backend.ParseUseCase(a.cfg.Session.UseCase)
	a.lastBackend = a.newBackend()
	ctrl, err := session.New(ctx, a.lastBackend, &session.Config{
		UseCase:        uc,
		Instructions:   a.cfg.Session.Instructions,
		Model:          a.sessionModel(),
		Temperature:    a.cfg.Session.Temperature,
		MaxHistory:     a.cfg.Session.MaxHistory,
		KeepRecent:     a.cfg.Session.KeepRecent,
		DisablePrewarm: !a.cfg.Session.Prewarm,
		Logger:         a.log,
	})
	if err != nil {
		return nil, err
	}

	store, err := a.openStore()
	if err != nil {
		printWarning(a.env.Stderr, "history unavailable: %v", err)
		return ctrl, nil
	}
	msgs, err := store.Load(a.conversation())
	if err != nil {
		printWarning(a.env.Stderr, "%v (starting a new conversation)", err)
	}
	if len(msgs) > 0 {
		if err := ctrl.Restore(ctx, msgs); err != nil {
			if session.IsFatal(err) {
				ctrl.Close()
				return nil, err
			}
			printFailure(a.env.Stderr, err)
		}
	}
	return ctrl, nil
}

// save writes the conversation snapshot unless saving is disabled.
func (a *app) save(ctrl *session.Controller) {
	if !a.cfg.Storage.AutoSave || a.store == nil {
		return
	}
	if err := a.store.Save(a.conversation(), ctrl.History()); err != nil {
		printWarning(a.env.Stderr, "could not save conversation: %v", err)
	}
}

// newFetcher builds the page fetcher. The returned func releases it.
func (a *app) newFetcher() (fetch.Fetcher, func()) {
	timeout := a.fetchTimeout()
	if a.cfg.Fetch.Render {
		f := fetch.NewRodFetcher(&fetch.RodConfig{
			Headless:     true,
			Timeout:      timeout,
			AllowPrivate: a.cfg.Fetch.AllowPrivate,
			Logger:       a.log,
		})
		return f, func() { _ = f.Close() }
	}
	f := fetch.NewHTTPFetcher(&fetch.HTTPConfig{
		MaxBodySize:       a.cfg.Fetch.MaxBodyBytes,
		Timeout:           timeout,
		AllowPrivate:      a.cfg.Fetch.AllowPrivate,
		RequestsPerSecond: a.cfg.Fetch.RequestsPerSecond,
		Logger:            a.log,
	})
	return f, func() {}
}

func (a *app) fetchTimeout() time.Duration {
	if a.opts.timeout > 0 {
		return a.opts.timeout
	}
	return time.Duration(a.cfg.Fetch.TimeoutSecs) * time.Second
}

func (a *app) fetchWait() time.Duration {
	if a.opts.wait > 0 {
		return a.opts.wait
	}
	return time.Duration(a.cfg.Fetch.WaitMillis) * time.Millisecond
}

func (a *app) composer() *compose.Composer {
	return compose.New(a.cfg.Fetch.MaxChars)
}

// fetchPrompt fetches rawURL and composes the analysis prompt. A failed
// fetch prints a WARNING and composes the no-content notice instead.
func (a *app) fetchPrompt(ctx context.Context, f fetch.Fetcher, rawURL, directive string) string {
	page, err := f.Fetch(ctx, fetch.Request{
		URL:      rawURL,
		Mode:     fetch.ModeText,
		WaitTime: a.fetchWait(),
		Timeout:  a.fetchTimeout(),
	})
	if err != nil {
		a.log.Warn("fetch failed", zap.String("url", rawURL), zap.Error(err))
		printWarning(a.env.Stderr, "could not fetch %s: %v", rawURL, err)
		page = nil
	}
	return a.composer().ComposePage(page, directive)
}

// =============================================================================
// TURNS
// =============================================================================

// streamTurn sends prompt and writes deltas to w as they arrive.
func streamTurn(ctx context.Context, ctrl *session.Controller, prompt string, w io.Writer) (string, error) {
	turn, err := ctrl.Send(ctx, prompt)
	if err != nil {
		return "", err
	}
	wrote := false
	for delta := range turn.Deltas() {
		fmt.Fprint(w, delta)
		wrote = true
	}
	reply, err := turn.Result()
	if wrote && !strings.HasSuffix(reply, "\n") {
		fmt.Fprintln(w)
	}
	return reply, err
}

// readPrompt reads a piped prompt from r.
func readPrompt(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxPipedPrompt+1))
	if err != nil {
		return "", err
	}
	if len(data) > maxPipedPrompt {
		return "", errors.New("piped prompt is larger than 1 MiB")
	}
	return strings.TrimSpace(string(data)), nil
}

const maxPipedPrompt = 1 << 20
