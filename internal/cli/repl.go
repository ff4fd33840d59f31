// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/peterh/liner"

	"github.com/jeranaias/rigchat/internal/backend"
	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/fetch"
	"github.com/jeranaias/rigchat/internal/ollama"
	"github.com/jeranaias/rigchat/internal/session"
	"github.com/jeranaias/rigchat/internal/util"
)

// lineReader is the part of liner.State the REPL uses.
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
	Close() error
}

// =============================================================================
// INPUT HISTORY
// =============================================================================

// historyLiner wraps liner with a persistent input history.
type historyLiner struct {
	*liner.State
	path string
}

func newHistoryLiner() *historyLiner {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	h := &historyLiner{State: line, path: filepath.Join(dir, "repl_history")}
	if f, err := os.Open(h.path); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	return h
}

// Close saves the history with owner-only permissions and restores the
// terminal.
func (h *historyLiner) Close() error {
	if err := os.MkdirAll(filepath.Dir(h.path), 0700); err == nil {
		if f, err := os.OpenFile(h.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			_, _ = h.State.WriteHistory(f)
			f.Close()
		}
	}
	return h.State.Close()
}

// =============================================================================
// REPL
// =============================================================================

// repl is an interactive session. Ctrl+C during a turn cancels the turn;
// Ctrl+C twice at an empty prompt (or Ctrl+D, exit, quit) leaves.
type repl struct {
	a     *app
	ctrl  *session.Controller
	in    lineReader
	out   io.Writer
	err   io.Writer
	fetch fetch.Fetcher

	mu     sync.Mutex
	cancel context.CancelFunc
}

const replHelp = `Commands:
  exit, quit              leave (the conversation is saved)
  clear                   start a new conversation
  status                  show backend and session state
  context                 show the stored messages
  fetch <url> [directive] fetch a page and ask about it
  model [name]            show or switch the model
  use-case [name]         show or switch the use case
                          (general, content-tagging)
  help                    show this help

Anything else is sent as a prompt. Commands may start with "/"; model and
use-case need it when given an argument.
Ctrl+C cancels a reply in progress.`

func (a *app) runREPL(ctx context.Context) error {
	ctrl, err := a.openController(ctx)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	// From here on SIGINT cancels the current turn instead of the process.
	if a.env.StopSignals != nil {
		a.env.StopSignals()
	}
	sigs := a.env.Interrupts
	if sigs == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt)
		defer signal.Stop(ch)
		sigs = ch
	}

	in := a.env.LineReader
	if in == nil {
		in = newHistoryLiner()
	}
	defer in.Close()

	f, release := a.newFetcher()
	defer release()

	r := &repl{a: a, ctrl: ctrl, in: in, out: a.env.Stdout, err: a.env.Stderr, fetch: f}

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-sigs:
				r.interrupt()
			}
		}
	}()

	r.banner()
	return r.loop(ctx)
}

func (r *repl) banner() {
	st := r.ctrl.Status()
	line := fmt.Sprintf("rigchat %s | backend %s", Version, st.Backend)
	if st.Model != "" {
		line += " | model " + st.Model
	}
	if st.HistoryLen > 0 {
		line += fmt.Sprintf(" | %d messages restored", st.HistoryLen)
	}
	fmt.Fprintln(r.out, RenderConditional(TitleStyle, line))
	fmt.Fprintln(r.out, RenderConditional(DimStyle, `Type "help" for commands, "exit" to leave.`))
}

func (r *repl) loop(ctx context.Context) error {
	prompt := RenderConditional(PromptStyle, "you> ")
	aborts := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := r.in.Prompt(prompt)
		switch {
		case errors.Is(err, liner.ErrPromptAborted):
			aborts++
			if aborts >= 2 {
				fmt.Fprintln(r.out)
				return nil
			}
			fmt.Fprintln(r.out, RenderConditional(DimStyle, "(Ctrl+C again or exit to leave)"))
			continue
		case errors.Is(err, io.EOF):
			fmt.Fprintln(r.out)
			return nil
		case err != nil:
			return err
		}
		aborts = 0

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.in.AppendHistory(line)

		quit, err := r.handle(ctx, line)
		if err != nil {
			return err
		}
		if quit {
			return nil
		}
	}
}

// handle runs one input line. It returns quit=true to leave and an error
// only for fatal failures.
func (r *repl) handle(ctx context.Context, line string) (quit bool, err error) {
	name, rest, isCommand := parseCommand(line)
	if !isCommand {
		return false, r.turn(ctx, line)
	}

	switch name {
	case "exit", "quit":
		return true, nil
	case "help":
		fmt.Fprintln(r.out, replHelp)
	case "clear":
		if err := r.ctrl.Reset(ctx); err != nil {
			if session.IsFatal(err) {
				return false, err
			}
			printFailure(r.err, err)
			return false, nil
		}
		r.a.save(r.ctrl)
		fmt.Fprintln(r.out, RenderConditional(SuccessStyle, "Conversation cleared."))
	case "status":
		r.status(ctx)
	case "context":
		r.showContext()
	case "fetch":
		url, directive, _ := strings.Cut(rest, " ")
		if url == "" {
			printWarning(r.err, "usage: fetch <url> [directive]")
			return false, nil
		}
		tctx, end := r.begin(ctx)
		defer end()
		prompt := r.a.fetchPrompt(tctx, r.fetch, url, strings.TrimSpace(directive))
		if tctx.Err() != nil {
			return false, nil
		}
		return false, r.send(tctx, prompt)
	case "model":
		if rest == "" {
			fmt.Fprintf(r.out, "%s %s\n", RenderLabel("Model"), valueOr(r.ctrl.Status().Model, "backend default"))
			return false, nil
		}
		return false, r.reconfigured(r.ctrl.SetModel(ctx, rest), "Model set to "+rest+".")
	case "use-case":
		if rest == "" {
			fmt.Fprintf(r.out, "%s %s\n", RenderLabel("Use case"), r.ctrl.Status().UseCase)
			return false, nil
		}
		uc, err := backend.ParseUseCase(rest)
		if err != nil {
			printWarning(r.err, "%v", err)
			return false, nil
		}
		return false, r.reconfigured(r.ctrl.SetUseCase(ctx, uc), "Use case set to "+string(uc)+".")
	default:
		printWarning(r.err, "unknown command /%s (type help)", name)
	}
	return false, nil
}

// parseCommand recognizes REPL commands. Bare words only count when the line
// is exactly the command (or "fetch <url> ..."), so ordinary prompts that
// start with "help" or "status" still reach the model. A leading "/" always
// marks a command.
func parseCommand(line string) (name, rest string, ok bool) {
	slash := strings.HasPrefix(line, "/")
	head, rest, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	name = strings.ToLower(head)
	rest = strings.TrimSpace(rest)
	if slash {
		return name, rest, name != ""
	}
	switch name {
	case "exit", "quit", "clear", "help", "status", "context", "model", "use-case":
		return name, rest, rest == ""
	case "fetch":
		return name, rest, strings.HasPrefix(rest, "http://") || strings.HasPrefix(rest, "https://")
	}
	return "", "", false
}

// reconfigured reports the outcome of a session switch. Only a fatal
// failure is returned.
func (r *repl) reconfigured(err error, done string) error {
	if err != nil {
		if session.IsFatal(err) {
			return err
		}
		printFailure(r.err, err)
		return nil
	}
	r.a.save(r.ctrl)
	fmt.Fprintln(r.out, RenderConditional(SuccessStyle, done))
	return nil
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// begin derives the context of one turn, fetch included. SIGINT cancels it
// through r.interrupt until the returned func ends the turn.
func (r *repl) begin(ctx context.Context) (context.Context, func()) {
	tctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	return tctx, func() {
		r.mu.Lock()
		r.cancel = nil
		r.mu.Unlock()
		cancel()
	}
}

// turn streams one reply.
func (r *repl) turn(ctx context.Context, prompt string) error {
	tctx, end := r.begin(ctx)
	defer end()
	return r.send(tctx, prompt)
}

// send streams prompt under a turn context from begin and reports the
// outcome. Only a fatal failure is returned.
func (r *repl) send(ctx context.Context, prompt string) error {
	_, err := streamTurn(ctx, r.ctrl, prompt, r.out)
	r.a.save(r.ctrl)
	if err == nil {
		return nil
	}
	if session.IsFatal(err) {
		return err
	}
	printFailure(r.err, err)
	return nil
}

// interrupt cancels the turn in flight, if any.
func (r *repl) interrupt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

func (r *repl) status(ctx context.Context) {
	st := r.ctrl.Status()
	rows := [][2]string{
		{"Backend", st.Backend},
		{"State", st.State.String()},
		{"Session", st.SessionID},
		{"Use case", string(st.UseCase)},
		{"Model", st.Model},
		{"Temperature", fmt.Sprintf("%.2f", st.Temperature)},
		{"Turns", fmt.Sprintf("%d", st.Turns)},
		{"History", fmt.Sprintf("%d/%d", st.HistoryLen, st.MaxHistory)},
		{"Transcript", fmt.Sprintf("%d entries", st.TranscriptLen)},
		{"Condensed", fmt.Sprintf("%d times", st.Condensations)},
		{"Conversation", r.a.conversation()},
	}
	fmt.Fprintln(r.out, RenderSeparator(40))
	for _, row := range rows {
		if row[1] == "" {
			continue
		}
		fmt.Fprintf(r.out, "%s %s\n", RenderLabel(row[0]), RenderConditional(ValueStyle, row[1]))
	}

	if st.Backend == "ollama" {
		r.listModels(ctx)
	}
}

// listModels prints the models an Ollama server has pulled.
func (r *repl) listModels(ctx context.Context) {
	b, ok := r.a.lastBackend.(*ollama.Backend)
	if !ok {
		return
	}
	lctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	models, err := b.Client().ListModels(lctx)
	if err != nil {
		printWarning(r.err, "could not list models: %v", err)
		return
	}
	for _, m := range models {
		fmt.Fprintf(r.out, "%s %s (%s)\n", RenderLabel(""), m.Name, m.FormatSize())
	}
}

func (r *repl) showContext() {
	msgs := r.ctrl.History()
	if len(msgs) == 0 {
		fmt.Fprintln(r.out, RenderConditional(DimStyle, "No messages yet."))
		return
	}
	width := GetTerminalWidth() - 14
	for _, m := range msgs {
		fmt.Fprintf(r.out, "%s %s\n", RenderLabel(m.Role.DisplayName()), util.Preview(m.Content, width))
	}
}
