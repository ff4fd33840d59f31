// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/peterh/liner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedReader replays input lines; an entry with err set returns that
// error instead of a line.
type scriptedReader struct {
	script  []scriptLine
	history []string
	closed  bool
}

type scriptLine struct {
	text string
	err  error
}

func lines(texts ...string) []scriptLine {
	out := make([]scriptLine, len(texts))
	for i, s := range texts {
		out[i] = scriptLine{text: s}
	}
	return out
}

func (s *scriptedReader) Prompt(string) (string, error) {
	if len(s.script) == 0 {
		return "", io.EOF
	}
	next := s.script[0]
	s.script = s.script[1:]
	return next.text, next.err
}

func (s *scriptedReader) AppendHistory(item string) {
	s.history = append(s.history, item)
}

func (s *scriptedReader) Close() error {
	s.closed = true
	return nil
}

func runREPL(t *testing.T, script []scriptLine, args ...string) (result, *scriptedReader) {
	t.Helper()
	return runREPLWithInterrupts(t, make(chan os.Signal), script, args...)
}

func runREPLWithInterrupts(t *testing.T, interrupts chan os.Signal, script []scriptLine, args ...string) (result, *scriptedReader) {
	t.Helper()
	reader := &scriptedReader{script: script}
	var stdout, stderr bytes.Buffer
	stopped := false
	env := &Env{
		Stdin:       bytes.NewReader(nil),
		Stdout:      &stdout,
		Stderr:      &stderr,
		Interactive: func() bool { return true },
		StopSignals: func() { stopped = true },
		Interrupts:  interrupts,
		LineReader:  reader,
	}
	code := Run(context.Background(), args, env)
	assert.True(t, stopped, "the REPL takes over SIGINT")
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}, reader
}

func TestREPL_Session(t *testing.T) {
	home := isolate(t)

	r, reader := runREPL(t, lines(
		"hello",
		"",
		"status",
		"context",
		"/bogus",
		"help me write a haiku",
		"exit",
	), "-b", "echo")

	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.True(t, reader.closed)
	assert.Equal(t, []string{"hello", "status", "context", "/bogus", "help me write a haiku", "exit"}, reader.history)

	assert.Contains(t, r.stdout, "backend echo")
	assert.Contains(t, r.stdout, "Echo: hello\n")
	assert.Contains(t, r.stdout, "History")
	assert.Contains(t, r.stdout, "2/10")
	// A prompt that merely starts with a command word goes to the model.
	assert.Contains(t, r.stdout, "Echo: help me write a haiku\n")
	assert.Contains(t, r.stderr, "WARNING: unknown command /bogus")

	assert.Equal(t, 4, loadSaved(t, home, "current"))
}

func TestREPL_Clear(t *testing.T) {
	home := isolate(t)

	r, _ := runREPL(t, lines("hello", "/clear", "quit"), "-b", "echo")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.Contains(t, r.stdout, "Conversation cleared.")
	assert.Equal(t, 0, loadSaved(t, home, "current"))
}

func TestREPL_RestoresConversation(t *testing.T) {
	isolate(t)
	require.Equal(t, ExitSuccess, run(t, "", "-b", "echo", "earlier").code)

	r, _ := runREPL(t, lines("context"), "-b", "echo")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.Contains(t, r.stdout, "2 messages restored")
	assert.Contains(t, r.stdout, "Echo: earlier")
}

func TestREPL_TwoAbortsLeave(t *testing.T) {
	isolate(t)

	r, _ := runREPL(t, []scriptLine{
		{err: liner.ErrPromptAborted},
		{err: liner.ErrPromptAborted},
		{text: "never sent"},
	}, "-b", "echo")

	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.Contains(t, r.stdout, "Ctrl+C again")
	assert.NotContains(t, r.stdout, "never sent")
}

func TestREPL_AbortThenInputResetsCount(t *testing.T) {
	isolate(t)

	r, _ := runREPL(t, []scriptLine{
		{err: liner.ErrPromptAborted},
		{text: "hi"},
		{err: liner.ErrPromptAborted},
		{text: "still here"},
	}, "-b", "echo")

	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.Contains(t, r.stdout, "Echo: still here")
}

func TestREPL_FetchWithoutURLIsAPrompt(t *testing.T) {
	isolate(t)

	r, _ := runREPL(t, lines("fetch me a coffee", "/fetch"), "-b", "echo")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.Contains(t, r.stdout, "Echo: fetch me a coffee")
	assert.Contains(t, r.stderr, "WARNING: usage: fetch <url>")
}

func TestREPL_SwitchModelAndUseCase(t *testing.T) {
	isolate(t)

	r, _ := runREPL(t, lines(
		"model",
		"/model tiny-llm",
		"/use-case content-tagging",
		"/use-case poetry",
		"model of the year?",
		"status",
	), "-b", "echo")

	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.Contains(t, r.stdout, "backend default")
	assert.Contains(t, r.stdout, "Model set to tiny-llm.")
	assert.Contains(t, r.stdout, "Use case set to content-tagging.")
	assert.Contains(t, r.stderr, `WARNING: unknown use case "poetry"`)
	assert.Contains(t, r.stdout, "Echo: model of the year?")
	assert.Contains(t, r.stdout, "tiny-llm")
	assert.Contains(t, r.stdout, "content-tagging")
}

func TestREPL_InterruptCancelsFetch(t *testing.T) {
	home := isolate(t)
	writeConfig(t, home, "[fetch]\nallow_private = true\n")

	started := make(chan struct{})
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(started) })
		<-r.Context().Done()
	}))
	defer srv.Close()

	interrupts := make(chan os.Signal)
	go func() {
		<-started
		interrupts <- os.Interrupt
	}()

	begin := time.Now()
	r, _ := runREPLWithInterrupts(t, interrupts, lines("fetch "+srv.URL+" summarize", "status"), "-b", "echo")

	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.Less(t, time.Since(begin), 10*time.Second, "Ctrl+C must not wait out the fetch timeout")
	assert.Contains(t, r.stderr, "WARNING: could not fetch")
	assert.NotContains(t, r.stdout, "Echo:", "a canceled fetch sends no prompt")
	assert.Contains(t, r.stdout, "0/10")
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line      string
		name      string
		rest      string
		isCommand bool
	}{
		{"exit", "exit", "", true},
		{"QUIT", "quit", "", true},
		{"/clear", "clear", "", true},
		{"/status now", "status", "now", true},
		{"/unknown thing", "unknown", "thing", true},
		{"help", "help", "", true},
		{"help me out", "", "", false},
		{"status of the project?", "", "", false},
		{"fetch https://go.dev summarize", "fetch", "https://go.dev summarize", true},
		{"fetch http://example.com", "fetch", "http://example.com", true},
		{"fetch the ball", "", "", false},
		{"model", "model", "", true},
		{"model llama3", "", "", false},
		{"/model llama3", "model", "llama3", true},
		{"/use-case content-tagging", "use-case", "content-tagging", true},
		{"/", "", "", false},
		{"what is go?", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			name, rest, ok := parseCommand(tt.line)
			if ok != tt.isCommand {
				t.Fatalf("parseCommand(%q) ok = %v, want %v", tt.line, ok, tt.isCommand)
			}
			if !ok {
				return
			}
			if name != tt.name || rest != tt.rest {
				t.Errorf("parseCommand(%q) = (%q, %q), want (%q, %q)", tt.line, name, rest, tt.name, tt.rest)
			}
		})
	}
}

func TestREPL_InterruptCancelsTurn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := &repl{}
	r.interrupt() // no turn in flight

	r.cancel = cancel
	r.interrupt()

	assert.Error(t, ctx.Err())
	assert.Nil(t, r.cancel)
}
