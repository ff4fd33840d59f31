// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/session"
	"github.com/jeranaias/rigchat/internal/ui/styles"
)

// Conversation is the part of session.Controller the chat view drives.
type Conversation interface {
	Send(ctx context.Context, prompt string) (*session.Turn, error)
	Reset(ctx context.Context) error
	Status() session.Status
	History() []model.Message
}

var _ Conversation = (*session.Controller)(nil)

// Options configures the chat view.
type Options struct {
	// Title is shown at the left of the header (default "rigchat").
	Title string

	// Render formats a finished reply, such as markdown for the terminal.
	// Nil shows replies as plain wrapped text.
	Render func(string) string

	// OnTurn runs after every turn and after /clear.
	OnTurn func()

	Theme *styles.Theme
	Keys  *KeyMap
}

// =============================================================================
// TRANSCRIPT ENTRIES
// =============================================================================

type entryKind int

const (
	entryUser entryKind = iota
	entryAssistant
	entryNotice
	entryFailure
)

type entry struct {
	kind     entryKind
	text     string
	severity string
}

// =============================================================================
// MODEL
// =============================================================================

// Model is the chat view. Use it through a pointer; the streaming goroutine
// and the cancel state are shared with the running program.
type Model struct {
	ctx   context.Context
	conv  Conversation
	opts  Options
	theme *styles.Theme
	keys  KeyMap

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model

	entries []entry
	partial strings.Builder

	busy   bool
	events <-chan tea.Msg
	cancel *cancelManager

	// quit is closed when the view exits so a streaming goroutine stops.
	quit     chan struct{}
	quitOnce sync.Once

	width  int
	height int
	ready  bool

	fatal error
}

var _ tea.Model = (*Model)(nil)

// New creates the chat view. The stored history of conv is shown first.
func New(ctx context.Context, conv Conversation, opts Options) *Model {
	if opts.Title == "" {
		opts.Title = "rigchat"
	}
	theme := opts.Theme
	if theme == nil {
		theme = styles.NewTheme()
	}
	keys := DefaultKeyMap()
	if opts.Keys != nil {
		keys = *opts.Keys
	}

	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Type a message..."
	ti.CharLimit = 16384
	ti.Focus()

	vp := viewport.New(80, 20)

	sp := spinner.New()
	sp.Spinner = spinner.Spinner{
		Frames: []string{"|", "/", "-", "\\"},
		FPS:    time.Second / 10,
	}
	sp.Style = theme.Spinner

	m := &Model{
		ctx:      ctx,
		conv:     conv,
		opts:     opts,
		theme:    theme,
		keys:     keys,
		viewport: vp,
		input:    ti,
		spinner:  sp,
		cancel:   &cancelManager{},
		quit:     make(chan struct{}),
	}

	history := conv.History()
	for _, msg := range history {
		switch {
		case msg.IsUser():
			m.entries = append(m.entries, entry{kind: entryUser, text: msg.Content})
		case msg.IsAssistant():
			m.entries = append(m.entries, entry{kind: entryAssistant, text: msg.Content})
		}
	}
	if len(history) > 0 {
		m.notice(fmt.Sprintf("Restored %d messages.", len(history)))
	}
	return m
}

// Err returns the failure that ended the view, if any. Only an unavailable
// backend ends it.
func (m *Model) Err() error {
	return m.fatal
}

// Busy reports whether a turn or reset is in flight.
func (m *Model) Busy() bool {
	return m.busy
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case StreamDeltaMsg:
		m.partial.WriteString(msg.Text)
		m.refresh()
		return m, waitForEvent(m.events)

	case StreamDoneMsg:
		return m, m.finishTurn(msg)

	case ResetDoneMsg:
		m.busy = false
		if msg.Err != nil {
			m.failure(msg.Err)
		} else {
			m.entries = nil
			m.notice("Conversation cleared.")
		}
		if m.opts.OnTurn != nil {
			m.opts.OnTurn()
		}
		if session.IsFatal(msg.Err) {
			m.fatal = msg.Err
			m.shutdown()
			return m, tea.Quit
		}
		return m, nil

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.shutdown()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Cancel):
		if m.cancel.cancelTurn() {
			return m, nil
		}
		if m.input.Value() != "" {
			m.input.Reset()
			return m, nil
		}
		if m.busy {
			return m, nil
		}
		m.shutdown()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Submit):
		if m.busy {
			return m, nil
		}
		line := strings.TrimSpace(m.input.Value())
		if line == "" {
			return m, nil
		}
		m.input.Reset()
		return m, m.submit(line)

	case key.Matches(msg, m.keys.PageUp), key.Matches(msg, m.keys.PageDown):
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit handles one input line.
func (m *Model) submit(line string) tea.Cmd {
	if strings.HasPrefix(line, "/") {
		switch strings.ToLower(strings.Fields(line)[0]) {
		case "/exit", "/quit":
			m.shutdown()
			return tea.Quit
		case "/clear":
			m.busy = true
			ctx := m.ctx
			return tea.Batch(m.spinner.Tick, func() tea.Msg {
				return ResetDoneMsg{Err: m.conv.Reset(ctx)}
			})
		case "/help":
			m.notice("Commands: /clear starts a new conversation, /exit leaves.")
			return nil
		}
		m.entries = append(m.entries, entry{kind: entryFailure, severity: "WARNING", text: "unknown command " + line})
		m.refresh()
		return nil
	}
	return m.startTurn(line)
}

// =============================================================================
// STREAMING
// =============================================================================

func (m *Model) startTurn(prompt string) tea.Cmd {
	m.entries = append(m.entries, entry{kind: entryUser, text: prompt})
	m.partial.Reset()
	m.busy = true
	m.refresh()

	ctx, cancel := context.WithCancel(m.ctx)
	m.cancel.set(cancel)
	events := make(chan tea.Msg)
	m.events = events
	go m.stream(ctx, cancel, prompt, events)

	return tea.Batch(m.spinner.Tick, waitForEvent(events))
}

// stream runs one turn and sends its messages on events, which it closes.
func (m *Model) stream(ctx context.Context, cancel context.CancelFunc, prompt string, events chan<- tea.Msg) {
	defer close(events)
	defer cancel()

	send := func(msg tea.Msg) bool {
		select {
		case events <- msg:
			return true
		case <-m.quit:
			return false
		}
	}

	turn, err := m.conv.Send(ctx, prompt)
	if err != nil {
		send(StreamDoneMsg{Err: err})
		return
	}
	for delta := range turn.Deltas() {
		if !send(StreamDeltaMsg{Text: delta}) {
			return
		}
	}
	reply, err := turn.Result()
	send(StreamDoneMsg{Reply: reply, Err: err})
}

func (m *Model) finishTurn(msg StreamDoneMsg) tea.Cmd {
	m.busy = false
	m.events = nil
	m.cancel.clear()
	m.partial.Reset()

	if msg.Reply != "" {
		m.entries = append(m.entries, entry{kind: entryAssistant, text: msg.Reply})
	}
	if msg.Err != nil {
		m.failure(msg.Err)
	}
	m.refresh()

	if m.opts.OnTurn != nil {
		m.opts.OnTurn()
	}
	if session.IsFatal(msg.Err) {
		m.fatal = msg.Err
		m.shutdown()
		return tea.Quit
	}
	return nil
}

// shutdown cancels any turn and releases its goroutine.
func (m *Model) shutdown() {
	m.cancel.cancelTurn()
	m.quitOnce.Do(func() { close(m.quit) })
}

func (m *Model) notice(text string) {
	m.entries = append(m.entries, entry{kind: entryNotice, text: text})
	m.refresh()
}

func (m *Model) failure(err error) {
	m.entries = append(m.entries, entry{
		kind:     entryFailure,
		severity: session.CategoryOf(err).Severity(),
		text:     err.Error(),
	})
	m.refresh()
}
