// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jeranaias/rigchat/internal/backend"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// HELPERS
// =============================================================================

func newController(t *testing.T, stub *backend.Stub) *session.Controller {
	t.Helper()
	if stub == nil {
		stub = backend.NewStub(nil)
	}
	ctrl, err := session.New(context.Background(), stub, &session.Config{DisablePrewarm: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctrl.Close() })
	return ctrl
}

func enter(m *Model, line string) tea.Cmd {
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(line)})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return cmd
}

// drain feeds every message of the turn in flight to the model.
func drain(t *testing.T, m *Model) {
	t.Helper()
	events := m.events
	require.NotNil(t, events, "no turn in flight")
	for msg := range events {
		m.Update(msg)
	}
}

// runCmd executes cmd and any batch it expands to.
func runCmd(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, runCmd(c)...)
		}
		return out
	}
	return []tea.Msg{msg}
}

func kinds(entries []entry) []entryKind {
	out := make([]entryKind, len(entries))
	for i, e := range entries {
		out[i] = e.kind
	}
	return out
}

type fakeConversation struct {
	resetErr error
}

func (f *fakeConversation) Send(context.Context, string) (*session.Turn, error) {
	return nil, session.ErrBusy
}

func (f *fakeConversation) Reset(context.Context) error { return f.resetErr }

func (f *fakeConversation) Status() session.Status {
	return session.Status{Backend: "fake", MaxHistory: 10}
}

func (f *fakeConversation) History() []model.Message { return nil }

// =============================================================================
// TURNS
// =============================================================================

func TestModel_StreamsReply(t *testing.T) {
	ctrl := newController(t, nil)
	turns := 0
	m := New(context.Background(), ctrl, Options{OnTurn: func() { turns++ }})
	m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})

	cmd := enter(m, "hello there")
	require.NotNil(t, cmd)
	assert.True(t, m.Busy())
	assert.Empty(t, m.input.Value())

	drain(t, m)

	require.Equal(t, []entryKind{entryUser, entryAssistant}, kinds(m.entries))
	assert.Equal(t, "hello there", m.entries[0].text)
	assert.Equal(t, "Echo: hello there", m.entries[1].text)
	assert.False(t, m.Busy())
	assert.Equal(t, 1, turns)
	assert.Len(t, ctrl.History(), 2)
	assert.Contains(t, m.View(), "Echo: hello there")
}

func TestModel_RenderFormatsFinishedReplies(t *testing.T) {
	ctrl := newController(t, nil)
	m := New(context.Background(), ctrl, Options{Render: func(s string) string { return "<<" + s + ">>\n" }})
	m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})

	enter(m, "hi")
	drain(t, m)

	assert.Contains(t, m.View(), "<<Echo: hi>>")
}

func TestModel_CancelKeepsUserMessage(t *testing.T) {
	gate := make(chan struct{})
	ctrl := newController(t, backend.NewStub(&backend.StubConfig{Gate: gate}))
	m := New(context.Background(), ctrl, Options{})
	m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})

	enter(m, "slow question")
	require.True(t, m.Busy())

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.Nil(t, cmd, "ctrl+c during a reply must not quit")
	drain(t, m)

	require.Equal(t, []entryKind{entryUser, entryFailure}, kinds(m.entries))
	assert.Equal(t, "WARNING", m.entries[1].severity)
	assert.NoError(t, m.Err())

	history := ctrl.History()
	require.Len(t, history, 1)
	assert.Equal(t, model.RoleUser, history[0].Role)
}

func TestModel_IgnoresSubmitWhileBusy(t *testing.T) {
	gate := make(chan struct{})
	ctrl := newController(t, backend.NewStub(&backend.StubConfig{Gate: gate}))
	m := New(context.Background(), ctrl, Options{})

	enter(m, "one")
	cmd := enter(m, "two")
	assert.Nil(t, cmd)
	assert.Equal(t, "two", m.input.Value())

	m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	drain(t, m)

	users := 0
	for _, e := range m.entries {
		if e.kind == entryUser {
			users++
		}
	}
	assert.Equal(t, 1, users)
}

func TestModel_QuitStopsStreaming(t *testing.T) {
	gate := make(chan struct{})
	ctrl := newController(t, backend.NewStub(&backend.StubConfig{Gate: gate}))
	m := New(context.Background(), ctrl, Options{})

	enter(m, "question")
	events := m.events

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())

	// The goroutine closes its channel once it has given up.
	for range events {
	}
}

// =============================================================================
// COMMANDS
// =============================================================================

func TestModel_Commands(t *testing.T) {
	t.Run("clear", func(t *testing.T) {
		ctrl := newController(t, nil)
		saves := 0
		m := New(context.Background(), ctrl, Options{OnTurn: func() { saves++ }})
		enter(m, "hi")
		drain(t, m)

		for _, msg := range runCmd(enter(m, "/clear")) {
			m.Update(msg)
		}

		require.Equal(t, []entryKind{entryNotice}, kinds(m.entries))
		assert.Equal(t, "Conversation cleared.", m.entries[0].text)
		assert.Empty(t, ctrl.History())
		assert.Equal(t, 2, saves)
	})

	t.Run("exit", func(t *testing.T) {
		m := New(context.Background(), newController(t, nil), Options{})
		cmd := enter(m, "/exit")
		require.NotNil(t, cmd)
		assert.IsType(t, tea.QuitMsg{}, cmd())
	})

	t.Run("unknown", func(t *testing.T) {
		m := New(context.Background(), newController(t, nil), Options{})
		assert.Nil(t, enter(m, "/bogus"))
		require.Len(t, m.entries, 1)
		assert.Equal(t, entryFailure, m.entries[0].kind)
		assert.Equal(t, "WARNING", m.entries[0].severity)
	})

	t.Run("ctrl+c when idle quits", func(t *testing.T) {
		m := New(context.Background(), newController(t, nil), Options{})
		_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
		require.NotNil(t, cmd)
		assert.IsType(t, tea.QuitMsg{}, cmd())
	})

	t.Run("ctrl+c clears typed text first", func(t *testing.T) {
		m := New(context.Background(), newController(t, nil), Options{})
		m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("draft")})
		_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
		assert.Nil(t, cmd)
		assert.Empty(t, m.input.Value())
	})
}

func TestModel_FatalResetQuits(t *testing.T) {
	fatal := &session.TurnError{Category: session.CategoryFatal, Message: "backend gone"}
	m := New(context.Background(), &fakeConversation{resetErr: fatal}, Options{})

	var quit bool
	for _, msg := range runCmd(enter(m, "/clear")) {
		if _, ok := msg.(ResetDoneMsg); !ok {
			continue
		}
		_, cmd := m.Update(msg)
		require.NotNil(t, cmd)
		_, quit = cmd().(tea.QuitMsg)
	}

	assert.True(t, quit)
	assert.ErrorIs(t, m.Err(), fatal)
}

// =============================================================================
// VIEW
// =============================================================================

func TestModel_ShowsRestoredHistory(t *testing.T) {
	ctrl := newController(t, nil)
	require.NoError(t, ctrl.Restore(context.Background(), []model.Message{
		model.NewMessage(model.RoleUser, "earlier question"),
		model.NewMessage(model.RoleAssistant, "earlier answer"),
	}))

	m := New(context.Background(), ctrl, Options{})
	assert.Equal(t, "Starting...", m.View())

	m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	view := m.View()

	assert.Contains(t, view, "rigchat | echo")
	assert.Contains(t, view, "2/10 messages")
	assert.Contains(t, view, "earlier answer")
	assert.Contains(t, view, "Restored 2 messages.")
}
