// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bridge

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jeranaias/rigchat/internal/backend"
	"github.com/jeranaias/rigchat/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// HELPERS
// =============================================================================

type fakeConversation struct {
	mu      sync.Mutex
	prompts []string
	reply   func(prompt string) (string, error)
}

func (f *fakeConversation) Ask(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.reply != nil {
		return f.reply(prompt)
	}
	return "ok: " + prompt, nil
}

func (f *fakeConversation) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

func newBridge(t *testing.T, conv Conversation, cfg *Config) *Bridge {
	t.Helper()
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.Dir = t.TempDir()
	b, err := New(conv, cfg)
	require.NoError(t, err)
	return b
}

func writeRequest(t *testing.T, b *Bridge, name string, v any) string {
	t.Helper()
	var data []byte
	switch x := v.(type) {
	case string:
		data = []byte(x)
	default:
		var err error
		data, err = json.Marshal(v)
		require.NoError(t, err)
	}
	path := filepath.Join(b.Inbox(), name)
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}

func readResponse(t *testing.T, b *Bridge, id string) Response {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(b.Outbox(), id+ResponseSuffix))
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal(data, &resp))
	return resp
}

// =============================================================================
// PROMPT TESTS
// =============================================================================

func TestParseAction(t *testing.T) {
	tests := []struct {
		in      string
		want    Action
		wantErr bool
	}{
		{"explain", ActionExplain, false},
		{" Refactor ", ActionRefactor, false},
		{"DOCUMENT", ActionDocument, false},
		{"", ActionAsk, false},
		{"delete", "", true},
	}
	for _, tt := range tests {
		got, err := ParseAction(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		if got != tt.want {
			t.Errorf("ParseAction(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBuildPrompt_Actions(t *testing.T) {
	code := "func add(a, b int) int { return a + b }"
	tests := []struct {
		action string
		prefix string
	}{
		{"explain", "Explain what the following go code does"},
		{"refactor", "Refactor the following go code"},
		{"document", "Write documentation comments for the following go code"},
		{"ask", "Review the following go code."},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			got, err := BuildPrompt(Request{Action: tt.action, Language: "go", Code: code, File: "math.go"}, 0)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(got, tt.prefix), got)
			assert.Contains(t, got, "File: math.go\n```go\n"+code+"\n```")
		})
	}
}

func TestBuildPrompt_AskWithoutCode(t *testing.T) {
	got, err := BuildPrompt(Request{Action: "ask", Prompt: "  what is a goroutine?  "}, 0)
	require.NoError(t, err)
	assert.Equal(t, "what is a goroutine?", got)
}

func TestBuildPrompt_Errors(t *testing.T) {
	_, err := BuildPrompt(Request{Action: "ask"}, 0)
	assert.ErrorIs(t, err, errNoPrompt)

	_, err = BuildPrompt(Request{Action: "explain", Code: "   "}, 0)
	assert.Error(t, err)

	_, err = BuildPrompt(Request{Action: "launch", Code: "x"}, 0)
	assert.Error(t, err)
}

func TestBuildPrompt_TruncatesCode(t *testing.T) {
	code := strings.Repeat("word ", 200)
	got, err := BuildPrompt(Request{Action: "explain", Code: code}, 50)
	require.NoError(t, err)
	assert.Less(t, len(got), len(code))
	assert.Contains(t, got, "```\n")
}

// =============================================================================
// PROCESSING TESTS
// =============================================================================

func TestProcessFile_WritesResponseAndMovesRequest(t *testing.T) {
	conv := &fakeConversation{}
	var seen []Response
	b := newBridge(t, conv, &Config{OnResponse: func(_ Request, r Response) { seen = append(seen, r) }})

	path := writeRequest(t, b, "a1.request.json", Request{ID: "a1", Action: "explain", Code: "x := 1"})
	resp, err := b.ProcessFile(context.Background(), path)
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.Equal(t, StatusOK, resp.Status)
	assert.Equal(t, "explain", resp.Action)
	assert.True(t, strings.HasPrefix(resp.Reply, "ok: Explain"))
	assert.False(t, resp.CompletedAt.IsZero())

	onDisk := readResponse(t, b, "a1")
	assert.Equal(t, resp.Reply, onDisk.Reply)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(b.cfg.Dir, "processed", "a1.request.json"))
	assert.NoError(t, err)

	handled, failed := b.Counts()
	assert.Equal(t, int64(1), handled)
	assert.Equal(t, int64(0), failed)
	assert.Len(t, seen, 1)
}

func TestProcessFile_IDFromFilename(t *testing.T) {
	b := newBridge(t, &fakeConversation{}, nil)
	path := writeRequest(t, b, "from-name.request.json", Request{Action: "ask", Prompt: "hi"})

	resp, err := b.ProcessFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "from-name", resp.ID)
	assert.Equal(t, "ok: hi", readResponse(t, b, "from-name").Reply)
}

func TestProcessFile_SanitizesID(t *testing.T) {
	b := newBridge(t, &fakeConversation{}, nil)
	path := writeRequest(t, b, "x.request.json", Request{ID: "../../etc/passwd", Action: "ask", Prompt: "hi"})

	resp, err := b.ProcessFile(context.Background(), path)
	require.NoError(t, err)
	assert.NotContains(t, resp.ID, "/")
	assert.False(t, strings.HasPrefix(resp.ID, "."))
	_, err = os.Stat(filepath.Join(b.Outbox(), resp.ID+ResponseSuffix))
	assert.NoError(t, err)
}

func TestProcessFile_InvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		body any
	}{
		{"badjson", `{"action": `},
		{"unknown-action", Request{Action: "launch", Code: "x"}},
		{"empty-ask", Request{Action: "ask"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := &fakeConversation{}
			b := newBridge(t, conv, nil)
			path := writeRequest(t, b, tt.name+RequestSuffix, tt.body)

			resp, err := b.ProcessFile(context.Background(), path)
			require.NoError(t, err)
			assert.Equal(t, StatusError, resp.Status)
			assert.Equal(t, "invalid", resp.Category)
			assert.Equal(t, "ERROR", resp.Severity)
			assert.NotEmpty(t, resp.Error)
			assert.Empty(t, conv.Prompts())

			_, err = os.Stat(path)
			assert.True(t, os.IsNotExist(err), "request should leave the inbox")
			_, failed := b.Counts()
			assert.Equal(t, int64(1), failed)
		})
	}
}

func TestProcessFile_ConversationErrorCategory(t *testing.T) {
	stub := backend.NewStub(&backend.StubConfig{Respond: func(int, string) ([]string, error) {
		return nil, backend.NewError(backend.KindRefusal, "", nil)
	}})
	ctrl, err := session.New(context.Background(), stub, &session.Config{DisablePrewarm: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctrl.Close() })

	b := newBridge(t, ctrl, nil)
	path := writeRequest(t, b, "r.request.json", Request{Action: "ask", Prompt: "something bad"})

	resp, err := b.ProcessFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, "rejected", resp.Category)
	assert.Equal(t, "WARNING", resp.Severity)
}

func TestProcessFile_CanceledLeavesRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	conv := &fakeConversation{reply: func(string) (string, error) {
		cancel()
		return "", context.Canceled
	}}
	b := newBridge(t, conv, nil)
	path := writeRequest(t, b, "c.request.json", Request{Action: "ask", Prompt: "slow"})

	_, err := b.ProcessFile(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = os.Stat(path)
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(b.Outbox(), "c"+ResponseSuffix))
	assert.True(t, os.IsNotExist(err))
}

func TestProcessFile_Missing(t *testing.T) {
	b := newBridge(t, &fakeConversation{}, nil)
	resp, err := b.ProcessFile(context.Background(), filepath.Join(b.Inbox(), "gone.request.json"))
	assert.NoError(t, err)
	assert.Nil(t, resp)
}

// =============================================================================
// WATCH TESTS
// =============================================================================

func runBridge(t *testing.T, b *Bridge) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("bridge did not stop")
		}
	})
}

func responseExists(b *Bridge, id string) func() bool {
	return func() bool {
		_, err := os.Stat(filepath.Join(b.Outbox(), id+ResponseSuffix))
		return err == nil
	}
}

func TestRun_HandlesExistingRequests(t *testing.T) {
	b := newBridge(t, &fakeConversation{}, &Config{Debounce: 20 * time.Millisecond})
	writeRequest(t, b, "early.request.json", Request{Action: "ask", Prompt: "before start"})
	runBridge(t, b)

	require.Eventually(t, responseExists(b, "early"), 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, "ok: before start", readResponse(t, b, "early").Reply)
}

func TestRun_HandlesNewRequests(t *testing.T) {
	conv := &fakeConversation{}
	b := newBridge(t, conv, &Config{Debounce: 20 * time.Millisecond})
	runBridge(t, b)

	writeRequest(t, b, "notes.txt", "ignored")
	writeRequest(t, b, "live.request.json", Request{Action: "ask", Prompt: "after start"})

	require.Eventually(t, responseExists(b, "live"), 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"after start"}, conv.Prompts())

	_, err := os.Stat(filepath.Join(b.Inbox(), "notes.txt"))
	assert.NoError(t, err, "non-request files stay put")
}

func TestRun_Polling(t *testing.T) {
	b := newBridge(t, &fakeConversation{}, &Config{
		Debounce:     10 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
		ForcePolling: true,
	})
	runBridge(t, b)

	writeRequest(t, b, "polled.request.json", Request{Action: "ask", Prompt: "poll"})
	require.Eventually(t, responseExists(b, "polled"), 3*time.Second, 20*time.Millisecond)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, &Config{Dir: t.TempDir()})
	assert.Error(t, err)
	_, err = New(&fakeConversation{}, &Config{})
	assert.Error(t, err)
}
