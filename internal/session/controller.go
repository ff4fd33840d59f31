// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/jeranaias/rigchat/internal/backend"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/stream"
	"github.com/jeranaias/rigchat/internal/transcript"
)

// =============================================================================
// STATE
// =============================================================================

// State is the lifecycle state of a Controller.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateTornDown:
		return "torn-down"
	default:
		return "uninitialized"
	}
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config configures a Controller.
type Config struct {
	UseCase      backend.UseCase
	Instructions string
	Model        string
	Temperature  float64

	// MaxHistory bounds the message store (default 10).
	MaxHistory int

	// KeepRecent is how many trailing transcript entries survive an
	// overflow condensation (default 6).
	KeepRecent int

	// DisablePrewarm skips the best-effort prewarm of new sessions.
	DisablePrewarm bool

	Logger *zap.Logger
}

// DefaultInstructions frames every general-purpose session.
const DefaultInstructions = "You are a helpful assistant. Answer clearly and concisely."

// DefaultConfig returns the default controller configuration.
func DefaultConfig() *Config {
	return &Config{
		UseCase:      backend.UseCaseGeneral,
		Instructions: DefaultInstructions,
		Temperature:  0.7,
		MaxHistory:   model.DefaultMaxHistory,
		KeepRecent:   transcript.DefaultKeepRecent,
	}
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller coordinates one conversation: the active backend session, the
// bounded message store, and overflow recovery. All methods are safe for
// concurrent use, but only one turn may be in flight at a time.
type Controller struct {
	backend   backend.Backend
	condenser *transcript.Condenser
	log       *zap.Logger
	prewarm   bool

	mu            sync.Mutex
	state         State
	cfg           backend.SessionConfig
	temperature   float64
	sess          backend.Session
	store         *model.Store
	turns         int
	condensations int
	busy          bool

	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup
}

// New checks that b is available and opens the first session.
//
// An unavailable backend yields a CategoryFatal *TurnError whose Reason says
// why.
func New(ctx context.Context, b backend.Backend, config *Config) (*Controller, error) {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	if cfg.UseCase == "" {
		cfg.UseCase = backend.UseCaseGeneral
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	c := &Controller{
		backend:     b,
		condenser:   transcript.NewCondenser(&transcript.CondenserConfig{KeepRecent: cfg.KeepRecent}),
		log:         cfg.Logger.With(zap.String("backend", b.Name())),
		prewarm:     !cfg.DisablePrewarm,
		cfg:         backend.SessionConfig{UseCase: cfg.UseCase, Instructions: cfg.Instructions, Model: cfg.Model},
		temperature: backend.ClampTemperature(cfg.Temperature),
		store:       model.NewStore(cfg.MaxHistory),
	}

	avail := b.Availability(ctx)
	if !avail.Available {
		c.log.Warn("backend unavailable", zap.Stringer("reason", avail.Reason), zap.String("detail", avail.Detail))
		return nil, unavailableError(avail, b.Name())
	}

	sess, err := b.NewSession(ctx, c.cfg, transcript.Transcript{})
	if err != nil {
		return nil, &TurnError{
			Category: CategoryFatal,
			Kind:     backend.KindOf(err),
			Reason:   backend.ReasonOther,
			Message:  "could not start a " + b.Name() + " session: " + err.Error(),
			Cause:    err,
		}
	}

	c.bgCtx, c.bgCancel = context.WithCancel(context.Background())
	c.state = StateReady

	c.mu.Lock()
	c.install(sess)
	c.mu.Unlock()

	c.log.Debug("session controller ready", zap.String("session", sess.ID()))
	return c, nil
}

// install makes sess the active session. Callers hold c.mu.
func (c *Controller) install(sess backend.Session) {
	old := c.sess
	c.sess = sess
	if old != nil && old != sess {
		release(old)
	}
	if c.prewarm {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.backend.Prewarm(c.bgCtx, sess)
		}()
	}
}

// release closes a replaced session when the backend supports it.
func release(s backend.Session) {
	if closer, ok := s.(io.Closer); ok {
		_ = closer.Close()
	}
}

// claim marks the controller busy. Callers hold c.mu.
func (c *Controller) claim() error {
	switch c.state {
	case StateTornDown:
		return ErrTornDown
	case StateUninitialized:
		return ErrNotReady
	}
	if c.busy {
		return ErrBusy
	}
	c.busy = true
	return nil
}

// Send starts a turn. The user message is stored immediately; the reply is
// produced as the returned Turn is consumed.
//
// Send fails with ErrBusy while another turn is in flight and with
// ErrEmptyPrompt for a blank prompt.
func (c *Controller) Send(ctx context.Context, prompt string) (*Turn, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.claim(); err != nil {
		return nil, err
	}
	c.store.Append(model.RoleUser, prompt)

	return &Turn{
		c:           c,
		ctx:         ctx,
		prompt:      prompt,
		sess:        c.sess,
		temperature: c.temperature,
		acc:         stream.NewAccumulator(),
	}, nil
}

// Ask sends prompt and waits for the complete reply.
func (c *Controller) Ask(ctx context.Context, prompt string) (string, error) {
	turn, err := c.Send(ctx, prompt)
	if err != nil {
		return "", err
	}
	return turn.Result()
}

// completeTurn records a successful reply.
func (c *Controller) completeTurn(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false
	if c.state != StateReady {
		return
	}
	c.store.Append(model.RoleAssistant, text)
	c.turns++
}

// endTurn releases the busy flag without storing a reply.
func (c *Controller) endTurn() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
}

// recoverOverflow replaces failed with a session built from its condensed
// transcript. The controller is still busy, so nothing else can swap the
// session meanwhile.
func (c *Controller) recoverOverflow(ctx context.Context, failed backend.Session) error {
	c.mu.Lock()
	cfg := c.cfg
	c.mu.Unlock()

	res := c.condenser.Condense(failed.Transcript())
	sess, err := c.backend.NewSession(ctx, cfg, res.Transcript)
	if err != nil {
		c.log.Error("overflow recovery failed", zap.Error(err))
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		release(sess)
		return ErrTornDown
	}
	c.install(sess)
	c.turns = 0
	c.condensations++

	c.log.Info("transcript condensed after context overflow",
		zap.String("old_session", failed.ID()),
		zap.String("new_session", sess.ID()),
		zap.Int("dropped", res.Dropped),
		zap.Int("kept", res.Transcript.Len()),
	)
	return nil
}

// Reset clears the message history and starts a fresh session.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	if err := c.claim(); err != nil {
		c.mu.Unlock()
		return err
	}
	cfg := c.cfg
	c.mu.Unlock()

	sess, err := c.backend.NewSession(ctx, cfg, transcript.Transcript{})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false
	if err != nil {
		return sessionError(err)
	}
	if c.state != StateReady {
		release(sess)
		return ErrTornDown
	}
	c.install(sess)
	c.store.Clear()
	c.turns = 0
	c.log.Debug("session reset", zap.String("session", sess.ID()))
	return nil
}

// SetInstructions replaces the session with one framed by instructions. The
// dialogue so far is carried over.
func (c *Controller) SetInstructions(ctx context.Context, instructions string) error {
	return c.reconfigure(ctx, func(cfg *backend.SessionConfig) {
		cfg.Instructions = instructions
	})
}

// SetUseCase replaces the session with one configured for uc.
func (c *Controller) SetUseCase(ctx context.Context, uc backend.UseCase) error {
	return c.reconfigure(ctx, func(cfg *backend.SessionConfig) {
		cfg.UseCase = uc
	})
}

// SetModel replaces the session with one running model.
func (c *Controller) SetModel(ctx context.Context, model string) error {
	return c.reconfigure(ctx, func(cfg *backend.SessionConfig) {
		cfg.Model = model
	})
}

// SetTemperature changes the sampling temperature of later turns. The value
// is clamped to [0, 1] and the clamped value is returned.
func (c *Controller) SetTemperature(t float64) float64 {
	t = backend.ClampTemperature(t)
	c.mu.Lock()
	c.temperature = t
	c.mu.Unlock()
	return t
}

func (c *Controller) reconfigure(ctx context.Context, mutate func(*backend.SessionConfig)) error {
	c.mu.Lock()
	if err := c.claim(); err != nil {
		c.mu.Unlock()
		return err
	}
	next := c.cfg
	mutate(&next)
	history := withInstructions(c.sess.Transcript(), next.Instructions)
	c.mu.Unlock()

	sess, err := c.backend.NewSession(ctx, next, history)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false
	if err != nil {
		return sessionError(err)
	}
	if c.state != StateReady {
		release(sess)
		return ErrTornDown
	}
	c.cfg = next
	c.install(sess)
	return nil
}

// Restore seeds the conversation from persisted messages. The store keeps the
// newest messages it can hold and a session is rebuilt whose transcript
// replays them.
func (c *Controller) Restore(ctx context.Context, msgs []model.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	c.mu.Lock()
	if err := c.claim(); err != nil {
		c.mu.Unlock()
		return err
	}
	cfg := c.cfg
	c.mu.Unlock()

	entries := []transcript.Entry{transcript.Instructions(cfg.Instructions)}
	replies := 0
	for _, m := range msgs {
		switch m.Role {
		case model.RoleUser:
			entries = append(entries, transcript.Prompt(m.Content))
		case model.RoleAssistant:
			entries = append(entries, transcript.Response(m.Content))
			replies++
		}
	}

	sess, err := c.backend.NewSession(ctx, cfg, transcript.New(entries...))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false
	if err != nil {
		return sessionError(err)
	}
	if c.state != StateReady {
		release(sess)
		return ErrTornDown
	}
	c.install(sess)
	c.store.Restore(msgs)
	c.turns = replies
	c.log.Debug("conversation restored", zap.Int("messages", c.store.Count()))
	return nil
}

// withInstructions returns t with its leading instructions entry replaced by
// instructions, or prepended when t does not start with one.
func withInstructions(t transcript.Transcript, instructions string) transcript.Transcript {
	rest := t.Entries()
	if len(rest) > 0 && rest[0].Kind == transcript.KindInstructions {
		rest = rest[1:]
	}
	return transcript.New(append([]transcript.Entry{transcript.Instructions(instructions)}, rest...)...)
}

// =============================================================================
// INSPECTION
// =============================================================================

// Status is a point-in-time view of a Controller.
type Status struct {
	State         State
	Backend       string
	SessionID     string
	UseCase       backend.UseCase
	Model         string
	Instructions  string
	Temperature   float64
	Turns         int
	HistoryLen    int
	MaxHistory    int
	TranscriptLen int
	Condensations int
	Busy          bool
}

// Status returns a snapshot of the controller's state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		State:         c.state,
		Backend:       c.backend.Name(),
		UseCase:       c.cfg.UseCase,
		Model:         c.cfg.Model,
		Instructions:  c.cfg.Instructions,
		Temperature:   c.temperature,
		Turns:         c.turns,
		HistoryLen:    c.store.Count(),
		MaxHistory:    c.store.Cap(),
		Condensations: c.condensations,
		Busy:          c.busy,
	}
	if c.sess != nil {
		st.SessionID = c.sess.ID()
		st.TranscriptLen = c.sess.Transcript().Len()
	}
	return st
}

// History returns a copy of the stored messages, oldest first.
func (c *Controller) History() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Snapshot()
}

// Recent returns the last n stored messages, oldest first.
func (c *Controller) Recent(n int) []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Recent(n)
}

// Close tears the controller down and waits for background prewarms to stop.
// It is safe to call more than once.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.state == StateTornDown {
		c.mu.Unlock()
		return nil
	}
	c.state = StateTornDown
	if c.sess != nil {
		release(c.sess)
		c.sess = nil
	}
	c.mu.Unlock()

	if c.bgCancel != nil {
		c.bgCancel()
	}
	c.wg.Wait()
	c.log.Debug("session controller closed")
	return nil
}
