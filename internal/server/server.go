// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/rigchat/internal/compose"
	"github.com/jeranaias/rigchat/internal/fetch"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/session"
	"github.com/jeranaias/rigchat/internal/storage"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr keeps the API on the loopback interface.
	DefaultAddr = "127.0.0.1:8787"

	// MaxRequestBodySize bounds JSON request bodies.
	MaxRequestBodySize = "1M"

	// MaxPromptLength is the longest prompt accepted, in bytes.
	MaxPromptLength = 100000

	// shutdownTimeout bounds graceful shutdown.
	shutdownTimeout = 10 * time.Second
)

// ============================================================================
// DEPENDENCIES
// ============================================================================

// Conversation is the controller surface the API drives.
type Conversation interface {
	Send(ctx context.Context, prompt string) (*session.Turn, error)
	Reset(ctx context.Context) error
	Status() session.Status
	History() []model.Message
}

var _ Conversation = (*session.Controller)(nil)

// Config configures a Server.
type Config struct {
	Addr string
	// AllowedOrigins for websocket upgrades; empty means same host only.
	AllowedOrigins []string
	// Token, when set, is required as a bearer token on /api and /ws.
	Token string
	// RequestsPerMinute limits each client address (0 = unlimited).
	RequestsPerMinute int
	// Conversation names the snapshot saved after each turn.
	Conversation string
	// FetchTimeout bounds page retrieval for /api/fetch.
	FetchTimeout time.Duration
	Version      string

	Logger *zap.Logger
}

// Deps are the components a Server serves.
type Deps struct {
	Controller Conversation
	// Store persists the conversation; nil disables saving.
	Store storage.Store
	// Fetcher backs /api/fetch; nil disables the route.
	Fetcher  fetch.Fetcher
	Composer *compose.Composer
}

// ============================================================================
// STATS
// ============================================================================

// Stats counts turns served since start.
type Stats struct {
	Turns     atomic.Int64
	Completed atomic.Int64
	Failed    atomic.Int64
	Fetches   atomic.Int64
	StartTime time.Time
}

// StatsSnapshot is the JSON form of Stats.
type StatsSnapshot struct {
	Turns         int64 `json:"turns"`
	Completed     int64 `json:"completed"`
	Failed        int64 `json:"failed"`
	Fetches       int64 `json:"fetches"`
	UptimeSeconds int64 `json:"uptime_seconds"`
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Turns:         s.Turns.Load(),
		Completed:     s.Completed.Load(),
		Failed:        s.Failed.Load(),
		Fetches:       s.Fetches.Load(),
		UptimeSeconds: int64(time.Since(s.StartTime).Seconds()),
	}
}

// ============================================================================
// SERVER
// ============================================================================

// Server exposes one conversation over HTTP, SSE and websockets.
type Server struct {
	cfg      Config
	deps     Deps
	log      *zap.Logger
	echo     *echo.Echo
	upgrader websocket.Upgrader
	stats    *Stats
}

// New creates a Server and registers its routes.
func New(config *Config, deps Deps) *Server {
	var cfg Config
	if config != nil {
		cfg = *config
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Conversation == "" {
		cfg.Conversation = storage.DefaultConversation
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if deps.Composer == nil {
		deps.Composer = compose.New(0)
	}

	s := &Server{
		cfg:   cfg,
		deps:  deps,
		log:   cfg.Logger.Named("server"),
		echo:  echo.New(),
		stats: &Stats{StartTime: time.Now()},
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(s.cfg.AllowedOrigins, r)
		},
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	e := s.echo
	e.Use(middleware.Recover())
	e.Use(requestLogger(s.log))
	e.Use(securityHeaders())
	e.Use(middleware.BodyLimit(MaxRequestBodySize))

	e.GET("/health", s.handleHealth)

	api := e.Group("/api", bearerAuth(s.cfg.Token, s.log), rateLimit(s.cfg.RequestsPerMinute))
	api.GET("/status", s.handleStatus)
	api.GET("/history", s.handleHistory)
	api.POST("/chat", s.handleChat)
	api.POST("/reset", s.handleReset)
	api.POST("/fetch", s.handleFetch)

	e.GET("/ws", s.handleWebSocket, bearerAuth(s.cfg.Token, s.log))
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Stats returns the server's counters.
func (s *Server) Stats() *Stats {
	return s.stats
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("server start", zap.String("addr", s.cfg.Addr), zap.String("version", s.cfg.Version))
		if err := s.echo.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.log.Info("server shutdown")
		return s.echo.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// ============================================================================
// TURNS
// ============================================================================

// drain consumes turn, passing each delta to onDelta. An onDelta error
// abandons the turn. A completed turn is saved.
func (s *Server) drain(turn *session.Turn, onDelta func(string) error) (string, error) {
	s.stats.Turns.Add(1)
	for delta := range turn.Deltas() {
		if onDelta == nil {
			continue
		}
		if err := onDelta(delta); err != nil {
			s.log.Debug("client went away mid-turn", zap.Error(err))
			break
		}
	}

	text, err := turn.Result()
	if err != nil {
		s.stats.Failed.Add(1)
		return text, err
	}
	s.stats.Completed.Add(1)
	s.save()
	return text, nil
}

// save writes the conversation snapshot; failures are logged and ignored.
func (s *Server) save() {
	if s.deps.Store == nil {
		return
	}
	if err := s.deps.Store.Save(s.cfg.Conversation, s.deps.Controller.History()); err != nil {
		s.log.Warn("could not save conversation", zap.String("conversation", s.cfg.Conversation), zap.Error(err))
	}
}

// statusFor maps a controller error to an HTTP status.
func statusFor(err error) int {
	var te *session.TurnError
	if !errors.As(err, &te) {
		return http.StatusInternalServerError
	}
	switch te.Category {
	case session.CategoryBusy, session.CategoryOverflow:
		return http.StatusConflict
	case session.CategoryRejected:
		return http.StatusUnprocessableEntity
	case session.CategoryRetry:
		return http.StatusTooManyRequests
	case session.CategoryFatal:
		return http.StatusServiceUnavailable
	case session.CategoryCanceled:
		return http.StatusRequestTimeout
	case session.CategoryDegraded:
		return http.StatusOK
	default:
		return http.StatusBadGateway
	}
}

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// APIError describes a failure.
type APIError struct {
	Message  string `json:"message"`
	Category string `json:"category,omitempty"`
}

func errorBody(message, category string) ErrorResponse {
	return ErrorResponse{Error: APIError{Message: message, Category: category}}
}

// turnError renders a controller error.
func turnError(c echo.Context, err error) error {
	category := ""
	if errors.As(err, new(*session.TurnError)) {
		category = session.CategoryOf(err).String()
	}
	return c.JSON(statusFor(err), errorBody(err.Error(), category))
}
