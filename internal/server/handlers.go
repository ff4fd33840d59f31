// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/jeranaias/rigchat/internal/fetch"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/session"
)

// ============================================================================
// REQUEST AND RESPONSE TYPES
// ============================================================================

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream,omitempty"`
}

// ChatResponse is a completed turn.
type ChatResponse struct {
	Reply     string `json:"reply"`
	SessionID string `json:"session_id"`
	// Warning reports a degraded step, such as a failed page fetch.
	Warning string    `json:"warning,omitempty"`
	Page    *PageInfo `json:"page,omitempty"`
}

// PageInfo identifies the page a fetch turn analyzed.
type PageInfo struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// FetchRequest is the body of POST /api/fetch.
type FetchRequest struct {
	URL string `json:"url"`
	// Directive is what to do with the page (default: summarize it).
	Directive string `json:"directive,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Backend string `json:"backend"`
	State   string `json:"state"`
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Backend       string        `json:"backend"`
	SessionID     string        `json:"session_id"`
	UseCase       string        `json:"use_case"`
	Model         string        `json:"model,omitempty"`
	Temperature   float64       `json:"temperature"`
	Turns         int           `json:"turns"`
	HistoryLen    int           `json:"history_len"`
	MaxHistory    int           `json:"max_history"`
	TranscriptLen int           `json:"transcript_len"`
	Condensations int           `json:"condensations"`
	Busy          bool          `json:"busy"`
	Stats         StatsSnapshot `json:"stats"`
}

// HistoryResponse is the body of GET /api/history.
type HistoryResponse struct {
	Conversation string          `json:"conversation"`
	Messages     []model.Message `json:"messages"`
}

// ============================================================================
// INSPECTION HANDLERS
// ============================================================================

// handleHealth handles GET /health.
func (s *Server) handleHealth(c echo.Context) error {
	st := s.deps.Controller.Status()
	health := HealthResponse{
		Status:  "ok",
		Version: s.cfg.Version,
		Backend: st.Backend,
		State:   st.State.String(),
	}
	if st.State != session.StateReady {
		health.Status = "unavailable"
		return c.JSON(http.StatusServiceUnavailable, health)
	}
	return c.JSON(http.StatusOK, health)
}

// handleStatus handles GET /api/status.
func (s *Server) handleStatus(c echo.Context) error {
	st := s.deps.Controller.Status()
	return c.JSON(http.StatusOK, StatusResponse{
		Backend:       st.Backend,
		SessionID:     st.SessionID,
		UseCase:       string(st.UseCase),
		Model:         st.Model,
		Temperature:   st.Temperature,
		Turns:         st.Turns,
		HistoryLen:    st.HistoryLen,
		MaxHistory:    st.MaxHistory,
		TranscriptLen: st.TranscriptLen,
		Condensations: st.Condensations,
		Busy:          st.Busy,
		Stats:         s.stats.Snapshot(),
	})
}

// handleHistory handles GET /api/history.
func (s *Server) handleHistory(c echo.Context) error {
	msgs := s.deps.Controller.History()
	if msgs == nil {
		msgs = []model.Message{}
	}
	return c.JSON(http.StatusOK, HistoryResponse{Conversation: s.cfg.Conversation, Messages: msgs})
}

// ============================================================================
// CONVERSATION HANDLERS
// ============================================================================

// handleChat handles POST /api/chat. With stream set (in the body or as
// ?stream=true) the reply is sent as server-sent events.
func (s *Server) handleChat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body", ""))
	}
	if len(req.Prompt) > MaxPromptLength {
		return c.JSON(http.StatusRequestEntityTooLarge, errorBody(fmt.Sprintf("prompt exceeds %d bytes", MaxPromptLength), ""))
	}
	if v, err := strconv.ParseBool(c.QueryParam("stream")); err == nil {
		req.Stream = v
	}

	ctx := c.Request().Context()
	turn, err := s.deps.Controller.Send(ctx, req.Prompt)
	if err != nil {
		return turnError(c, err)
	}
	if req.Stream {
		return s.streamTurn(c, turn)
	}

	reply, err := s.drain(turn, nil)
	if err != nil {
		return turnError(c, err)
	}
	return c.JSON(http.StatusOK, ChatResponse{Reply: reply, SessionID: turn.SessionID()})
}

// streamTurn writes a turn as SSE: one data event per delta, then a done or
// error event.
func (s *Server) streamTurn(c echo.Context, turn *session.Turn) error {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(event string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if event != "" {
			if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		w.Flush()
		return nil
	}

	reply, err := s.drain(turn, func(delta string) error {
		return send("", map[string]string{"delta": delta})
	})
	if err != nil {
		category := session.CategoryOf(err).String()
		return send("error", APIError{Message: err.Error(), Category: category})
	}
	return send("done", ChatResponse{Reply: reply, SessionID: turn.SessionID()})
}

// handleReset handles POST /api/reset.
func (s *Server) handleReset(c echo.Context) error {
	if err := s.deps.Controller.Reset(c.Request().Context()); err != nil {
		return turnError(c, err)
	}
	s.save()
	return c.JSON(http.StatusOK, map[string]string{
		"status":     "ok",
		"session_id": s.deps.Controller.Status().SessionID,
	})
}

// handleFetch handles POST /api/fetch: the page is fetched, composed into a
// prompt with the directive, and sent. A failed fetch degrades to a notice
// prompt and is reported in the response's warning.
func (s *Server) handleFetch(c echo.Context) error {
	if s.deps.Fetcher == nil {
		return c.JSON(http.StatusNotImplemented, errorBody("page fetching is not enabled", ""))
	}
	var req FetchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body", ""))
	}
	if strings.TrimSpace(req.URL) == "" {
		return c.JSON(http.StatusBadRequest, errorBody("url is required", ""))
	}

	ctx := c.Request().Context()
	page, warning := s.fetchPage(ctx, req.URL)

	turn, err := s.deps.Controller.Send(ctx, s.deps.Composer.ComposePage(page, req.Directive))
	if err != nil {
		return turnError(c, err)
	}
	reply, err := s.drain(turn, nil)
	if err != nil {
		return turnError(c, err)
	}

	resp := ChatResponse{Reply: reply, SessionID: turn.SessionID(), Warning: warning}
	if page != nil {
		resp.Page = &PageInfo{Title: page.Title, URL: page.URL}
	}
	return c.JSON(http.StatusOK, resp)
}

// fetchPage retrieves rawURL as text. On failure it returns a nil page and
// a warning.
func (s *Server) fetchPage(ctx context.Context, rawURL string) (*fetch.PageResult, string) {
	s.stats.Fetches.Add(1)
	page, err := s.deps.Fetcher.Fetch(ctx, fetch.Request{URL: rawURL, Mode: fetch.ModeText, Timeout: s.cfg.FetchTimeout})
	if err != nil {
		s.log.Warn("fetch failed", zap.String("url", rawURL), zap.Error(err))
		return nil, fmt.Sprintf("could not fetch %s: %v", rawURL, err)
	}
	return page, ""
}
