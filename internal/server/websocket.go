// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/jeranaias/rigchat/internal/session"
)

const (
	wsMaxMessageSize = 1 << 20
	wsWriteTimeout   = 10 * time.Second
)

// Websocket message types sent by the server.
const (
	WSTypeDelta = "delta"
	WSTypeDone  = "done"
	WSTypeError = "error"
)

// WSRequest is a client message on /ws.
type WSRequest struct {
	Prompt string `json:"prompt"`
}

// WSMessage is a server message on /ws.
type WSMessage struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Category  string `json:"category,omitempty"`
	Message   string `json:"message,omitempty"`
}

// handleWebSocket handles GET /ws. Each client message starts a turn whose
// deltas are streamed back before the next message is read.
func (s *Server) handleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return nil
	}
	defer ws.Close()
	ws.SetReadLimit(wsMaxMessageSize)

	write := func(msg WSMessage) error {
		_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return ws.WriteJSON(msg)
	}

	ctx := c.Request().Context()
	for {
		var req WSRequest
		if err := ws.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("websocket read failed", zap.Error(err))
			}
			return nil
		}

		turn, err := s.deps.Controller.Send(ctx, req.Prompt)
		if err != nil {
			if werr := write(wsError(err)); werr != nil {
				return nil
			}
			continue
		}

		reply, err := s.drain(turn, func(delta string) error {
			return write(WSMessage{Type: WSTypeDelta, Text: delta})
		})
		if err != nil {
			if werr := write(wsError(err)); werr != nil {
				return nil
			}
			continue
		}
		if err := write(WSMessage{Type: WSTypeDone, Text: reply, SessionID: turn.SessionID()}); err != nil {
			return nil
		}
	}
}

func wsError(err error) WSMessage {
	return WSMessage{Type: WSTypeError, Category: session.CategoryOf(err).String(), Message: err.Error()}
}
