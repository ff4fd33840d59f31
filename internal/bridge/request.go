// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bridge

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/rigchat/internal/compose"
)

// =============================================================================
// ACTIONS
// =============================================================================

// Action is what the editor asks for.
type Action string

const (
	ActionExplain  Action = "explain"
	ActionRefactor Action = "refactor"
	ActionDocument Action = "document"
	ActionAsk      Action = "ask"
)

// ParseAction validates an action name. The empty string means ask.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case "":
		return ActionAsk, nil
	case ActionExplain, ActionRefactor, ActionDocument, ActionAsk:
		return a, nil
	}
	return "", fmt.Errorf("unknown action %q (want explain, refactor, document or ask)", s)
}

// =============================================================================
// WIRE TYPES
// =============================================================================

// Request is the content of an inbox/<id>.request.json file.
type Request struct {
	ID       string `json:"id"`
	Action   string `json:"action"`
	Code     string `json:"code,omitempty"`
	Language string `json:"language,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
	// File is the source path the code came from, for context only.
	File string `json:"file,omitempty"`
}

// Response statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Response is written to outbox/<id>.response.json.
type Response struct {
	ID     string `json:"id"`
	Action string `json:"action,omitempty"`
	Status string `json:"status"`
	Reply  string `json:"reply,omitempty"`
	// Severity is "ERROR" or "WARNING" for failed requests.
	Severity    string    `json:"severity,omitempty"`
	Category    string    `json:"category,omitempty"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

var errNoPrompt = errors.New("ask requests need a prompt or code")

// =============================================================================
// PROMPTS
// =============================================================================

// BuildPrompt turns a request into the prompt sent to the model. Code is
// cleaned and truncated to maxChars runes (0 = compose.DefaultMaxChars).
func BuildPrompt(req Request, maxChars int) (string, error) {
	action, err := ParseAction(req.Action)
	if err != nil {
		return "", err
	}
	if maxChars <= 0 {
		maxChars = compose.DefaultMaxChars
	}

	lang := strings.TrimSpace(req.Language)
	code := compose.Clean(req.Code)
	if strings.TrimSpace(code) != "" {
		code = compose.Truncate(code, maxChars)
	} else {
		code = ""
	}

	var instruction string
	switch action {
	case ActionExplain:
		instruction = "Explain what the following " + describe(lang) + " does, step by step."
	case ActionRefactor:
		instruction = "Refactor the following " + describe(lang) + " for clarity and maintainability. Return the complete revised code followed by a short list of the changes."
	case ActionDocument:
		instruction = "Write documentation comments for the following " + describe(lang) + ". Return the code with the comments added."
	case ActionAsk:
		instruction = strings.TrimSpace(req.Prompt)
		if instruction == "" && code == "" {
			return "", errNoPrompt
		}
		if code == "" {
			return instruction, nil
		}
		if instruction == "" {
			instruction = "Review the following " + describe(lang) + "."
		}
	}
	if code == "" {
		return "", fmt.Errorf("%s requests need code", action)
	}

	var b strings.Builder
	b.WriteString(instruction)
	b.WriteString("\n\n")
	if req.File != "" {
		b.WriteString("File: " + req.File + "\n")
	}
	b.WriteString("```" + strings.ToLower(lang) + "\n")
	b.WriteString(code)
	b.WriteString("\n```")
	return b.String(), nil
}

func describe(lang string) string {
	if lang == "" {
		return "code"
	}
	return lang + " code"
}
