// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/util"
)

// DefaultConversation is the name used when none is given.
const DefaultConversation = "current"

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store persists conversation snapshots by name.
type Store interface {
	// Load returns the saved messages. A missing conversation is an empty
	// history; an unreadable one is an empty history plus an error wrapping
	// ErrCorrupt, which callers report as a warning.
	Load(name string) ([]model.Message, error)
	// Save replaces the conversation with msgs.
	Save(name string, msgs []model.Message) error
	// List returns all conversations, most recently updated first.
	List() ([]ConversationMeta, error)
	// Delete removes a conversation.
	Delete(name string) error
	Close() error
}

// ConversationMeta contains metadata for listing conversations.
type ConversationMeta struct {
	Name         string    `json:"name"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview"` // First user message truncated
}

// =============================================================================
// ERRORS
// =============================================================================

// ConversationError represents a conversation-related error.
// It implements the error interface and can be compared using errors.Is.
type ConversationError struct {
	Message string
}

// Error implements the error interface.
func (e *ConversationError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing conversation errors.
func (e *ConversationError) Is(target error) bool {
	t, ok := target.(*ConversationError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

var (
	// ErrConversationNotFound is returned when a conversation doesn't exist.
	ErrConversationNotFound = &ConversationError{Message: "conversation not found"}
	// ErrCorrupt marks a snapshot that exists but could not be read.
	ErrCorrupt = &ConversationError{Message: "conversation snapshot is corrupt"}
)

// IsCorrupt reports whether err came from an unreadable snapshot.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrCorrupt)
}

func corrupt(name string, cause error) error {
	return fmt.Errorf("%w: %s: %v", ErrCorrupt, name, cause)
}

// =============================================================================
// HELPERS
// =============================================================================

// SanitizeName maps a user-supplied conversation name to a safe file stem.
// Characters outside [A-Za-z0-9._-] become '_'; leading dots are dropped so
// names cannot be hidden files or path components.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	s := strings.TrimLeft(b.String(), ".")
	if s == "" {
		return DefaultConversation
	}
	return s
}

// DefaultDir returns ~/.rigchat/conversations.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".rigchat", "conversations"), nil
}

// validMessages drops entries with unknown roles.
func validMessages(msgs []model.Message) []model.Message {
	out := msgs[:0]
	for _, m := range msgs {
		if r, ok := model.ParseRole(string(m.Role)); ok {
			m.Role = r
			out = append(out, m)
		}
	}
	return out
}

func metaFor(name string, msgs []model.Message, updated time.Time) ConversationMeta {
	preview := ""
	for _, m := range msgs {
		if m.Role == model.RoleUser {
			preview = util.Preview(m.Content, 80)
			break
		}
	}
	return ConversationMeta{Name: name, UpdatedAt: updated, MessageCount: len(msgs), Preview: preview}
}

// =============================================================================
// LIST FORMATTING
// =============================================================================

// FormatList renders conversations as a table of name, update time, message
// count and preview.
func FormatList(metas []ConversationMeta) string {
	if len(metas) == 0 {
		return "No saved conversations."
	}

	var b strings.Builder
	b.WriteString(util.PadRight("NAME", 20) + "  " + util.PadRight("UPDATED", 16) + "  MSGS  PREVIEW\n")
	for _, m := range metas {
		fmt.Fprintf(&b, "%s  %s  %4d  %s\n",
			util.PadRight(m.Name, 20),
			util.PadRight(m.UpdatedAt.Local().Format("2006-01-02 15:04"), 16),
			m.MessageCount,
			util.TruncateWidth(m.Preview, 50))
	}
	return b.String()
}
