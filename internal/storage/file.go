// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/util"
)

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore keeps each conversation in <BaseDir>/<name>.json as an ordered
// JSON array of {role, content, timestamp}.
type FileStore struct {
	// BaseDir is the directory for storing conversations.
	BaseDir string

	// MaxConversations limits stored conversations (0 = unlimited).
	MaxConversations int

	log *zap.Logger
	mu  sync.Mutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a store under baseDir, creating the directory.
func NewFileStore(baseDir string, logger *zap.Logger) (*FileStore, error) {
	if baseDir == "" {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		baseDir = dir
	}
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{BaseDir: baseDir, log: logger.Named("storage")}, nil
}

// Path returns the file backing a conversation.
func (s *FileStore) Path(name string) string {
	return filepath.Join(s.BaseDir, SanitizeName(name)+".json")
}

// Load implements Store.
func (s *FileStore) Load(name string) ([]model.Message, error) {
	path := s.Path(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []model.Message{}, nil
		}
		s.log.Warn("conversation unreadable", zap.String("path", path), zap.Error(err))
		return []model.Message{}, corrupt(name, err)
	}

	var msgs []model.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		s.log.Warn("conversation corrupt", zap.String("path", path), zap.Error(err))
		return []model.Message{}, corrupt(name, err)
	}
	return validMessages(msgs), nil
}

// Save implements Store. The file is replaced atomically.
func (s *FileStore) Save(name string, msgs []model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msgs == nil {
		msgs = []model.Message{}
	}
	if err := util.AtomicWriteJSON(s.Path(name), msgs, 0600); err != nil {
		return err
	}
	s.log.Debug("conversation saved", zap.String("name", SanitizeName(name)), zap.Int("messages", len(msgs)))

	if s.MaxConversations > 0 {
		s.enforceLimit()
	}
	return nil
}

// enforceLimit removes oldest conversations if over limit.
func (s *FileStore) enforceLimit() {
	metas, err := s.List()
	if err != nil || len(metas) <= s.MaxConversations {
		return
	}
	for _, m := range metas[s.MaxConversations:] {
		_ = os.Remove(s.Path(m.Name))
	}
}

// List implements Store. Unreadable files are skipped.
func (s *FileStore) List() ([]ConversationMeta, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []ConversationMeta{}, nil
		}
		return nil, err
	}

	metas := []ConversationMeta{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".json")
		msgs, err := s.Load(name)
		if err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		metas = append(metas, metaFor(name, msgs, info.ModTime()))
	}

	// Sort by updated time (most recent first)
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	return metas, nil
}

// Delete implements Store.
func (s *FileStore) Delete(name string) error {
	if err := os.Remove(s.Path(name)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrConversationNotFound
		}
		return err
	}
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	return nil
}
