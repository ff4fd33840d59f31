// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// SQLITE STORE
// =============================================================================

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS messages (
	conversation TEXT    NOT NULL,
	seq          INTEGER NOT NULL,
	role         TEXT    NOT NULL,
	content      TEXT    NOT NULL,
	timestamp    INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL,
	PRIMARY KEY (conversation, seq)
);
`

// SQLiteStore keeps all conversations in one SQLite table.
type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db, log: logger.Named("storage")}, nil
}

// Load implements Store.
func (s *SQLiteStore) Load(name string) ([]model.Message, error) {
	name = SanitizeName(name)
	rows, err := s.db.Query(`SELECT role, content, timestamp FROM messages WHERE conversation = ? ORDER BY seq`, name)
	if err != nil {
		s.log.Warn("conversation unreadable", zap.String("name", name), zap.Error(err))
		return []model.Message{}, corrupt(name, err)
	}
	defer rows.Close()

	msgs := []model.Message{}
	for rows.Next() {
		var (
			m    model.Message
			role string
			ts   int64
		)
		if err := rows.Scan(&role, &m.Content, &ts); err != nil {
			return []model.Message{}, corrupt(name, err)
		}
		m.Role = model.Role(role)
		m.Timestamp = time.Unix(0, ts)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return []model.Message{}, corrupt(name, err)
	}
	return validMessages(msgs), nil
}

// Save implements Store. The old rows are replaced in one transaction.
func (s *SQLiteStore) Save(name string, msgs []model.Message) error {
	name = SanitizeName(name)
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation = ?`, name); err != nil {
		return fmt.Errorf("failed to clear conversation: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO messages (conversation, seq, role, content, timestamp, updated_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixNano()
	for i, m := range msgs {
		if _, err := stmt.Exec(name, i, string(m.Role), m.Content, m.Timestamp.UnixNano(), now); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	s.log.Debug("conversation saved", zap.String("name", name), zap.Int("messages", len(msgs)))
	return nil
}

// List implements Store. A conversation saved empty has no rows and is
// not listed.
func (s *SQLiteStore) List() ([]ConversationMeta, error) {
	rows, err := s.db.Query(`SELECT conversation, MAX(updated_at) FROM messages GROUP BY conversation ORDER BY MAX(updated_at) DESC, conversation`)
	if err != nil {
		return nil, err
	}
	type entry struct {
		name    string
		updated int64
	}
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.name, &e.updated); err != nil {
			rows.Close()
			return nil, err
		}
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	metas := make([]ConversationMeta, 0, len(entries))
	for _, e := range entries {
		msgs, err := s.Load(e.name)
		if err != nil {
			continue
		}
		metas = append(metas, metaFor(e.name, msgs, time.Unix(0, e.updated)))
	}
	return metas, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(name string) error {
	res, err := s.db.Exec(`DELETE FROM messages WHERE conversation = ?`, SanitizeName(name))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
