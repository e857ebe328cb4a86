// Package store persists suggestion history to SQLite so the duplicate
// suppression cooldown survives restarts.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"codewatch/internal/logging"
)

// HistoryStore implements memoria.History on SQLite.
type HistoryStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewHistoryStore initializes the SQLite database at the given path.
func NewHistoryStore(path string) (*HistoryStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &HistoryStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Get(logging.CategoryStore).Info("suggestion history at %s", path)
	return s, nil
}

func (s *HistoryStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS suggestion_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		suggestion_hash TEXT NOT NULL,
		emitted_at INTEGER NOT NULL,
		feedback TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_history_hash ON suggestion_history(suggestion_hash);
	CREATE INDEX IF NOT EXISTS idx_history_emitted ON suggestion_history(emitted_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SeenWithin reports whether the hash was emitted within the window.
func (s *HistoryStore) SeenWithin(hash string, window time.Duration) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-window).Unix()
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM suggestion_history WHERE suggestion_hash = ? AND emitted_at >= ?",
		hash, cutoff,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query history: %w", err)
	}
	return count > 0, nil
}

// Record appends an emission.
func (s *HistoryStore) Record(hash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT INTO suggestion_history (suggestion_hash, emitted_at) VALUES (?, ?)",
		hash, at.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record suggestion: %w", err)
	}
	logging.Get(logging.CategoryStore).Debug("recorded suggestion %s", hash)
	return nil
}

// RecordFeedback stores the user's accept/dismiss response for a suggestion.
func (s *HistoryStore) RecordFeedback(hash string, accepted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	feedback := "dismissed"
	if accepted {
		feedback = "accepted"
	}
	_, err := s.db.Exec(
		`UPDATE suggestion_history SET feedback = ?
		 WHERE id = (SELECT id FROM suggestion_history
		             WHERE suggestion_hash = ? ORDER BY emitted_at DESC LIMIT 1)`,
		feedback, hash,
	)
	if err != nil {
		return fmt.Errorf("failed to record feedback: %w", err)
	}
	return nil
}

// Prune deletes records older than the retention window.
func (s *HistoryStore) Prune(retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-retention).Unix()
	res, err := s.db.Exec("DELETE FROM suggestion_history WHERE emitted_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.Get(logging.CategoryStore).Info("pruned %d history records", n)
	}
	return n, nil
}

// Close releases the database handle.
func (s *HistoryStore) Close() error {
	return s.db.Close()
}
