// Package journal keeps a persistent history of what the daemon did to the
// audio graph: links, unlinks, hub lifecycle, gain and state changes.
package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"grimm.is/audiolink/internal/clock"
)

// MemoryPath opens a private in-memory journal.
const MemoryPath = ":memory:"

// Entry kinds.
const (
	KindLink      = "link"
	KindUnlink    = "unlink"
	KindHubUp     = "hub.up"
	KindHubDown   = "hub.down"
	KindGain      = "gain"
	KindSelection = "selection"
	KindMode      = "mode"
	KindStreaming = "streaming"
)

// Entry is one journal record.
type Entry struct {
	ID        int64          `json:"id" yaml:"id"`
	Timestamp time.Time      `json:"timestamp" yaml:"timestamp"`
	Session   string         `json:"session" yaml:"session"`
	Kind      string         `json:"kind" yaml:"kind"`
	Source    string         `json:"source,omitempty" yaml:"source,omitempty"`
	Target    string         `json:"target,omitempty" yaml:"target,omitempty"`
	OK        bool           `json:"ok" yaml:"ok"`
	Error     string         `json:"error,omitempty" yaml:"error,omitempty"`
	Details   map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
}

// Store provides persistent storage for journal entries.
type Store struct {
	mu            sync.RWMutex
	db            *sql.DB
	session       string
	retentionDays int
}

// Open creates or opens the journal at path. Each Open starts a new session
// id that tags every entry written through it. A retention of zero keeps
// entries forever.
func Open(path string, retentionDays int) (*Store, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	// One connection: an in-memory database is per connection, and writes
	// are serialized anyway.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS journal (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			session TEXT NOT NULL,
			kind TEXT NOT NULL,
			source TEXT,
			target TEXT,
			ok INTEGER NOT NULL DEFAULT 1,
			error TEXT,
			details TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_journal_ts ON journal(ts);
		CREATE INDEX IF NOT EXISTS idx_journal_kind ON journal(kind);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal table: %w", err)
	}

	return &Store{
		db:            db,
		session:       uuid.NewString(),
		retentionDays: retentionDays,
	}, nil
}

// Session returns the id stamped on entries written by this store.
func (s *Store) Session() string {
	return s.session
}

// Write persists an entry. Timestamp and session are filled in when empty.
func (s *Store) Write(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = clock.Now()
	}
	if e.Session == "" {
		e.Session = s.session
	}

	var details sql.NullString
	if len(e.Details) > 0 {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			raw = []byte("{}")
		}
		details = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO journal (ts, session, kind, source, target, ok, error, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.Timestamp.UnixNano(), e.Session, e.Kind, e.Source, e.Target, e.OK, e.Error, details)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// Filter narrows a Query.
type Filter struct {
	Since   time.Time
	Kinds   []string
	Session string
	Limit   int
}

// Query returns entries matching f, newest first.
func (s *Store) Query(f Filter) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, ts, session, kind, source, target, ok, error, details FROM journal WHERE ts >= ?`
	args := []any{f.Since.UnixNano()}
	if f.Since.IsZero() {
		args[0] = int64(0)
	}

	if len(f.Kinds) > 0 {
		query += " AND kind IN (?" + strings.Repeat(", ?", len(f.Kinds)-1) + ")"
		for _, k := range f.Kinds {
			args = append(args, k)
		}
	}
	if f.Session != "" {
		query += " AND session = ?"
		args = append(args, f.Session)
	}

	query += " ORDER BY ts DESC, id DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts int64
		var source, target, errText, details sql.NullString

		if err := rows.Scan(&e.ID, &ts, &e.Session, &e.Kind, &source, &target, &e.OK, &errText, &details); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.Timestamp = time.Unix(0, ts)
		e.Source = source.String
		e.Target = target.String
		e.Error = errText.String
		if details.Valid && details.String != "" {
			json.Unmarshal([]byte(details.String), &e.Details)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Recent returns the newest limit entries.
func (s *Store) Recent(limit int) ([]Entry, error) {
	return s.Query(Filter{Limit: limit})
}

// Prune removes entries older than the retention period.
func (s *Store) Prune() (int64, error) {
	if s.retentionDays <= 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := clock.Now().AddDate(0, 0, -s.retentionDays)
	result, err := s.db.Exec("DELETE FROM journal WHERE ts < ?", cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	return result.RowsAffected()
}

// Count returns the total number of entries.
func (s *Store) Count() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	err := s.db.QueryRow("SELECT COUNT(*) FROM journal").Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
