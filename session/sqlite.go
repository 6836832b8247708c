package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hupe1980/soulmesh/core"
)

// SQLiteStore is a durable Store backed by SQLite. Messages are serialized
// to JSON and appended to an ordered log keyed by conversation id, so a
// process restart preserves retrieval order. All public methods are safe for
// concurrent use (SQLite serializes writes; access is append-mostly).
type SQLiteStore struct {
	db *sql.DB

	mu      sync.RWMutex
	current string
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path and migrates the
// schema. The default conversation is created if missing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("session: open database: %w", err)
	}
	// A single connection keeps writes serialized.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, current: DefaultSessionID}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: migrate: %w", err)
	}
	if err := s.ensureConversation(DefaultSessionID); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id         TEXT PRIMARY KEY,
		title      TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS messages (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		payload    TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages (session_id, seq);
	CREATE TABLE IF NOT EXISTS external_tools (
		name        TEXT PRIMARY KEY,
		description TEXT NOT NULL DEFAULT '',
		schema      TEXT NOT NULL DEFAULT '{}',
		updated_at  TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) ensureConversation(id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.Exec(
		`INSERT INTO conversations (id, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		id, now, now,
	)
	if err != nil {
		return fmt.Errorf("session: ensure conversation %s: %w", id, err)
	}
	return nil
}

// AddMessage implements Store. Unknown conversations are created lazily.
func (s *SQLiteStore) AddMessage(sessionID string, msg core.ChatMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("session: encode message: %w", err)
	}
	if err := s.ensureConversation(sessionID); err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.Exec(
		`INSERT INTO messages (session_id, payload, created_at) VALUES (?, ?, ?)`,
		sessionID, string(payload), now,
	)
	if err != nil {
		return fmt.Errorf("session: append message: %w", err)
	}
	_, err = s.db.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`, now, sessionID)
	if err != nil {
		return fmt.Errorf("session: touch conversation: %w", err)
	}
	return nil
}

// Messages implements Store.
func (s *SQLiteStore) Messages(sessionID string, limit int) ([]core.ChatMessage, error) {
	var exists int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM conversations WHERE id = ?`, sessionID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("session: lookup conversation: %w", err)
	}
	if exists == 0 {
		return nil, ErrNotFound
	}

	query := `SELECT payload FROM messages WHERE session_id = ? ORDER BY seq`
	args := []any{sessionID}
	if limit > 0 {
		// Most recent N, returned oldest-first.
		query = `SELECT payload FROM (
			SELECT seq, payload FROM messages WHERE session_id = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("session: query messages: %w", err)
	}
	defer rows.Close()

	var out []core.ChatMessage
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("session: scan message: %w", err)
		}
		var msg core.ChatMessage
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			return nil, fmt.Errorf("session: decode message: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// NewConversation implements Store.
func (s *SQLiteStore) NewConversation() (string, error) {
	id := core.NewID()
	if err := s.ensureConversation(id); err != nil {
		return "", err
	}
	return id, nil
}

// SwitchConversation implements Store.
func (s *SQLiteStore) SwitchConversation(sessionID string) error {
	var exists int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM conversations WHERE id = ?`, sessionID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("session: lookup conversation: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	s.mu.Lock()
	s.current = sessionID
	s.mu.Unlock()
	return nil
}

// Current implements Store.
func (s *SQLiteStore) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Conversations implements Store.
func (s *SQLiteStore) Conversations() ([]Conversation, error) {
	rows, err := s.db.Query(`SELECT id, title, created_at, updated_at FROM conversations ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("session: query conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		var created, updated string
		if err := rows.Scan(&c.ID, &c.Title, &created, &updated); err != nil {
			return nil, fmt.Errorf("session: scan conversation: %w", err)
		}
		c.Created, _ = time.Parse(time.RFC3339Nano, created)
		c.Updated, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetTitle updates the display title of a conversation.
func (s *SQLiteStore) SetTitle(sessionID, title string) error {
	res, err := s.db.Exec(`UPDATE conversations SET title = ? WHERE id = ?`, title, sessionID)
	if err != nil {
		return fmt.Errorf("session: set title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ExternalToolRecord is a persisted definition of an externally discovered
// tool, so discovery results survive restarts.
type ExternalToolRecord struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// SaveExternalTool upserts an externally discovered tool definition.
func (s *SQLiteStore) SaveExternalTool(rec ExternalToolRecord) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	schema := string(rec.Schema)
	if schema == "" {
		schema = "{}"
	}
	_, err := s.db.Exec(
		`INSERT INTO external_tools (name, description, schema, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (name) DO UPDATE
		 SET description = excluded.description, schema = excluded.schema, updated_at = excluded.updated_at`,
		rec.Name, rec.Description, schema, now,
	)
	if err != nil {
		return fmt.Errorf("session: save external tool %s: %w", rec.Name, err)
	}
	return nil
}

// ExternalTools returns all persisted external tool definitions.
func (s *SQLiteStore) ExternalTools() ([]ExternalToolRecord, error) {
	rows, err := s.db.Query(`SELECT name, description, schema FROM external_tools ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("session: query external tools: %w", err)
	}
	defer rows.Close()

	var out []ExternalToolRecord
	for rows.Next() {
		var rec ExternalToolRecord
		var schema string
		if err := rows.Scan(&rec.Name, &rec.Description, &schema); err != nil {
			return nil, fmt.Errorf("session: scan external tool: %w", err)
		}
		rec.Schema = json.RawMessage(schema)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteExternalTool removes a persisted external tool definition.
func (s *SQLiteStore) DeleteExternalTool(name string) error {
	_, err := s.db.Exec(`DELETE FROM external_tools WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("session: delete external tool %s: %w", name, err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.db.Close() }
