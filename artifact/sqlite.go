package artifact

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists artifacts in a SQLite database. It can share a file
// with the session store; the table namespaces do not collide.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path and ensures the
// schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening artifact database: %w", err)
	}
	db.SetMaxOpenConns(1)

	const schema = `
	CREATE TABLE IF NOT EXISTS artifacts (
		session_id TEXT NOT NULL,
		id         TEXT NOT NULL,
		name       TEXT NOT NULL,
		mime       TEXT NOT NULL,
		data       BLOB,
		url        TEXT NOT NULL DEFAULT '',
		created    TIMESTAMP NOT NULL,
		PRIMARY KEY (session_id, id)
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating artifact schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Save stores (or overwrites) the artifact under the session.
func (s *SQLiteStore) Save(sessionID string, a Artifact) error {
	created := a.Created
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO artifacts (session_id, id, name, mime, data, url, created)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, a.ID, a.Name, a.MIME, a.Data, a.URL, created,
	)
	if err != nil {
		return fmt.Errorf("saving artifact %s: %w", a.ID, err)
	}
	return nil
}

// Get returns the artifact or ErrNotFound.
func (s *SQLiteStore) Get(sessionID, artifactID string) (Artifact, error) {
	row := s.db.QueryRow(
		`SELECT id, name, mime, data, url, created FROM artifacts
		 WHERE session_id = ? AND id = ?`,
		sessionID, artifactID,
	)

	var a Artifact
	if err := row.Scan(&a.ID, &a.Name, &a.MIME, &a.Data, &a.URL, &a.Created); err != nil {
		if err == sql.ErrNoRows {
			return Artifact{}, ErrNotFound
		}
		return Artifact{}, fmt.Errorf("loading artifact %s: %w", artifactID, err)
	}
	return a, nil
}

// List returns the session's artifacts, newest first.
func (s *SQLiteStore) List(sessionID string) ([]Artifact, error) {
	rows, err := s.db.Query(
		`SELECT id, name, mime, data, url, created FROM artifacts
		 WHERE session_id = ? ORDER BY created DESC, id DESC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}
	defer rows.Close()

	artifacts := []Artifact{}
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.ID, &a.Name, &a.MIME, &a.Data, &a.URL, &a.Created); err != nil {
			return nil, fmt.Errorf("scanning artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// Delete removes the artifact or returns ErrNotFound.
func (s *SQLiteStore) Delete(sessionID, artifactID string) error {
	res, err := s.db.Exec(`DELETE FROM artifacts WHERE session_id = ? AND id = ?`, sessionID, artifactID)
	if err != nil {
		return fmt.Errorf("deleting artifact %s: %w", artifactID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
