// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// DRIVER:
// modernc.org/sqlite is a pure Go translation of SQLite, registered under
// the driver name "sqlite". No cgo is involved.
//
// LAYOUT:
// DB owns the connection pool and the schema. Each table gets a small
// accessor type (UserDB, IssueDB, CommentDB) obtained from DB.Users(),
// DB.Issues() and DB.Comments(). Each accessor implements one interface
// from the repository package, which keeps method names short (Create,
// GetByID) without colliding across tables.
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/issues.db" → file-based database (persistent)
//   - ":memory:"       → in-memory database (tests)
//
// SINGLE CONNECTION:
// PRAGMA foreign_keys is per-connection, and every connection to ":memory:"
// opens a brand new empty database. Pinning the pool to one connection
// keeps both the schema and the pragmas visible to every query.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Foreign keys are OFF by default in SQLite. Issues reference users and
	// comments reference both, so we want the engine to enforce it.
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable. Used by /healthz.
func (db *DB) Ping() error {
	return db.conn.Ping()
}

func (db *DB) Users() *UserDB       { return &UserDB{conn: db.conn} }
func (db *DB) Issues() *IssueDB     { return &IssueDB{conn: db.conn} }
func (db *DB) Comments() *CommentDB { return &CommentDB{conn: db.conn} }

// migrate creates the schema. Every statement is idempotent so it runs on
// each start.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL DEFAULT '',
			is_admin      BOOLEAN NOT NULL DEFAULT 0,
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	// reported_by is nullable: anonymous reports keep a NULL reporter and
	// still show up in listings through the LEFT JOIN.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS issues (
			id             TEXT PRIMARY KEY,
			title          TEXT NOT NULL,
			description    TEXT NOT NULL,
			category       TEXT NOT NULL,
			priority       TEXT NOT NULL DEFAULT 'medium',
			status         TEXT NOT NULL DEFAULT 'pending'
			               CHECK (status IN ('pending', 'in-progress', 'resolved', 'rejected')),
			latitude       REAL NOT NULL,
			longitude      REAL NOT NULL,
			address        TEXT NOT NULL,
			image_filename TEXT,
			upvotes        INTEGER NOT NULL DEFAULT 0 CHECK (upvotes >= 0),
			reported_by    TEXT REFERENCES users(id),
			created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_issues_created_at ON issues(created_at);
		CREATE INDEX IF NOT EXISTS idx_issues_status ON issues(status);
		CREATE INDEX IF NOT EXISTS idx_issues_category ON issues(category);
	`)
	if err != nil {
		return fmt.Errorf("creating issues table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS comments (
			id          TEXT PRIMARY KEY,
			issue_id    TEXT NOT NULL REFERENCES issues(id),
			user_id     TEXT NOT NULL REFERENCES users(id),
			content     TEXT NOT NULL,
			is_official BOOLEAN NOT NULL DEFAULT 0,
			created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_comments_issue_id ON comments(issue_id);
	`)
	if err != nil {
		return fmt.Errorf("creating comments table: %w", err)
	}

	return nil
}

// isUniqueViolation reports whether err came from a UNIQUE constraint.
// The driver does not export a typed error for it, so we match the message.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// nullString converts an optional string to a driver value.
func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// stringPtr converts a scanned NullString back to an optional string.
func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
