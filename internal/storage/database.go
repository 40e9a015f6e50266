// Package storage persists cards, questions, sessions, reports, and
// question sources in SQLite.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // Registers the sqlite driver
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict is returned when an optimistic update lost against a
	// concurrent writer, or an insert hit an existing row.
	ErrConflict = errors.New("storage: concurrent modification")
	// ErrDuplicate is returned when an append-only insert collides with an
	// existing record for the same idempotency key.
	ErrDuplicate = errors.New("storage: duplicate record")
)

// DB wraps the SQL database connection.
type DB struct {
	conn *sql.DB
}

// Open creates a new database connection and ensures the schema is up to date.
func Open(dsn string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows one writer; serialize access from Go instead of
	// surfacing SQLITE_BUSY to callers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &DB{conn: db}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// isUniqueViolation reports whether err is a SQLite unique constraint
// failure. The driver does not export a stable error type for this.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// marshalStrings encodes a string slice for a JSON text column.
func marshalStrings(values []string) string {
	if values == nil {
		values = []string{}
	}
	b, _ := json.Marshal(values)
	return string(b)
}

// marshalInts encodes an int slice for a JSON text column.
func marshalInts(values []int) string {
	if values == nil {
		values = []int{}
	}
	b, _ := json.Marshal(values)
	return string(b)
}

func unmarshalStrings(data string) ([]string, error) {
	var out []string
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("failed to decode string list column: %w", err)
	}
	return out, nil
}

func unmarshalInts(data string) ([]int, error) {
	var out []int
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("failed to decode int list column: %w", err)
	}
	return out, nil
}

// skillPlaceholders builds the "?, ?, ..." fragment and argument list for an
// IN clause over skill categories.
func skillPlaceholders(skills []string) (string, []any) {
	marks := make([]string, len(skills))
	args := make([]any, len(skills))
	for i, s := range skills {
		marks[i] = "?"
		args[i] = strings.ToLower(s)
	}
	return strings.Join(marks, ", "), args
}
