// Package store provides a SQLite-backed manifest of the files indexed into
// each conversation. The vector store holds the chunks; the manifest answers
// "which files does this conversation have" without scanning collections,
// and is kept in step by the indexer and the delete commands.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// FileRecord is one indexed file.
type FileRecord struct {
	// ConversationID owns the file.
	ConversationID string
	// FileID identifies the file within the conversation.
	FileID string
	// FileName is the display name stored with every chunk.
	FileName string
	// Chunks is the number of points written for the file.
	Chunks int
	// IndexedAt is when the file was last indexed.
	IndexedAt time.Time
}

// SQLiteStore is a file manifest backed by a local SQLite database.
// It satisfies rag.Manifest and is safe for concurrent use.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the manifest database.
// It resolves to ~/.convrag/manifest.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".convrag")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "manifest.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS indexed_files (
    conversation_id TEXT    NOT NULL,
    file_id         TEXT    NOT NULL,
    file_name       TEXT    NOT NULL,
    chunks          INTEGER NOT NULL CHECK(chunks >= 0),
    indexed_at      INTEGER NOT NULL,  -- Unix timestamp (seconds)
    PRIMARY KEY (conversation_id, file_id)
);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// RecordFile inserts or replaces the manifest entry of a file.
func (s *SQLiteStore) RecordFile(ctx context.Context, conversationID, fileID, fileName string, chunks int) error {
	const q = `
INSERT INTO indexed_files (conversation_id, file_id, file_name, chunks, indexed_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (conversation_id, file_id) DO UPDATE SET
    file_name  = excluded.file_name,
    chunks     = excluded.chunks,
    indexed_at = excluded.indexed_at`
	if _, err := s.db.ExecContext(ctx, q, conversationID, fileID, fileName, chunks, time.Now().Unix()); err != nil {
		return fmt.Errorf("store: record file: %w", err)
	}
	return nil
}

// RemoveFile deletes the manifest entry of a file. Removing an unknown file
// is not an error.
func (s *SQLiteStore) RemoveFile(ctx context.Context, conversationID, fileID string) error {
	const q = `DELETE FROM indexed_files WHERE conversation_id = ? AND file_id = ?`
	if _, err := s.db.ExecContext(ctx, q, conversationID, fileID); err != nil {
		return fmt.Errorf("store: remove file: %w", err)
	}
	return nil
}

// RemoveConversation deletes every entry of a conversation and returns how
// many were removed.
func (s *SQLiteStore) RemoveConversation(ctx context.Context, conversationID string) (int, error) {
	const q = `DELETE FROM indexed_files WHERE conversation_id = ?`
	res, err := s.db.ExecContext(ctx, q, conversationID)
	if err != nil {
		return 0, fmt.Errorf("store: remove conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: remove conversation: %w", err)
	}
	return int(n), nil
}

// Files returns the files of a conversation, most recently indexed first.
func (s *SQLiteStore) Files(ctx context.Context, conversationID string) ([]FileRecord, error) {
	const q = `
SELECT conversation_id, file_id, file_name, chunks, indexed_at
FROM   indexed_files
WHERE  conversation_id = ?
ORDER  BY indexed_at DESC, file_id ASC`

	rows, err := s.db.QueryContext(ctx, q, conversationID)
	if err != nil {
		return nil, fmt.Errorf("store: files: %w", err)
	}
	defer rows.Close()

	var files []FileRecord
	for rows.Next() {
		var r FileRecord
		var ts int64
		if err := rows.Scan(&r.ConversationID, &r.FileID, &r.FileName, &r.Chunks, &ts); err != nil {
			return nil, fmt.Errorf("store: files scan: %w", err)
		}
		r.IndexedAt = time.Unix(ts, 0)
		files = append(files, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: files rows: %w", err)
	}
	return files, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
