package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/amvg/harvester/internal/model"
)

// SeenIndex records which source items have already been processed so
// recurring runs can skip them. The dedup key is a hash of the item's
// stable source reference, not of its display metadata.
type SeenIndex interface {
	// Seen reports whether the item was processed before
	Seen(ctx context.Context, item model.Item) (bool, error)

	// Mark records the item as processed
	Mark(ctx context.Context, item model.Item) error
}

// SeenKey derives the deduplication key for an item.
func SeenKey(item model.Item) string {
	sum := sha256.Sum256([]byte(item.Ref))
	return hex.EncodeToString(sum[:])
}

// SQLiteSeenIndex implements SeenIndex using SQLite
type SQLiteSeenIndex struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteSeenIndex opens (or creates) the seen-item index database.
func NewSQLiteSeenIndex(dbPath string, logger *zap.Logger) (*SQLiteSeenIndex, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	idx := &SQLiteSeenIndex{
		logger: logger.Named("seen-index"),
		db:     db,
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS seen_items (
			key TEXT PRIMARY KEY,
			ref TEXT NOT NULL,
			title TEXT,
			first_seen DATETIME NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return idx, nil
}

// Seen implements SeenIndex.Seen
func (s *SQLiteSeenIndex) Seen(ctx context.Context, item model.Item) (bool, error) {
	var key string
	err := s.db.QueryRowContext(ctx,
		"SELECT key FROM seen_items WHERE key = ?", SeenKey(item)).Scan(&key)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query seen index: %w", err)
	}
	return true, nil
}

// Mark implements SeenIndex.Mark
func (s *SQLiteSeenIndex) Mark(ctx context.Context, item model.Item) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO seen_items (key, ref, title, first_seen)
		VALUES (?, ?, ?, ?)`,
		SeenKey(item),
		item.Ref,
		item.Title,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark item seen: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteSeenIndex) Close() error {
	return s.db.Close()
}
