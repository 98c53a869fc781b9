package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/amvg/harvester/internal/model"
)

// RunRecord represents one historical pipeline execution for a task
type RunRecord struct {
	ID             string           `json:"id"`
	TaskID         string           `json:"task_id"`
	Name           string           `json:"name"`
	Locator        string           `json:"locator"`
	Status         model.TaskStatus `json:"status"`
	ItemsProcessed int              `json:"items_processed"`
	ItemsPublished int              `json:"items_published"`
	Errors         []string         `json:"errors,omitempty"`
	Message        string           `json:"message,omitempty"`
	StartedAt      time.Time        `json:"started_at"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	Duration       time.Duration    `json:"duration,omitempty"`
}

// RunHistoryStorage defines the interface for run history storage
type RunHistoryStorage interface {
	// Store stores a new run record
	Store(ctx context.Context, rec *RunRecord) error

	// Update updates an existing run record with its final outcome
	Update(ctx context.Context, rec *RunRecord) error

	// List retrieves the most recent run records for a task; an empty
	// taskID lists across all tasks
	List(ctx context.Context, taskID string, limit int) ([]*RunRecord, error)

	// DeleteBefore deletes records that started before the given time
	DeleteBefore(ctx context.Context, before time.Time) error
}

// SQLiteRunHistory implements RunHistoryStorage using SQLite
type SQLiteRunHistory struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteRunHistory opens (or creates) the run history database.
func NewSQLiteRunHistory(dbPath string, logger *zap.Logger) (*SQLiteRunHistory, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	h := &SQLiteRunHistory{
		logger: logger.Named("run-history"),
		db:     db,
	}

	if err := h.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return h, nil
}

func (h *SQLiteRunHistory) initialize() error {
	_, err := h.db.Exec(`
		CREATE TABLE IF NOT EXISTS run_history (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			name TEXT NOT NULL,
			locator TEXT NOT NULL,
			status TEXT NOT NULL,
			items_processed INTEGER NOT NULL DEFAULT 0,
			items_published INTEGER NOT NULL DEFAULT 0,
			errors TEXT,
			message TEXT,
			started_at DATETIME NOT NULL,
			completed_at DATETIME,
			duration INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_run_history_task_id ON run_history(task_id);
		CREATE INDEX IF NOT EXISTS idx_run_history_started_at ON run_history(started_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// Store implements RunHistoryStorage.Store
func (h *SQLiteRunHistory) Store(ctx context.Context, rec *RunRecord) error {
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO run_history (
			id, task_id, name, locator, status, started_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.TaskID,
		rec.Name,
		rec.Locator,
		rec.Status,
		rec.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store run record: %w", err)
	}
	return nil
}

// Update implements RunHistoryStorage.Update
func (h *SQLiteRunHistory) Update(ctx context.Context, rec *RunRecord) error {
	var errorsStr string
	if len(rec.Errors) > 0 {
		data, err := json.Marshal(rec.Errors)
		if err != nil {
			return fmt.Errorf("failed to encode run errors: %w", err)
		}
		errorsStr = string(data)
	}

	var completedAt sql.NullTime
	if rec.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *rec.CompletedAt, Valid: true}
	}

	_, err := h.db.ExecContext(ctx, `
		UPDATE run_history SET
			status = ?,
			items_processed = ?,
			items_published = ?,
			errors = ?,
			message = ?,
			completed_at = ?,
			duration = ?
		WHERE id = ?`,
		rec.Status,
		rec.ItemsProcessed,
		rec.ItemsPublished,
		sql.NullString{String: errorsStr, Valid: errorsStr != ""},
		sql.NullString{String: rec.Message, Valid: rec.Message != ""},
		completedAt,
		sql.NullInt64{Int64: int64(rec.Duration), Valid: rec.Duration != 0},
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run record: %w", err)
	}
	return nil
}

// List implements RunHistoryStorage.List
func (h *SQLiteRunHistory) List(ctx context.Context, taskID string, limit int) ([]*RunRecord, error) {
	query := `
		SELECT id, task_id, name, locator, status, items_processed,
		       items_published, errors, message, started_at, completed_at, duration
		FROM run_history`
	args := make([]interface{}, 0, 2)
	if taskID != "" {
		query += " WHERE task_id = ?"
		args = append(args, taskID)
	}
	query += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list run history: %w", err)
	}
	defer rows.Close()

	var records []*RunRecord
	for rows.Next() {
		rec := &RunRecord{}
		var errorsStr, message sql.NullString
		var completedAt sql.NullTime
		var durationNanos sql.NullInt64

		err := rows.Scan(
			&rec.ID,
			&rec.TaskID,
			&rec.Name,
			&rec.Locator,
			&rec.Status,
			&rec.ItemsProcessed,
			&rec.ItemsPublished,
			&errorsStr,
			&message,
			&rec.StartedAt,
			&completedAt,
			&durationNanos,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run record: %w", err)
		}

		if errorsStr.Valid && errorsStr.String != "" {
			if err := json.Unmarshal([]byte(errorsStr.String), &rec.Errors); err != nil {
				h.logger.Error("Failed to decode run errors",
					zap.String("id", rec.ID),
					zap.Error(err))
			}
		}
		if message.Valid {
			rec.Message = message.String
		}
		if completedAt.Valid {
			rec.CompletedAt = &completedAt.Time
		}
		if durationNanos.Valid {
			rec.Duration = time.Duration(durationNanos.Int64)
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return records, nil
}

// DeleteBefore implements RunHistoryStorage.DeleteBefore
func (h *SQLiteRunHistory) DeleteBefore(ctx context.Context, before time.Time) error {
	result, err := h.db.ExecContext(ctx, "DELETE FROM run_history WHERE started_at < ?", before)
	if err != nil {
		return fmt.Errorf("failed to delete run history: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	h.logger.Info("Deleted old run history records",
		zap.Time("before", before),
		zap.Int64("deleted", affected))

	return nil
}

// Close closes the database connection
func (h *SQLiteRunHistory) Close() error {
	return h.db.Close()
}
