package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/amvg/harvester/internal/model"
)

// TaskStore defines durable storage for the task collection. Save always
// rewrites the full collection; there is no partial-update API.
type TaskStore interface {
	// Load reads all tasks. It fails soft: a missing or undecodable
	// file yields an empty list, never an error that stops the process.
	Load() []*model.Task

	// Save persists the full task collection, replacing the previous one.
	Save(tasks []*model.Task) error
}

// taskFile is the persisted shape of the task collection
type taskFile struct {
	Tasks       []json.RawMessage `json:"tasks"`
	LastUpdated time.Time         `json:"last_updated"`
}

// FileTaskStore implements TaskStore on a single JSON file
type FileTaskStore struct {
	logger *zap.Logger
	path   string
}

// NewFileTaskStore creates a file-backed task store, creating the parent
// directory if needed.
func NewFileTaskStore(path string, logger *zap.Logger) (*FileTaskStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileTaskStore{
		logger: logger.Named("task-store"),
		path:   path,
	}, nil
}

// Load implements TaskStore.Load
func (s *FileTaskStore) Load() []*model.Task {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Info("No task file found, starting with empty list",
				zap.String("path", s.path))
			return nil
		}
		s.logger.Error("Failed to read task file", zap.Error(err))
		return nil
	}

	var file taskFile
	if err := json.Unmarshal(data, &file); err != nil {
		s.logger.Error("Failed to decode task file",
			zap.String("path", s.path),
			zap.Error(err))
		return nil
	}

	// Decode record by record so one bad entry does not drop the rest.
	tasks := make([]*model.Task, 0, len(file.Tasks))
	for _, raw := range file.Tasks {
		var task model.Task
		if err := json.Unmarshal(raw, &task); err != nil {
			s.logger.Error("Skipping undecodable task record", zap.Error(err))
			continue
		}
		tasks = append(tasks, &task)
	}

	s.logger.Info("Loaded tasks",
		zap.Int("count", len(tasks)),
		zap.String("path", s.path))
	return tasks
}

// Save implements TaskStore.Save
func (s *FileTaskStore) Save(tasks []*model.Task) error {
	raw := make([]json.RawMessage, 0, len(tasks))
	for _, task := range tasks {
		data, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("failed to encode task %s: %w", task.ID, err)
		}
		raw = append(raw, data)
	}

	data, err := json.MarshalIndent(taskFile{
		Tasks:       raw,
		LastUpdated: time.Now(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode task file: %w", err)
	}

	// Write to a temp file first so a crash mid-write cannot truncate
	// the only copy of the task list.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write task file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace task file: %w", err)
	}

	s.logger.Debug("Saved tasks",
		zap.Int("count", len(tasks)),
		zap.String("path", s.path))
	return nil
}
