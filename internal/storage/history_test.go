package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amvg/harvester/internal/model"
)

func newTestHistory(t *testing.T) *SQLiteRunHistory {
	t.Helper()
	h, err := NewSQLiteRunHistory(filepath.Join(t.TempDir(), "history.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestSQLiteRunHistory_StoreAndUpdate(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	rec := &RunRecord{
		ID:        uuid.New().String(),
		TaskID:    "task-1",
		Name:      "harvest",
		Locator:   "https://example.com/videos",
		Status:    model.TaskStatusRunning,
		StartedAt: time.Now().Add(-time.Minute),
	}
	require.NoError(t, h.Store(ctx, rec))

	completedAt := time.Now()
	rec.Status = model.TaskStatusCompleted
	rec.ItemsProcessed = 4
	rec.ItemsPublished = 3
	rec.Errors = []string{"item 2: timeout"}
	rec.Message = "success: processed: 4 items, published: 3 items, errors: 1"
	rec.CompletedAt = &completedAt
	rec.Duration = completedAt.Sub(rec.StartedAt)
	require.NoError(t, h.Update(ctx, rec))

	records, err := h.List(ctx, "task-1", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)

	got := records[0]
	require.Equal(t, rec.ID, got.ID)
	require.Equal(t, model.TaskStatusCompleted, got.Status)
	require.Equal(t, 4, got.ItemsProcessed)
	require.Equal(t, 3, got.ItemsPublished)
	require.Equal(t, []string{"item 2: timeout"}, got.Errors)
	require.NotNil(t, got.CompletedAt)
	require.Equal(t, rec.Duration, got.Duration)
}

func TestSQLiteRunHistory_ListOrderAndLimit(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		rec := &RunRecord{
			ID:        uuid.New().String(),
			TaskID:    "task-1",
			Name:      "harvest",
			Locator:   "https://example.com/videos",
			Status:    model.TaskStatusCompleted,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, h.Store(ctx, rec))
	}

	records, err := h.List(ctx, "task-1", 3)
	require.NoError(t, err)
	require.Len(t, records, 3)

	// Most recent first.
	require.True(t, records[0].StartedAt.After(records[1].StartedAt))
	require.True(t, records[1].StartedAt.After(records[2].StartedAt))

	// Empty task id lists across tasks.
	all, err := h.List(ctx, "", 100)
	require.NoError(t, err)
	require.Len(t, all, 5)
}

func TestSQLiteRunHistory_DeleteBefore(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	old := &RunRecord{
		ID:        uuid.New().String(),
		TaskID:    "task-1",
		Name:      "harvest",
		Locator:   "https://example.com/videos",
		Status:    model.TaskStatusCompleted,
		StartedAt: time.Now().Add(-48 * time.Hour),
	}
	recent := &RunRecord{
		ID:        uuid.New().String(),
		TaskID:    "task-1",
		Name:      "harvest",
		Locator:   "https://example.com/videos",
		Status:    model.TaskStatusCompleted,
		StartedAt: time.Now(),
	}
	require.NoError(t, h.Store(ctx, old))
	require.NoError(t, h.Store(ctx, recent))

	require.NoError(t, h.DeleteBefore(ctx, time.Now().Add(-24*time.Hour)))

	records, err := h.List(ctx, "task-1", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, recent.ID, records[0].ID)
}
