package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/amvg/harvester/internal/model"
	"github.com/amvg/harvester/internal/pipeline"
	"github.com/amvg/harvester/internal/storage"
)

// EventSink receives task lifecycle notifications. Implementations must
// not block for long; a nil sink disables events.
type EventSink interface {
	TaskStarted(ctx context.Context, task *model.Task)
	TaskCompleted(ctx context.Context, task *model.Task, result *model.RunResult)
	TaskFailed(ctx context.Context, task *model.Task, message string)
}

// completeFunc applies the final state transition for an executed task.
// The scheduler supplies it so the dispatcher never touches the task
// list or the store directly.
type completeFunc func(task *model.Task, status model.TaskStatus, message string, result *model.RunResult)

// Dispatcher turns a due task into one isolated execution: it looks up
// the registered runner, captures its result or any panic, and feeds the
// outcome back into the scheduler's state machine. Failures never
// propagate out of the dispatch boundary.
type Dispatcher struct {
	logger   *zap.Logger
	history  storage.RunHistoryStorage
	events   EventSink
	complete completeFunc

	mu      sync.RWMutex
	runners map[string]pipeline.Runner
}

// NewDispatcher creates a dispatcher. history and events may be nil.
func NewDispatcher(history storage.RunHistoryStorage, events EventSink, complete completeFunc, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		logger:   logger.Named("dispatcher"),
		history:  history,
		events:   events,
		complete: complete,
		runners:  make(map[string]pipeline.Runner),
	}
}

// Register binds a runner under a named kind.
func (d *Dispatcher) Register(kind string, runner pipeline.Runner) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.runners[kind] = runner
}

func (d *Dispatcher) runner(kind string) (pipeline.Runner, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.runners[kind]
	return r, ok
}

// Execute runs one task to completion. task is the scheduler's
// dispatch-time snapshot, already marked running and persisted; the
// live record is only reached through the completion callback.
func (d *Dispatcher) Execute(ctx context.Context, task *model.Task) {
	d.logger.Info("Executing task",
		zap.String("id", task.ID),
		zap.String("name", task.Name),
		zap.String("kind", task.Kind))

	if d.events != nil {
		d.events.TaskStarted(ctx, task)
	}

	rec := d.storeRecord(ctx, task)

	runner, ok := d.runner(task.Kind)
	if !ok {
		message := fmt.Sprintf("%v for kind %q", ErrNoRunner, task.Kind)
		d.logger.Error("No runner for task",
			zap.String("id", task.ID),
			zap.String("kind", task.Kind))
		d.complete(task, model.TaskStatusFailed, message, nil)
		d.finishRecord(ctx, rec, model.TaskStatusFailed, nil, message)
		if d.events != nil {
			d.events.TaskFailed(ctx, task, message)
		}
		return
	}

	result := d.run(ctx, runner, pipeline.Params{
		Locator:     task.Locator,
		Name:        task.Name,
		MaxItems:    task.MaxItems,
		AutoPublish: task.AutoPublish,
		Config:      task.Config,
	})

	if result.Success {
		message := "success: " + result.Message
		d.complete(task, model.TaskStatusCompleted, message, result)
		d.finishRecord(ctx, rec, model.TaskStatusCompleted, result, message)
		if d.events != nil {
			d.events.TaskCompleted(ctx, task, result)
		}
		d.logger.Info("Task completed",
			zap.String("id", task.ID),
			zap.String("result", result.Message))
		return
	}

	message := result.Message
	if message == "" {
		message = "failed without details"
	}
	d.complete(task, model.TaskStatusFailed, message, result)
	d.finishRecord(ctx, rec, model.TaskStatusFailed, result, message)
	if d.events != nil {
		d.events.TaskFailed(ctx, task, message)
	}
	d.logger.Warn("Task failed",
		zap.String("id", task.ID),
		zap.String("result", message))
}

// run invokes the runner, converting a panic or a nil result into a
// failed run result so nothing escapes the dispatch boundary.
func (d *Dispatcher) run(ctx context.Context, runner pipeline.Runner, params pipeline.Params) (result *model.RunResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Runner panicked",
				zap.String("name", params.Name),
				zap.Any("panic", r))
			result = &model.RunResult{
				Message:   fmt.Sprintf("runner panic: %v", r),
				StartTime: start,
				EndTime:   time.Now(),
			}
		}
	}()

	result = runner.Run(ctx, params)
	if result == nil {
		result = &model.RunResult{
			Message:   "runner returned no result",
			StartTime: start,
			EndTime:   time.Now(),
		}
	}
	return result
}

func (d *Dispatcher) storeRecord(ctx context.Context, task *model.Task) *storage.RunRecord {
	if d.history == nil {
		return nil
	}

	startedAt := time.Now()
	if task.LastRun != nil {
		startedAt = *task.LastRun
	}
	rec := &storage.RunRecord{
		ID:        uuid.New().String(),
		TaskID:    task.ID,
		Name:      task.Name,
		Locator:   task.Locator,
		Status:    model.TaskStatusRunning,
		StartedAt: startedAt,
	}
	if err := d.history.Store(ctx, rec); err != nil {
		d.logger.Error("Failed to store run record",
			zap.String("task_id", task.ID),
			zap.Error(err))
	}
	return rec
}

func (d *Dispatcher) finishRecord(ctx context.Context, rec *storage.RunRecord, status model.TaskStatus, result *model.RunResult, message string) {
	if d.history == nil || rec == nil {
		return
	}

	now := time.Now()
	rec.Status = status
	rec.Message = message
	rec.CompletedAt = &now
	rec.Duration = now.Sub(rec.StartedAt)
	if result != nil {
		rec.ItemsProcessed = result.ItemsProcessed
		rec.ItemsPublished = result.ItemsPublished
		rec.Errors = result.Errors
	}
	if err := d.history.Update(ctx, rec); err != nil {
		d.logger.Error("Failed to update run record",
			zap.String("task_id", rec.TaskID),
			zap.Error(err))
	}
}
