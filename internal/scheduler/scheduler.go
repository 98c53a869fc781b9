package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/amvg/harvester/internal/model"
	"github.com/amvg/harvester/internal/pipeline"
	"github.com/amvg/harvester/internal/storage"
)

// Config defines tuning for the scheduler loop and its worker pool
type Config struct {
	// PollInterval is the cadence of due-task detection
	PollInterval time.Duration

	// ErrorBackoff is the extra sleep after a failed poll cycle
	ErrorBackoff time.Duration

	// Workers is the size of the execution worker pool
	Workers int

	// QueueSize bounds the channel feeding due tasks to the pool
	QueueSize int

	// DrainTimeout bounds how long Stop waits for in-flight runs
	DrainTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = time.Minute
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 16
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 10 * time.Second
	}
	return c
}

// Status reports aggregate task counts for the scheduler's host
type Status struct {
	Running   bool `json:"running"`
	Total     int  `json:"total_tasks"`
	Pending   int  `json:"pending_tasks"`
	Executing int  `json:"running_tasks"`
	Completed int  `json:"completed_tasks"`
	Failed    int  `json:"failed_tasks"`
	Paused    int  `json:"paused_tasks"`
}

// TaskUpdate is a partial field update for an existing task. Nil fields
// are left unchanged.
type TaskUpdate struct {
	Name        *string              `json:"name,omitempty"`
	Description *string              `json:"description,omitempty"`
	Locator     *string              `json:"locator,omitempty"`
	Frequency   *model.TaskFrequency `json:"frequency,omitempty"`
	NextRun     *time.Time           `json:"next_run,omitempty"`
	MaxItems    *int                 `json:"max_items,omitempty"`
	AutoPublish *bool                `json:"auto_publish,omitempty"`
	Config      *model.TaskConfig    `json:"config,omitempty"`
}

// Scheduler owns the task collection, detects due tasks on a polling
// loop, and dispatches them onto a bounded worker pool. All mutations of
// the task list happen under one mutex and are persisted synchronously.
type Scheduler struct {
	logger     *zap.Logger
	cfg        Config
	store      storage.TaskStore
	dispatcher *Dispatcher

	mu    sync.Mutex
	tasks []*model.Task

	running bool
	stop    chan struct{}
	queue   chan *model.Task
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a scheduler and loads the task collection from the store.
// history and events may be nil.
func New(store storage.TaskStore, history storage.RunHistoryStorage, events EventSink, cfg Config, logger *zap.Logger) *Scheduler {
	s := &Scheduler{
		logger: logger.Named("scheduler"),
		cfg:    cfg.withDefaults(),
		store:  store,
		tasks:  store.Load(),
	}
	s.dispatcher = NewDispatcher(history, events, s.completeRun, logger)

	// A task persisted as running belongs to a previous process; its
	// run is gone, so make it eligible again.
	recovered := 0
	for _, t := range s.tasks {
		if t.Status == model.TaskStatusRunning {
			t.Status = model.TaskStatusPending
			recovered++
		}
	}
	if recovered > 0 {
		s.persistLocked()
		s.logger.Info("Recovered interrupted tasks", zap.Int("count", recovered))
	}

	s.logger.Info("Scheduler initialized", zap.Int("tasks", len(s.tasks)))
	return s
}

// RegisterRunner binds a pipeline runner under a named kind. The
// dispatcher looks the binding up at execution time.
func (s *Scheduler) RegisterRunner(kind string, runner pipeline.Runner) {
	s.dispatcher.Register(kind, runner)
	s.logger.Info("Runner registered", zap.String("kind", kind))
}

// AddTask adds a new task. It fails with ErrDuplicateTask if a task with
// the same ID already exists; it never silently overwrites.
func (s *Scheduler) AddTask(task *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Kind == "" {
		task.Kind = model.KindScrapeCategory
	}
	if task.Status == "" {
		task.Status = model.TaskStatusPending
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	for _, t := range s.tasks {
		if t.ID == task.ID {
			s.logger.Error("Task with duplicate id rejected", zap.String("id", task.ID))
			return ErrDuplicateTask
		}
	}

	s.tasks = append(s.tasks, task)
	s.persistLocked()

	s.logger.Info("Task added",
		zap.String("id", task.ID),
		zap.String("name", task.Name),
		zap.Timep("next_run", task.NextRun))
	return nil
}

// RemoveTask removes a task by ID and reports whether a removal occurred.
func (s *Scheduler) RemoveTask(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, t := range s.tasks {
		if t.ID == id {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			s.persistLocked()
			s.logger.Info("Task removed", zap.String("id", id))
			return true
		}
	}

	s.logger.Warn("Task not found for removal", zap.String("id", id))
	return false
}

// UpdateTask applies a partial update to a task and reports whether the
// task was found.
func (s *Scheduler) UpdateTask(id string, update TaskUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	task := s.findLocked(id)
	if task == nil {
		s.logger.Warn("Task not found for update", zap.String("id", id))
		return false
	}

	if update.Name != nil {
		task.Name = *update.Name
	}
	if update.Description != nil {
		task.Description = *update.Description
	}
	if update.Locator != nil {
		task.Locator = *update.Locator
	}
	if update.Frequency != nil {
		task.Frequency = *update.Frequency
	}
	if update.NextRun != nil {
		next := *update.NextRun
		task.NextRun = &next
	}
	if update.MaxItems != nil {
		task.MaxItems = *update.MaxItems
	}
	if update.AutoPublish != nil {
		task.AutoPublish = *update.AutoPublish
	}
	if update.Config != nil {
		task.Config = *update.Config
	}

	s.persistLocked()
	s.logger.Info("Task updated", zap.String("id", id))
	return true
}

// GetTask returns a copy of the task with the given ID.
func (s *Scheduler) GetTask(id string) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task := s.findLocked(id); task != nil {
		return task.Clone(), nil
	}
	return nil, ErrTaskNotFound
}

// AllTasks returns copies of every task.
func (s *Scheduler) AllTasks() []*model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Clone())
	}
	return out
}

// TasksByStatus returns copies of every task with the given status.
func (s *Scheduler) TasksByStatus(status model.TaskStatus) []*model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Task
	for _, t := range s.tasks {
		if t.Status == status {
			out = append(out, t.Clone())
		}
	}
	return out
}

// PauseTask pauses a pending task. It reports false for any other
// current status.
func (s *Scheduler) PauseTask(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	task := s.findLocked(id)
	if task == nil || task.Status != model.TaskStatusPending {
		return false
	}

	task.Status = model.TaskStatusPaused
	s.persistLocked()
	s.logger.Info("Task paused", zap.String("id", id))
	return true
}

// ResumeTask resumes a paused task. It reports false for any other
// current status.
func (s *Scheduler) ResumeTask(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	task := s.findLocked(id)
	if task == nil || task.Status != model.TaskStatusPaused {
		return false
	}

	task.Status = model.TaskStatusPending
	s.persistLocked()
	s.logger.Info("Task resumed", zap.String("id", id))
	return true
}

// Status returns aggregate task counts.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		Running: s.running,
		Total:   len(s.tasks),
	}
	for _, t := range s.tasks {
		switch t.Status {
		case model.TaskStatusPending:
			status.Pending++
		case model.TaskStatusRunning:
			status.Executing++
		case model.TaskStatusCompleted:
			status.Completed++
		case model.TaskStatusFailed:
			status.Failed++
		case model.TaskStatusPaused:
			status.Paused++
		}
	}
	return status
}

// CleanupCompleted removes completed tasks whose last run is older than
// the cutoff and returns how many were removed. This is a maintenance
// operation, not part of the polling loop.
func (s *Scheduler) CleanupCompleted(olderThan time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	kept := s.tasks[:0]
	removed := 0
	for _, t := range s.tasks {
		if t.Status == model.TaskStatusCompleted && t.LastRun != nil && t.LastRun.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	s.tasks = kept

	if removed > 0 {
		s.persistLocked()
		s.logger.Info("Cleaned up old completed tasks", zap.Int("removed", removed))
	}
	return removed
}

// Start launches the polling loop and the worker pool. The provided
// context cancels in-flight pipeline runs on shutdown.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerRunning
	}
	s.running = true
	s.stop = make(chan struct{})
	s.queue = make(chan *model.Task, s.cfg.QueueSize)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(runCtx, i)
	}

	s.wg.Add(1)
	go s.pollLoop(runCtx)

	s.logger.Info("Scheduler started",
		zap.Duration("poll_interval", s.cfg.PollInterval),
		zap.Int("workers", s.cfg.Workers))
	return nil
}

// Stop halts the polling loop, cancels in-flight runs, and waits for the
// worker pool to drain up to the configured timeout.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stop)
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Scheduler stopped")
	case <-time.After(s.cfg.DrainTimeout):
		s.logger.Warn("Drain timeout reached, some runs may not have completed")
	}

	s.revertUndispatched()
}

// revertUndispatched drains snapshots still sitting in the queue after
// the workers exited and flips their tasks back to pending, so a task
// that never actually ran is not stranded as running across a restart.
func (s *Scheduler) revertUndispatched() {
	s.mu.Lock()
	defer s.mu.Unlock()

	reverted := 0
	for {
		select {
		case snapshot := <-s.queue:
			if cur := s.findLocked(snapshot.ID); cur != nil && cur.Status == model.TaskStatusRunning {
				cur.Status = model.TaskStatusPending
				reverted++
			}
		default:
			if reverted > 0 {
				s.persistLocked()
				s.logger.Info("Reverted undispatched tasks to pending", zap.Int("count", reverted))
			}
			return
		}
	}
}

// pollLoop evaluates the due predicate over the task list on a fixed
// cadence. A failed cycle logs and backs off instead of terminating.
func (s *Scheduler) pollLoop(ctx context.Context) {
	defer s.wg.Done()
	s.logger.Info("Polling loop started")

	for {
		sleep := s.cfg.PollInterval
		if err := s.dispatchDue(ctx); err != nil {
			s.logger.Error("Poll cycle failed", zap.Error(err))
			sleep = s.cfg.ErrorBackoff
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// dispatchDue marks due tasks as running, persists that transition, and
// hands them to the worker pool. The persist-before-dispatch ordering is
// what prevents the next poll cycle from re-selecting an in-flight task.
// Workers receive a snapshot of the task; the live record is only
// touched again under the mutex, in completeRun.
func (s *Scheduler) dispatchDue(ctx context.Context) error {
	now := time.Now()

	s.mu.Lock()
	var due []*model.Task
	for _, t := range s.tasks {
		if t.Due(now) {
			t.Status = model.TaskStatusRunning
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		s.mu.Unlock()
		return nil
	}
	err := s.store.Save(s.tasks)
	s.mu.Unlock()

	var deferred bool
	for _, t := range due {
		snapshot := t.Clone()
		lastRun := now
		snapshot.LastRun = &lastRun

		select {
		case s.queue <- snapshot:
			s.logger.Info("Task dispatched",
				zap.String("id", t.ID),
				zap.String("name", t.Name))
		default:
			// Pool saturated: hand the task back to the next poll
			// cycle. LastRun is untouched since nothing ran.
			s.mu.Lock()
			t.Status = model.TaskStatusPending
			s.mu.Unlock()
			deferred = true
			s.logger.Warn("Worker queue full, task deferred",
				zap.String("id", t.ID))
		}
	}
	if deferred {
		s.mu.Lock()
		if saveErr := s.store.Save(s.tasks); saveErr != nil && err == nil {
			err = saveErr
		}
		s.mu.Unlock()
	}

	return err
}

func (s *Scheduler) worker(ctx context.Context, idx int) {
	defer s.wg.Done()

	for {
		// Closed stop channel wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case task := <-s.queue:
			s.dispatcher.Execute(ctx, task)
		}
	}
}

// completeRun applies the final state transition for an executed task:
// terminal status, counters, recurrence, and exactly one persist. task
// is the dispatch-time snapshot; the live record is re-resolved by ID
// so a task removed mid-run is not resurrected.
func (s *Scheduler) completeRun(task *model.Task, status model.TaskStatus, message string, result *model.RunResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.findLocked(task.ID)
	if cur == nil {
		s.logger.Warn("Task removed while running, dropping result",
			zap.String("id", task.ID))
		return
	}

	cur.Status = status
	cur.LastResult = message
	cur.LastRun = task.LastRun
	if status == model.TaskStatusCompleted {
		cur.RunCount++
	}

	// Recurrence is independent of the run's outcome.
	base := time.Now()
	if cur.LastRun != nil {
		base = *cur.LastRun
	}
	cur.NextRun = cur.Frequency.Next(base, cur.Config)
	if cur.NextRun != nil {
		cur.Status = model.TaskStatusPending
		s.logger.Info("Next run scheduled",
			zap.String("id", cur.ID),
			zap.Time("next_run", *cur.NextRun))
	} else {
		s.logger.Info("One-shot task finished",
			zap.String("id", cur.ID),
			zap.String("status", string(cur.Status)))
	}

	s.persistLocked()
}

func (s *Scheduler) findLocked(id string) *model.Task {
	for _, t := range s.tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// persistLocked flushes the task collection. A failed save is logged and
// not retried; the in-memory list stays authoritative for this process.
func (s *Scheduler) persistLocked() {
	if err := s.store.Save(s.tasks); err != nil {
		s.logger.Error("Failed to persist tasks", zap.Error(err))
	}
}
