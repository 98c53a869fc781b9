package scheduler

import "errors"

var (
	// ErrDuplicateTask is returned when a task with the same ID already exists
	ErrDuplicateTask = errors.New("duplicate task id")

	// ErrTaskNotFound is returned when a task is not found
	ErrTaskNotFound = errors.New("task not found")

	// ErrSchedulerRunning is returned when starting an already running scheduler
	ErrSchedulerRunning = errors.New("scheduler already running")

	// ErrNoRunner is returned when no runner is registered for a task kind
	ErrNoRunner = errors.New("no runner registered")
)
