package model

import (
	"time"
)

// TaskStatus represents the current status of a scheduled task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
	TaskStatusPaused    TaskStatus = "paused"
)

// Valid reports whether the status is one of the defined values.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusCancelled, TaskStatusPaused:
		return true
	}
	return false
}

// TaskFrequency represents how often a task recurs
type TaskFrequency string

const (
	FrequencyOnce    TaskFrequency = "once"
	FrequencyHourly  TaskFrequency = "hourly"
	FrequencyDaily   TaskFrequency = "daily"
	FrequencyWeekly  TaskFrequency = "weekly"
	FrequencyMonthly TaskFrequency = "monthly"
	FrequencyCustom  TaskFrequency = "custom"
)

// Valid reports whether the frequency is one of the defined values.
func (f TaskFrequency) Valid() bool {
	switch f {
	case FrequencyOnce, FrequencyHourly, FrequencyDaily,
		FrequencyWeekly, FrequencyMonthly, FrequencyCustom:
		return true
	}
	return false
}

// Next computes the time of the next run after a completed execution.
// It returns nil for one-shot tasks. Recurrence does not depend on
// whether the execution succeeded or failed.
func (f TaskFrequency) Next(from time.Time, cfg TaskConfig) *time.Time {
	var next time.Time
	switch f {
	case FrequencyOnce:
		return nil
	case FrequencyHourly:
		next = from.Add(time.Hour)
	case FrequencyDaily:
		next = from.Add(24 * time.Hour)
	case FrequencyWeekly:
		next = from.Add(7 * 24 * time.Hour)
	case FrequencyMonthly:
		// Fixed 30-day approximation, not calendar-month-aware.
		next = from.Add(30 * 24 * time.Hour)
	case FrequencyCustom:
		hours := cfg.IntervalHours
		if hours <= 0 {
			hours = 24
		}
		next = from.Add(time.Duration(hours) * time.Hour)
	default:
		next = from.Add(24 * time.Hour)
	}
	return &next
}

// TaskConfig holds per-task tuning for the pipeline stages.
type TaskConfig struct {
	DelayMinSeconds float64 `json:"delay_min_seconds,omitempty"`
	DelayMaxSeconds float64 `json:"delay_max_seconds,omitempty"`
	SkipExisting    *bool   `json:"skip_existing,omitempty"`
	MaxRetries      int     `json:"max_retries,omitempty"`
	IntervalHours   int     `json:"interval_hours,omitempty"`
	DestinationID   int64   `json:"destination_id,omitempty"`
}

// WithDefaults returns a copy with unset fields filled in.
func (c TaskConfig) WithDefaults() TaskConfig {
	out := c
	if out.DelayMinSeconds == 0 && out.DelayMaxSeconds == 0 {
		out.DelayMinSeconds = 1
		out.DelayMaxSeconds = 3
	}
	if out.DelayMaxSeconds < out.DelayMinSeconds {
		out.DelayMaxSeconds = out.DelayMinSeconds
	}
	if out.SkipExisting == nil {
		skip := true
		out.SkipExisting = &skip
	}
	if out.MaxRetries <= 0 {
		out.MaxRetries = 3
	}
	return out
}

// KindScrapeCategory is the runner kind used by category harvest tasks.
const KindScrapeCategory = "scrape_category"

// Task represents a recurring unit of scheduled pipeline work
type Task struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Kind        string        `json:"kind"`
	Locator     string        `json:"locator"`
	Frequency   TaskFrequency `json:"frequency"`
	Status      TaskStatus    `json:"status"`

	NextRun    *time.Time `json:"next_run,omitempty"`
	LastRun    *time.Time `json:"last_run,omitempty"`
	LastResult string     `json:"last_result,omitempty"`
	RunCount   int        `json:"run_count"`

	MaxItems    int        `json:"max_items"`
	AutoPublish bool       `json:"auto_publish"`
	Config      TaskConfig `json:"config"`

	CreatedAt time.Time `json:"created_at"`
}

// Due reports whether the task is eligible for dispatch at the given time.
func (t *Task) Due(now time.Time) bool {
	return t.Status == TaskStatusPending && t.NextRun != nil && !now.Before(*t.NextRun)
}

// Clone returns a shallow copy of the task.
func (t *Task) Clone() *Task {
	c := *t
	return &c
}
