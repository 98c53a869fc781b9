// Package events publishes task lifecycle events over NATS JetStream so
// external consumers can follow pipeline activity.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/amvg/harvester/internal/model"
)

const (
	streamName           = "PIPELINE"
	subjectTaskStarted   = "pipeline.task.started"
	subjectTaskCompleted = "pipeline.task.completed"
	subjectTaskFailed    = "pipeline.task.failed"
	subjectRunResult     = "pipeline.run.result"

	streamMaxAge = 24 * time.Hour
)

// TaskEvent is the wire shape of a lifecycle event
type TaskEvent struct {
	TaskID    string           `json:"task_id"`
	Name      string           `json:"name"`
	Kind      string           `json:"kind"`
	Status    model.TaskStatus `json:"status"`
	Message   string           `json:"message,omitempty"`
	Result    *model.RunResult `json:"result,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Publisher publishes lifecycle events to JetStream
type Publisher struct {
	logger *zap.Logger
	js     nats.JetStreamContext
}

// NewPublisher creates the event publisher and ensures the PIPELINE
// stream exists.
func NewPublisher(js nats.JetStreamContext, logger *zap.Logger) (*Publisher, error) {
	p := &Publisher{
		logger: logger.Named("events"),
		js:     js,
	}

	_, err := js.AddStream(&nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{"pipeline.*", "pipeline.*.*"},
		Storage:  nats.FileStorage,
		MaxAge:   streamMaxAge,
		MaxMsgs:  -1,
	})
	if err != nil {
		if err != nats.ErrStreamNameAlreadyInUse {
			return nil, fmt.Errorf("failed to create event stream: %w", err)
		}
		p.logger.Info("Using existing event stream", zap.String("stream", streamName))
	} else {
		p.logger.Info("Created event stream", zap.String("stream", streamName))
	}

	return p, nil
}

// TaskStarted implements scheduler.EventSink
func (p *Publisher) TaskStarted(ctx context.Context, task *model.Task) {
	p.publish(subjectTaskStarted, TaskEvent{
		TaskID:    task.ID,
		Name:      task.Name,
		Kind:      task.Kind,
		Status:    model.TaskStatusRunning,
		Timestamp: time.Now(),
	})
}

// TaskCompleted implements scheduler.EventSink
func (p *Publisher) TaskCompleted(ctx context.Context, task *model.Task, result *model.RunResult) {
	p.publish(subjectTaskCompleted, TaskEvent{
		TaskID:    task.ID,
		Name:      task.Name,
		Kind:      task.Kind,
		Status:    model.TaskStatusCompleted,
		Message:   result.Message,
		Timestamp: time.Now(),
	})
	p.publish(subjectRunResult, TaskEvent{
		TaskID:    task.ID,
		Name:      task.Name,
		Kind:      task.Kind,
		Status:    model.TaskStatusCompleted,
		Result:    result,
		Timestamp: time.Now(),
	})
}

// TaskFailed implements scheduler.EventSink
func (p *Publisher) TaskFailed(ctx context.Context, task *model.Task, message string) {
	p.publish(subjectTaskFailed, TaskEvent{
		TaskID:    task.ID,
		Name:      task.Name,
		Kind:      task.Kind,
		Status:    model.TaskStatusFailed,
		Message:   message,
		Timestamp: time.Now(),
	})
}

func (p *Publisher) publish(subject string, event TaskEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to marshal event",
			zap.String("subject", subject),
			zap.Error(err))
		return
	}

	if _, err := p.js.Publish(subject, data); err != nil {
		p.logger.Error("Failed to publish event",
			zap.String("subject", subject),
			zap.String("task_id", event.TaskID),
			zap.Error(err))
	}
}
