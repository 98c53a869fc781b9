package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amvg/harvester/internal/model"
	"github.com/amvg/harvester/internal/testutil"
)

func TestPublisher_TaskLifecycleEvents(t *testing.T) {
	js, cleanup := testutil.SetupJetStream(t)
	defer cleanup()

	p, err := NewPublisher(js, zap.NewNop())
	require.NoError(t, err)

	sub, err := js.SubscribeSync("pipeline.task.*", nats.DeliverAll())
	require.NoError(t, err)
	defer sub.Unsubscribe()

	task := &model.Task{
		ID:      "task-1",
		Name:    "harvest",
		Kind:    model.KindScrapeCategory,
		Locator: "https://example.com/videos",
	}

	ctx := context.Background()
	p.TaskStarted(ctx, task)
	p.TaskCompleted(ctx, task, &model.RunResult{
		Success:        true,
		Message:        "processed: 2 items, published: 2 items",
		ItemsProcessed: 2,
		ItemsPublished: 2,
	})
	p.TaskFailed(ctx, task, "listing returned status 503")

	msg, err := sub.NextMsg(5 * time.Second)
	require.NoError(t, err)
	require.Equal(t, "pipeline.task.started", msg.Subject)

	var started TaskEvent
	require.NoError(t, json.Unmarshal(msg.Data, &started))
	require.Equal(t, "task-1", started.TaskID)
	require.Equal(t, model.TaskStatusRunning, started.Status)
	require.False(t, started.Timestamp.IsZero())

	msg, err = sub.NextMsg(5 * time.Second)
	require.NoError(t, err)
	require.Equal(t, "pipeline.task.completed", msg.Subject)

	var completed TaskEvent
	require.NoError(t, json.Unmarshal(msg.Data, &completed))
	require.Equal(t, model.TaskStatusCompleted, completed.Status)
	require.Equal(t, "processed: 2 items, published: 2 items", completed.Message)

	msg, err = sub.NextMsg(5 * time.Second)
	require.NoError(t, err)
	require.Equal(t, "pipeline.task.failed", msg.Subject)

	var failed TaskEvent
	require.NoError(t, json.Unmarshal(msg.Data, &failed))
	require.Equal(t, model.TaskStatusFailed, failed.Status)
	require.Equal(t, "listing returned status 503", failed.Message)
}

func TestPublisher_RunResultEvent(t *testing.T) {
	js, cleanup := testutil.SetupJetStream(t)
	defer cleanup()

	p, err := NewPublisher(js, zap.NewNop())
	require.NoError(t, err)

	sub, err := js.SubscribeSync("pipeline.run.result", nats.DeliverAll())
	require.NoError(t, err)
	defer sub.Unsubscribe()

	result := &model.RunResult{
		Success:        true,
		Message:        "processed: 4 items, published: 3 items, errors: 1",
		ItemsProcessed: 4,
		ItemsPublished: 3,
		Errors:         []string{"item 2: timeout"},
	}
	p.TaskCompleted(context.Background(), &model.Task{ID: "task-1", Name: "harvest"}, result)

	msg, err := sub.NextMsg(5 * time.Second)
	require.NoError(t, err)

	var event TaskEvent
	require.NoError(t, json.Unmarshal(msg.Data, &event))
	require.NotNil(t, event.Result)
	require.Equal(t, 4, event.Result.ItemsProcessed)
	require.Equal(t, 3, event.Result.ItemsPublished)
	require.Equal(t, []string{"item 2: timeout"}, event.Result.Errors)
}

func TestNewPublisher_ExistingStream(t *testing.T) {
	js, cleanup := testutil.SetupJetStream(t)
	defer cleanup()

	_, err := NewPublisher(js, zap.NewNop())
	require.NoError(t, err)

	// A second publisher reuses the stream instead of failing.
	_, err = NewPublisher(js, zap.NewNop())
	require.NoError(t, err)
}
