package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/amvg/harvester/internal/model"
	"github.com/amvg/harvester/internal/storage"
)

// Params carries the per-task parameters for one pipeline run
type Params struct {
	Locator     string
	Name        string
	MaxItems    int
	AutoPublish bool
	Config      model.TaskConfig
}

// Runner executes one pipeline run for a due task. Implementations are
// registered with the scheduler under a named kind.
type Runner interface {
	Run(ctx context.Context, params Params) *model.RunResult
}

// Source enumerates items available at a locator
type Source interface {
	Items(ctx context.Context, locator string) ([]model.Item, error)
}

// Acquirer materializes one item into a local artifact
type Acquirer interface {
	Acquire(ctx context.Context, item model.Item) (model.Artifact, error)
}

// Publisher records an artifact and its metadata at a destination
type Publisher interface {
	Destinations(ctx context.Context) ([]model.Destination, error)
	Publish(ctx context.Context, item model.Item, destinationID int64, hostedRef string) (model.PublishReceipt, error)
}

// Orchestrator implements Runner: it enumerates items from a source,
// acquires each one with per-item failure isolation, optionally publishes
// the artifact, and aggregates the outcome.
type Orchestrator struct {
	logger    *zap.Logger
	source    Source
	acquirer  Acquirer
	publisher Publisher
	seen      storage.SeenIndex
	selector  DestinationStrategy
	retry     RetryStrategy
}

// NewOrchestrator creates a pipeline orchestrator. publisher and seen may
// be nil when publishing or duplicate skipping is not configured.
func NewOrchestrator(source Source, acquirer Acquirer, publisher Publisher, seen storage.SeenIndex, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		logger:    logger.Named("pipeline"),
		source:    source,
		acquirer:  acquirer,
		publisher: publisher,
		seen:      seen,
		selector:  &MostContentStrategy{},
		retry: &ExponentialBackoff{
			InitialDelay: 2 * time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
	}
}

// Run implements Runner
func (o *Orchestrator) Run(ctx context.Context, params Params) *model.RunResult {
	result := &model.RunResult{StartTime: time.Now()}
	defer func() {
		result.EndTime = time.Now()
	}()

	cfg := params.Config.WithDefaults()

	o.logger.Info("Starting pipeline run",
		zap.String("name", params.Name),
		zap.String("locator", params.Locator),
		zap.Int("max_items", params.MaxItems),
		zap.Bool("auto_publish", params.AutoPublish))

	// Publishing needs at least one destination before any work starts.
	var destinations []model.Destination
	if params.AutoPublish {
		if o.publisher == nil {
			result.Message = "auto publish enabled but no publisher configured"
			result.Errors = append(result.Errors, result.Message)
			return result
		}
		var err error
		destinations, err = o.publisher.Destinations(ctx)
		if err != nil {
			result.Message = fmt.Sprintf("failed to load destinations: %v", err)
			result.Errors = append(result.Errors, result.Message)
			return result
		}
		if len(destinations) == 0 {
			result.Message = "no destinations available for publishing"
			result.Errors = append(result.Errors, result.Message)
			return result
		}
	}

	items, err := o.source.Items(ctx, params.Locator)
	if err != nil {
		result.Message = fmt.Sprintf("failed to enumerate items: %v", err)
		result.Errors = append(result.Errors, result.Message)
		return result
	}

	if len(items) == 0 {
		// Benign empty case, not a failure: no error entry recorded.
		result.Message = "no items found at source"
		o.logger.Warn("Pipeline run found no items",
			zap.String("locator", params.Locator))
		return result
	}

	if params.MaxItems > 0 && len(items) > params.MaxItems {
		items = items[:params.MaxItems]
	}
	o.logger.Info("Processing items", zap.Int("count", len(items)))

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("run cancelled after item %d: %v", i, err))
			break
		}

		if *cfg.SkipExisting && o.alreadySeen(ctx, item) {
			o.logger.Debug("Skipping already processed item",
				zap.String("ref", item.Ref))
			continue
		}

		artifact, err := o.acquireWithRetry(ctx, item, cfg.MaxRetries)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("item %d: %v", i+1, err))
			o.logger.Error("Item acquisition failed",
				zap.Int("index", i+1),
				zap.String("ref", item.Ref),
				zap.Error(err))
			o.delayBetween(ctx, i, len(items), cfg)
			continue
		}

		result.ItemsProcessed++
		o.markSeen(ctx, item)

		if params.AutoPublish {
			destID := cfg.DestinationID
			if destID == 0 {
				dest, err := o.selector.Select(destinations, item)
				if err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("item %d: %v", i+1, err))
					o.delayBetween(ctx, i, len(items), cfg)
					continue
				}
				destID = dest.ID
			}

			receipt, err := o.publisher.Publish(ctx, item, destID, artifact.HostedRef)
			if err != nil {
				// Acquisition already succeeded; the processed count stands.
				result.Errors = append(result.Errors, fmt.Sprintf("item %d publish: %v", i+1, err))
				o.logger.Error("Item publish failed",
					zap.Int("index", i+1),
					zap.String("ref", item.Ref),
					zap.Error(err))
			} else {
				result.ItemsPublished++
				o.logger.Info("Item published",
					zap.String("ref", item.Ref),
					zap.Int64("post_id", receipt.PostID))
			}
		}

		o.delayBetween(ctx, i, len(items), cfg)
	}

	result.Success = result.ItemsProcessed > 0
	result.Summarize()

	o.logger.Info("Pipeline run finished",
		zap.String("name", params.Name),
		zap.Bool("success", result.Success),
		zap.Int("processed", result.ItemsProcessed),
		zap.Int("published", result.ItemsPublished),
		zap.Int("errors", len(result.Errors)))

	return result
}

// acquireWithRetry runs the acquirer, retrying transient failures.
func (o *Orchestrator) acquireWithRetry(ctx context.Context, item model.Item, maxRetries int) (model.Artifact, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := o.retry.NextRetry(attempt - 1)
			o.logger.Debug("Retrying acquisition",
				zap.String("ref", item.Ref),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay))
			if !sleepCtx(ctx, delay) {
				return model.Artifact{}, ctx.Err()
			}
		}

		artifact, err := o.acquirer.Acquire(ctx, item)
		if err == nil {
			return artifact, nil
		}
		lastErr = err
	}
	return model.Artifact{}, fmt.Errorf("acquisition failed after %d attempts: %w", maxRetries+1, lastErr)
}

func (o *Orchestrator) alreadySeen(ctx context.Context, item model.Item) bool {
	if o.seen == nil {
		return false
	}
	seen, err := o.seen.Seen(ctx, item)
	if err != nil {
		o.logger.Error("Seen index lookup failed",
			zap.String("ref", item.Ref),
			zap.Error(err))
		return false
	}
	return seen
}

func (o *Orchestrator) markSeen(ctx context.Context, item model.Item) {
	if o.seen == nil {
		return
	}
	if err := o.seen.Mark(ctx, item); err != nil {
		o.logger.Error("Failed to mark item seen",
			zap.String("ref", item.Ref),
			zap.Error(err))
	}
}

// delayBetween sleeps a uniformly random duration between the configured
// bounds. It throttles only between items: never before the first and
// never after the last.
func (o *Orchestrator) delayBetween(ctx context.Context, index, total int, cfg model.TaskConfig) {
	if index >= total-1 {
		return
	}
	min := cfg.DelayMinSeconds
	max := cfg.DelayMaxSeconds
	if max <= min {
		max = min
	}
	delay := time.Duration((min + rand.Float64()*(max-min)) * float64(time.Second))
	if delay <= 0 {
		return
	}
	o.logger.Debug("Throttling between items", zap.Duration("delay", delay))
	sleepCtx(ctx, delay)
}

// sleepCtx sleeps for d or until the context is cancelled. It reports
// whether the full duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
