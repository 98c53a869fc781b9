// Package monitor reports periodic health snapshots: host load plus the
// scheduler's aggregate task counts.
package monitor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/amvg/harvester/internal/scheduler"
)

const statsSubject = "pipeline.stats"

// Snapshot is one health report
type Snapshot struct {
	CPUPercent  float64          `json:"cpu_percent"`
	MemPercent  float64          `json:"mem_percent"`
	Tasks       scheduler.Status `json:"tasks"`
	CollectedAt time.Time        `json:"collected_at"`
}

// StatusCollector samples host and scheduler state on an interval. When
// a JetStream context is provided the snapshots are published; otherwise
// they are only logged.
type StatusCollector struct {
	logger    *zap.Logger
	js        nats.JetStreamContext
	scheduler *scheduler.Scheduler
	interval  time.Duration
	stop      chan struct{}
}

// NewStatusCollector creates a collector. js may be nil.
func NewStatusCollector(s *scheduler.Scheduler, js nats.JetStreamContext, interval time.Duration, logger *zap.Logger) *StatusCollector {
	if interval <= 0 {
		interval = time.Minute
	}
	return &StatusCollector{
		logger:    logger.Named("monitor"),
		js:        js,
		scheduler: s,
		interval:  interval,
		stop:      make(chan struct{}),
	}
}

// Start starts the collection loop.
func (c *StatusCollector) Start(ctx context.Context) {
	c.logger.Info("Starting status collector", zap.Duration("interval", c.interval))
	go c.collectLoop(ctx)
}

// Stop stops the collection loop.
func (c *StatusCollector) Stop() {
	c.logger.Info("Stopping status collector")
	close(c.stop)
}

func (c *StatusCollector) collectLoop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.collect(ctx)
		}
	}
}

// Collect takes one snapshot. Exported so a host can force a report.
func (c *StatusCollector) Collect(ctx context.Context) Snapshot {
	snapshot := Snapshot{
		Tasks:       c.scheduler.Status(),
		CollectedAt: time.Now(),
	}

	if percents, err := cpu.Percent(0, false); err != nil {
		c.logger.Error("Failed to sample CPU", zap.Error(err))
	} else if len(percents) > 0 {
		snapshot.CPUPercent = percents[0]
	}

	if vm, err := mem.VirtualMemory(); err != nil {
		c.logger.Error("Failed to sample memory", zap.Error(err))
	} else {
		snapshot.MemPercent = vm.UsedPercent
	}

	return snapshot
}

func (c *StatusCollector) collect(ctx context.Context) {
	snapshot := c.Collect(ctx)

	c.logger.Debug("Collected snapshot",
		zap.Float64("cpu_percent", snapshot.CPUPercent),
		zap.Float64("mem_percent", snapshot.MemPercent),
		zap.Int("pending_tasks", snapshot.Tasks.Pending),
		zap.Int("running_tasks", snapshot.Tasks.Executing))

	if c.js == nil {
		return
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		c.logger.Error("Failed to marshal snapshot", zap.Error(err))
		return
	}
	if _, err := c.js.Publish(statsSubject, data); err != nil {
		c.logger.Error("Failed to publish snapshot", zap.Error(err))
	}
}
