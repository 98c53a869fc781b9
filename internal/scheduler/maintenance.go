package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/amvg/harvester/internal/storage"
)

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

// Maintenance runs periodic housekeeping outside the polling loop:
// removing old completed tasks and expiring run history records.
type Maintenance struct {
	logger    *zap.Logger
	cron      *cron.Cron
	scheduler *Scheduler
	history   storage.RunHistoryStorage
	retention time.Duration
}

// NewMaintenance creates the maintenance runner. history may be nil, in
// which case only task cleanup is performed. retention bounds how long
// completed tasks and run records are kept.
func NewMaintenance(s *Scheduler, history storage.RunHistoryStorage, retention time.Duration, logger *zap.Logger) *Maintenance {
	log := logger.Named("maintenance")
	cronOptions := []cron.Option{
		cron.WithChain(cron.Recover(&cronLogger{logger: log.Named("cron")})),
	}

	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}

	return &Maintenance{
		logger:    log,
		cron:      cron.New(cronOptions...),
		scheduler: s,
		history:   history,
		retention: retention,
	}
}

// Start schedules the daily cleanup job.
func (m *Maintenance) Start(spec string) error {
	if spec == "" {
		spec = "0 3 * * *"
	}

	if _, err := m.cron.AddFunc(spec, m.runCleanup); err != nil {
		return fmt.Errorf("failed to add cleanup job: %w", err)
	}

	m.cron.Start()
	m.logger.Info("Maintenance started",
		zap.String("spec", spec),
		zap.Duration("retention", m.retention))
	return nil
}

// Stop stops the cron runner and waits for a running job to finish.
func (m *Maintenance) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
	m.logger.Info("Maintenance stopped")
}

func (m *Maintenance) runCleanup() {
	removed := m.scheduler.CleanupCompleted(m.retention)
	m.logger.Info("Task cleanup finished", zap.Int("removed", removed))

	if m.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	cutoff := time.Now().Add(-m.retention)
	if err := m.history.DeleteBefore(ctx, cutoff); err != nil {
		m.logger.Error("Run history cleanup failed", zap.Error(err))
	}
}
