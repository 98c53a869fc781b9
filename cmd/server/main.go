package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/amvg/harvester/internal/acquire"
	"github.com/amvg/harvester/internal/api"
	"github.com/amvg/harvester/internal/events"
	"github.com/amvg/harvester/internal/model"
	"github.com/amvg/harvester/internal/monitor"
	"github.com/amvg/harvester/internal/pipeline"
	"github.com/amvg/harvester/internal/publish"
	"github.com/amvg/harvester/internal/scheduler"
	"github.com/amvg/harvester/internal/source"
	"github.com/amvg/harvester/internal/storage"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	loadConfig(logger)

	// Task store and optional SQLite-backed history / seen index.
	store, err := storage.NewFileTaskStore(viper.GetString("store.tasks_path"), logger)
	if err != nil {
		logger.Fatal("Failed to create task store", zap.Error(err))
	}

	history, err := storage.NewSQLiteRunHistory(viper.GetString("store.history_path"), logger)
	if err != nil {
		logger.Fatal("Failed to create run history", zap.Error(err))
	}
	defer history.Close()

	seen, err := storage.NewSQLiteSeenIndex(viper.GetString("store.seen_path"), logger)
	if err != nil {
		logger.Fatal("Failed to create seen index", zap.Error(err))
	}
	defer seen.Close()

	// NATS is optional: without it, events and stats stay local.
	var js nats.JetStreamContext
	var eventSink scheduler.EventSink
	if url := viper.GetString("nats.url"); url != "" {
		nc := connectNATS(url, logger)
		defer nc.Close()

		js, err = nc.JetStream()
		if err != nil {
			logger.Fatal("Failed to create JetStream context", zap.Error(err))
		}

		publisher, err := events.NewPublisher(js, logger)
		if err != nil {
			logger.Fatal("Failed to create event publisher", zap.Error(err))
		}
		eventSink = publisher
	}

	sched := scheduler.New(store, history, eventSink, scheduler.Config{
		PollInterval: viper.GetDuration("scheduler.poll_interval"),
		ErrorBackoff: viper.GetDuration("scheduler.error_backoff"),
		Workers:      viper.GetInt("scheduler.workers"),
		QueueSize:    viper.GetInt("scheduler.queue_size"),
		DrainTimeout: viper.GetDuration("scheduler.drain_timeout"),
	}, logger)

	// Pipeline collaborators.
	var uploader acquire.AssetUploader
	if endpoint := viper.GetString("upload.endpoint"); endpoint != "" {
		uploader = acquire.NewHTTPUploader(endpoint, viper.GetString("upload.api_key"), logger)
	}

	acquirer, err := acquire.NewHTTPAcquirer(viper.GetString("acquire.dir"), uploader, logger)
	if err != nil {
		logger.Fatal("Failed to create acquirer", zap.Error(err))
	}

	var publisher pipeline.Publisher
	if dsn := viper.GetString("publish.dsn"); dsn != "" {
		pub, err := publish.NewPostgresPublisher(dsn, viper.GetString("publish.table_prefix"), logger)
		if err != nil {
			logger.Fatal("Failed to create publisher", zap.Error(err))
		}
		defer pub.Close()
		publisher = pub
	}

	orchestrator := pipeline.NewOrchestrator(
		source.NewHTMLSource(logger),
		acquirer,
		publisher,
		seen,
		logger,
	)
	sched.RegisterRunner(model.KindScrapeCategory, orchestrator)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sched.Start(ctx); err != nil {
		logger.Fatal("Failed to start scheduler", zap.Error(err))
	}

	maintenance := scheduler.NewMaintenance(sched, history,
		viper.GetDuration("maintenance.retention"), logger)
	if err := maintenance.Start(viper.GetString("maintenance.spec")); err != nil {
		logger.Fatal("Failed to start maintenance", zap.Error(err))
	}

	collector := monitor.NewStatusCollector(sched, js,
		viper.GetDuration("monitor.interval"), logger)
	collector.Start(ctx)

	// Admin HTTP surface.
	server := &http.Server{
		Addr:    viper.GetString("api.addr"),
		Handler: api.NewRouter(sched, logger),
	}
	go func() {
		logger.Info("API listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("API server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("API shutdown failed", zap.Error(err))
	}

	collector.Stop()
	maintenance.Stop()
	sched.Stop()
	cancel()

	logger.Info("Server shutting down gracefully")
}

func loadConfig(logger *zap.Logger) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.SetDefault("store.tasks_path", "data/scheduled_tasks.json")
	viper.SetDefault("store.history_path", "data/run_history.db")
	viper.SetDefault("store.seen_path", "data/seen_items.db")
	viper.SetDefault("scheduler.poll_interval", 30*time.Second)
	viper.SetDefault("scheduler.error_backoff", time.Minute)
	viper.SetDefault("scheduler.workers", 4)
	viper.SetDefault("scheduler.queue_size", 16)
	viper.SetDefault("scheduler.drain_timeout", 10*time.Second)
	viper.SetDefault("maintenance.retention", 30*24*time.Hour)
	viper.SetDefault("maintenance.spec", "0 3 * * *")
	viper.SetDefault("monitor.interval", time.Minute)
	viper.SetDefault("acquire.dir", "data/artifacts")
	viper.SetDefault("publish.table_prefix", "wp_")
	viper.SetDefault("api.addr", ":8080")
	viper.SetDefault("nats.max_reconnects", 10)
	viper.SetDefault("nats.reconnect_wait", 2*time.Second)
	viper.SetDefault("nats.connect_timeout", 5*time.Second)

	if err := viper.ReadInConfig(); err != nil {
		logger.Warn("No config file found, using defaults", zap.Error(err))
	}
}

// connectNATS dials NATS with retry and the standard connection handlers.
func connectNATS(url string, logger *zap.Logger) *nats.Conn {
	opts := []nats.Option{
		nats.Name("harvester"),
		nats.MaxReconnects(viper.GetInt("nats.max_reconnects")),
		nats.ReconnectWait(viper.GetDuration("nats.reconnect_wait")),
		nats.Timeout(viper.GetDuration("nats.connect_timeout")),
		nats.PingInterval(20 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var nc *nats.Conn
	var err error
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(url, opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
	}

	logger.Info("Connected to NATS successfully", zap.String("url", nc.ConnectedUrl()))
	return nc
}
