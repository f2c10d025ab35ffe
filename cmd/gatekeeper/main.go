package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/redwing-381/moment/internal/aiclient"
	"github.com/redwing-381/moment/internal/bus"
	"github.com/redwing-381/moment/internal/bus/inmemory"
	"github.com/redwing-381/moment/internal/config"
	"github.com/redwing-381/moment/internal/logging"
	"github.com/redwing-381/moment/internal/metrics"
	"github.com/redwing-381/moment/internal/models"
	"github.com/redwing-381/moment/internal/pipeline"
)

// main runs the Signal Processor, Decision Engine, and Action
// Dispatcher as three goroutines within a single process, wired over
// an in-memory bus. It is the demo/single-binary deployment shape;
// cmd/signal-processor, cmd/decision-engine, and cmd/action-dispatcher
// run the same stages as independent processes over bus/redisstreams.
func main() {
	configPath := flag.String("config", "", "Path to configuration file (overrides CONFIG_FILE env)")
	demo := flag.Bool("demo", false, "Feed a fixed set of illustrative events through the pipeline at startup")
	flag.Parse()

	if *configPath != "" {
		os.Setenv("CONFIG_FILE", *configPath)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logr := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	m := metrics.New("ai-risk-gatekeeper")
	counters := &metrics.Counters{}

	// One partition per topic: each stage runs a single consumer here,
	// so a second partition would never be drained.
	memBus := inmemory.NewBus(1, 256)
	bundle := &bus.Bundle{
		EventsConsumer:    memBus.Consumer(cfg.Bus.EventsTopic, 0),
		SignalsProducer:   memBus.Producer(),
		SignalsConsumer:   memBus.Consumer(cfg.Bus.SignalsTopic, 0),
		DecisionsProducer: memBus.Producer(),
		DecisionsConsumer: memBus.Consumer(cfg.Bus.DecisionsTopic, 0),
	}

	var aiClient aiclient.Client
	if cfg.AIClient.Endpoint != "" {
		aiClient = aiclient.NewHTTPClient(
			cfg.AIClient.Endpoint, cfg.AIClient.APIKey, cfg.AIClient.Model,
			time.Duration(cfg.AIClient.TimeoutMS)*time.Millisecond, nil,
		)
	} else {
		logr.Warn("AI_ENDPOINT not configured, using fake AI client")
		aiClient = aiclient.NewFakeClient("allow", 0.65, "no AI backend configured, defaulting to allow")
	}

	pl := pipeline.New(cfg, pipeline.Builder{
		Bus:      bundle,
		AIClient: aiClient,
		Log:      logr,
		Metrics:  m,
		Counters: counters,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logr.WithField("error", err).Error("metrics server stopped")
			}
		}()
		defer srv.Close()
	}

	start := time.Now()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.UpdateUptime(start)
			}
		}
	}()

	logr.WithField("mode", cfg.Decision.Mode).Info("ai risk gatekeeper starting")
	go pl.Run(ctx, 0)

	if *demo {
		go produceDemoEvents(ctx, memBus, cfg.Bus.EventsTopic, logr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logr.Info("shutdown signal received, stopping pipeline")
	pl.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	pl.Disconnect(shutdownCtx)

	logr.Info("ai risk gatekeeper stopped")
}

// produceDemoEvents feeds a small fixed set of illustrative events
// through the pipeline: a routine low-risk read, a high-risk bulk
// export, and an ambiguous analyst config change.
func produceDemoEvents(ctx context.Context, memBus *inmemory.Bus, eventsTopic string, logr *logging.Logger) {
	producer := memBus.Producer()
	now := time.Now().UnixMilli()

	events := []models.Event{
		{
			EventID: uuid.NewString(), ActorID: "user_normal", Action: "file_read",
			Role: "developer", FrequencyLast60s: 2, Timestamp: now,
			SessionID: uuid.NewString(), ResourceSensitivity: models.SensitivityLow,
		},
		{
			EventID: uuid.NewString(), ActorID: "user_suspicious", Action: "bulk_export",
			Role: "developer", FrequencyLast60s: 50, GeoChange: true, Timestamp: now,
			SessionID: uuid.NewString(), ResourceSensitivity: models.SensitivityCritical,
		},
		{
			EventID: uuid.NewString(), ActorID: "user_ambiguous", Action: "config_change",
			Role: "analyst", FrequencyLast60s: 12, Timestamp: now,
			SessionID: uuid.NewString(), ResourceSensitivity: models.SensitivityHigh,
		},
	}

	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			logr.WithField("error", err).Error("demo: encode event")
			continue
		}
		if err := producer.Produce(ctx, eventsTopic, e.ActorID, payload); err != nil {
			logr.WithField("error", err).Error("demo: produce event")
			return
		}
	}
	logr.WithField("count", len(events)).Info("demo events produced")
}
