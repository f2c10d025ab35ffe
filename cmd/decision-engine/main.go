package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/redwing-381/moment/internal/aiclient"
	"github.com/redwing-381/moment/internal/aiqueue"
	"github.com/redwing-381/moment/internal/bus/redisstreams"
	"github.com/redwing-381/moment/internal/cache"
	"github.com/redwing-381/moment/internal/config"
	"github.com/redwing-381/moment/internal/decision"
	"github.com/redwing-381/moment/internal/logging"
	"github.com/redwing-381/moment/internal/metrics"
	"github.com/redwing-381/moment/internal/models"
)

// main runs the Decision Engine as an independent process against
// Redis Streams.
func main() {
	configPath := flag.String("config", "", "Path to configuration file (overrides CONFIG_FILE env)")
	flag.Parse()
	if *configPath != "" {
		os.Setenv("CONFIG_FILE", *configPath)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Bus.Kind != "redis" {
		log.Fatalf("cmd/decision-engine requires BUS_KIND=redis, got %q", cfg.Bus.Kind)
	}

	logr := logging.New(logging.Config{
		Level: cfg.Logging.Level, Format: cfg.Logging.Format,
		Output: cfg.Logging.Output, FilePrefix: cfg.Logging.FilePrefix,
	})

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Bus.BootstrapServers,
		Username: cfg.Bus.Username,
		Password: cfg.Bus.Password,
	})
	defer client.Close()

	rootCtx := context.Background()
	consumer, err := redisstreams.NewConsumer(rootCtx, client, cfg.Bus.SignalsTopic, cfg.Bus.ConsumerGroup+"-decision-engine", hostConsumerID(), 5*time.Second)
	if err != nil {
		log.Fatalf("create signals consumer: %v", err)
	}
	producer := redisstreams.NewProducer(client)

	decisionCache := cache.New(cache.Config{MaxSize: cfg.Cache.MaxSize, TTLSeconds: cfg.Cache.TTLSeconds})
	queue := aiqueue.New(aiqueue.Config{
		MaxConcurrent: cfg.AIQueue.MaxConcurrent, MaxQueue: cfg.AIQueue.MaxQueue,
		InitialBackoffMS: cfg.AIQueue.InitialBackoffMS, MaxBackoffMS: cfg.AIQueue.MaxBackoffMS,
	})
	counters := &metrics.Counters{}
	m := metrics.New("ai-risk-gatekeeper-decision-engine")

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

	engine := decision.New(decision.Config{
		ThresholdLow: cfg.Decision.ThresholdLow, ThresholdHigh: cfg.Decision.ThresholdHigh,
		Mode: modeFromString(cfg.Decision.Mode), SkipCacheOnParseFailure: cfg.Decision.SkipCacheOnParseFailure,
	}, decisionCache, queue, aiClient, counters)

	stage := decision.NewStage(engine, consumer, producer, cfg.Bus.DecisionsTopic, logr, m)

	ctx, cancel := context.WithCancel(rootCtx)
	go func() {
		if err := stage.Run(ctx, 0); err != nil {
			logr.WithField("error", err).Error("decision engine stopped")
		}
	}()

	logr.WithField("mode", cfg.Decision.Mode).Info("decision engine started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logr.Info("shutdown signal received")
	stage.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = stage.Disconnect(shutdownCtx)

	logr.Info("decision engine stopped")
}

func modeFromString(s string) models.Mode {
	switch s {
	case "fast":
		return models.ModeFast
	case "full_ai":
		return models.ModeFullAI
	default:
		return models.ModeHybrid
	}
}

func hostConsumerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "decision-engine"
	}
	return "decision-engine-" + host
}
