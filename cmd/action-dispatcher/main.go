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

	"github.com/redwing-381/moment/internal/bus/redisstreams"
	"github.com/redwing-381/moment/internal/config"
	"github.com/redwing-381/moment/internal/dispatcher"
	"github.com/redwing-381/moment/internal/logging"
	"github.com/redwing-381/moment/internal/metrics"
	"github.com/redwing-381/moment/internal/ratelimit"
)

// main runs the Action Dispatcher as an independent process against
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
		log.Fatalf("cmd/action-dispatcher requires BUS_KIND=redis, got %q", cfg.Bus.Kind)
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
	consumer, err := redisstreams.NewConsumer(rootCtx, client, cfg.Bus.DecisionsTopic, cfg.Bus.ConsumerGroup+"-action-dispatcher", hostConsumerID(), 5*time.Second)
	if err != nil {
		log.Fatalf("create decisions consumer: %v", err)
	}

	limiter := ratelimit.New(ratelimit.Config{WindowSeconds: cfg.RateLimit.WindowSeconds, MaxRequests: cfg.RateLimit.MaxRequests})
	counters := &metrics.Counters{}
	m := metrics.New("ai-risk-gatekeeper-action-dispatcher")

	dispatch := dispatcher.New(limiter, logr, counters, m)
	stage := dispatcher.NewStage(dispatch, consumer, logr)

	ctx, cancel := context.WithCancel(rootCtx)
	go func() {
		if err := stage.Run(ctx, 0); err != nil {
			logr.WithField("error", err).Error("action dispatcher stopped")
		}
	}()

	logr.Info("action dispatcher started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logr.Info("shutdown signal received")
	stage.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = stage.Disconnect(shutdownCtx)

	logr.Info("action dispatcher stopped")
}

func hostConsumerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "action-dispatcher"
	}
	return "action-dispatcher-" + host
}
