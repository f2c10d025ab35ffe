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
	"github.com/redwing-381/moment/internal/frequency"
	"github.com/redwing-381/moment/internal/logging"
	"github.com/redwing-381/moment/internal/metrics"
	"github.com/redwing-381/moment/internal/signalprocessor"
	"github.com/redwing-381/moment/internal/wirecodec"
)

// main runs the Signal Processor as an independent process against
// Redis Streams, the out-of-process deployment shape for BUS_KIND=redis.
// cmd/gatekeeper runs the same stage in-process over an in-memory bus.
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
		log.Fatalf("cmd/signal-processor requires BUS_KIND=redis, got %q", cfg.Bus.Kind)
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
	consumer, err := redisstreams.NewConsumer(rootCtx, client, cfg.Bus.EventsTopic, cfg.Bus.ConsumerGroup+"-signal-processor", hostConsumerID(), 5*time.Second)
	if err != nil {
		log.Fatalf("create events consumer: %v", err)
	}
	producer := redisstreams.NewProducer(client)

	tracker := frequency.New(frequency.Config{WindowSeconds: cfg.Frequency.WindowSeconds, BucketSeconds: cfg.Frequency.BucketSeconds})
	processor := signalprocessor.New(signalprocessor.DefaultScoringConfig())
	counters := &metrics.Counters{}

	stage := signalprocessor.NewStage(processor, tracker, consumer, producer, cfg.Bus.SignalsTopic, logr, counters)
	stage.SetDecoder(wirecodec.New(wirecodec.Config{
		Enabled:     cfg.SchemaRegistry.Enabled,
		RegistryURL: cfg.SchemaRegistry.URL,
		APIKey:      cfg.SchemaRegistry.APIKey,
		APISecret:   cfg.SchemaRegistry.APISecret,
		Subject:     cfg.SchemaRegistry.Subject,
	}, logr))

	ctx, cancel := context.WithCancel(rootCtx)
	go func() {
		if err := stage.Run(ctx, 0); err != nil {
			logr.WithField("error", err).Error("signal processor stopped")
		}
	}()

	logr.Info("signal processor started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logr.Info("shutdown signal received")
	stage.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = stage.Disconnect(shutdownCtx)

	logr.Info("signal processor stopped")
}

func hostConsumerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "signal-processor"
	}
	return "signal-processor-" + host
}
