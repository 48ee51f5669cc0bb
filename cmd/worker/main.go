package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"scanstation/internal/config"
	"scanstation/internal/notify"
	"scanstation/internal/store"
)

// Worker consumes scan notifications from redis and prints them for a
// hallway display or log shipper.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	if cfg.NotifyBackend != "redis" {
		log.Fatalf("worker needs NOTIFY_BACKEND=redis, got %q", cfg.NotifyBackend)
	}
	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Printf("WARNING: redis at %s not reachable, will keep retrying", cfg.RedisAddr)
	}

	q := notify.NewRedisQueue(redisClient.Client, cfg.NotifyQueueKey, 0)
	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for notifications...")
	for n := range messages {
		log.Println(notify.Line(n))
	}

	log.Println("worker stopped")
}
