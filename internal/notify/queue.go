package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrQueueFull is returned by InMemory.Publish when no consumer keeps up.
var ErrQueueFull = errors.New("notification queue full")

// Queue is the abstraction over notification backends.
type Queue interface {
	Publish(ctx context.Context, n Notification) error
	Consume(ctx context.Context) (<-chan Notification, error)
}

// InMemory is a channel-backed queue for single-process setups and tests.
type InMemory struct {
	ch chan Notification
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	if size <= 0 {
		size = 1
	}
	return &InMemory{ch: make(chan Notification, size)}
}

// Publish enqueues without blocking the scan flow; a full queue drops the notification.
func (q *InMemory) Publish(ctx context.Context, n Notification) error {
	select {
	case q.ch <- n:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Consume returns a channel for display workers.
func (q *InMemory) Consume(ctx context.Context) (<-chan Notification, error) {
	out := make(chan Notification)
	go func() {
		defer close(out)
		for {
			select {
			case n := <-q.ch:
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisQueue implements a Redis list-backed queue.
type RedisQueue struct {
	client *redis.Client
	key    string
	maxLen int64
}

// NewRedisQueue builds a queue using LPUSH/BRPOP semantics, trimmed to maxLen entries.
func NewRedisQueue(client *redis.Client, key string, maxLen int64) *RedisQueue {
	if key == "" {
		key = "scanstation:notifications"
	}
	if maxLen <= 0 {
		maxLen = 500
	}
	return &RedisQueue{client: client, key: key, maxLen: maxLen}
}

// Publish enqueues a notification and caps the list length.
func (q *RedisQueue) Publish(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, q.key, payload)
	pipe.LTrim(ctx, q.key, 0, q.maxLen-1)
	_, err = pipe.Exec(ctx)
	return err
}

// Consume streams notifications using BRPOP.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan Notification, error) {
	out := make(chan Notification)
	go func() {
		defer close(out)
		for {
			res, err := q.client.BRPop(ctx, 5*time.Second, q.key).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !errors.Is(err, redis.Nil) {
					log.Printf("notification queue read failed: %v", err)
					time.Sleep(time.Second)
				}
				continue
			}
			if len(res) != 2 {
				continue
			}
			var n Notification
			if err := json.Unmarshal([]byte(res[1]), &n); err != nil {
				log.Printf("dropping malformed notification: %v", err)
				continue
			}
			select {
			case out <- n:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
