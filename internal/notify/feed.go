package notify

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

const subscriberBuffer = 16

// Feed keeps the most recent notifications for polling clients and
// broadcasts new ones to every live subscriber.
type Feed struct {
	mu    sync.Mutex
	items []Notification
	size  int
	subs  map[chan Notification]struct{}
}

// NewFeed creates a feed holding at most size notifications.
func NewFeed(size int) *Feed {
	if size <= 0 {
		size = 50
	}
	return &Feed{size: size, subs: make(map[chan Notification]struct{})}
}

// Notify records n and hands it to every subscriber. A subscriber whose
// buffer is full misses n rather than stalling the scan flow.
func (f *Feed) Notify(ctx context.Context, n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, n)
	if over := len(f.items) - f.size; over > 0 {
		f.items = append(f.items[:0:0], f.items[over:]...)
	}
	for ch := range f.subs {
		select {
		case ch <- n:
		default:
			log.Printf("notification %s dropped for a slow subscriber", n.ID)
		}
	}
	return nil
}

// Subscribe returns a channel receiving notifications published after the
// call. The channel is closed once ctx is done.
func (f *Feed) Subscribe(ctx context.Context) <-chan Notification {
	ch := make(chan Notification, subscriberBuffer)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subs, ch)
		close(ch)
		f.mu.Unlock()
	}()
	return ch
}

// Subscribers reports the number of live subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Recent returns up to limit notifications, newest first.
func (f *Feed) Recent(limit int) []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit <= 0 || limit > len(f.items) {
		limit = len(f.items)
	}
	out := make([]Notification, 0, limit)
	for i := len(f.items) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.items[i])
	}
	return out
}

// Fanout stamps notifications and delivers them to every target.
// Delivery failures are logged and do not stop the remaining targets.
type Fanout struct {
	targets []Notifier
}

// NewFanout skips nil targets.
func NewFanout(targets ...Notifier) *Fanout {
	f := &Fanout{}
	for _, t := range targets {
		if t != nil {
			f.targets = append(f.targets, t)
		}
	}
	return f
}

func (f *Fanout) Notify(ctx context.Context, n Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.At.IsZero() {
		n.At = time.Now().UTC()
	}
	var firstErr error
	for _, t := range f.targets {
		if err := t.Notify(ctx, n); err != nil {
			log.Printf("notification %s not delivered: %v", n.ID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// QueueNotifier adapts a Queue to the Notifier interface.
type QueueNotifier struct {
	Queue Queue
}

func (q QueueNotifier) Notify(ctx context.Context, n Notification) error {
	return q.Queue.Publish(ctx, n)
}
