package sampler

import (
	"context"
	"errors"
	"log"
	"time"

	"scanstation/internal/camera"
	"scanstation/internal/metrics"
	"scanstation/internal/qr"
)

// DefaultInterval is the tick cadence used when none is configured.
const DefaultInterval = 500 * time.Millisecond

// Sampler copies a frame from a live stream on every tick and runs it
// through the decoder until one code is found.
type Sampler struct {
	Interval time.Duration
	Decoder  qr.Decoder
}

// New creates a sampler; non-positive intervals use DefaultInterval.
func New(interval time.Duration, dec qr.Decoder) *Sampler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sampler{Interval: interval, Decoder: dec}
}

// Run blocks until the first decoded code, a stream failure, or ctx is done.
// The ticker is stopped before Run returns, so no attempt follows a hit.
func (s *Sampler) Run(ctx context.Context, stream camera.Stream) (string, error) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		code, found, err := s.attempt(ctx, stream)
		if err != nil {
			return "", err
		}
		if found {
			return code, nil
		}
	}
}

func (s *Sampler) attempt(ctx context.Context, stream camera.Stream) (string, bool, error) {
	if !stream.Ready() {
		metrics.Ticks.WithLabelValues("skipped").Inc()
		return "", false, nil
	}
	frame, err := stream.Frame(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		if errors.Is(err, camera.ErrNotReady) {
			metrics.Ticks.WithLabelValues("skipped").Inc()
			return "", false, nil
		}
		metrics.Ticks.WithLabelValues("error").Inc()
		return "", false, err
	}

	code, found, err := s.Decoder.Decode(frame.Pix, frame.Width, frame.Height)
	switch {
	case err != nil:
		metrics.Ticks.WithLabelValues("error").Inc()
		log.Printf("decode failed on %dx%d frame: %v", frame.Width, frame.Height, err)
		return "", false, nil
	case !found || code == "":
		metrics.Ticks.WithLabelValues("miss").Inc()
		return "", false, nil
	}
	metrics.Ticks.WithLabelValues("hit").Inc()
	return code, true, nil
}
