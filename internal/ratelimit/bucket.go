package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Bucket is a token bucket for throttling outbound platform API calls.
type Bucket struct {
	mu       sync.Mutex
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastTime time.Time
}

func NewBucket(maxBurst int, ratePerMinute float64) *Bucket {
	if maxBurst <= 0 {
		maxBurst = 20
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 1200 // stays under Telegram's ~30 msg/s global cap
	}
	return &Bucket{
		tokens:   float64(maxBurst),
		max:      float64(maxBurst),
		rate:     ratePerMinute / 60.0,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is done.
func (b *Bucket) Wait(ctx context.Context) error {
	for {
		b.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(b.lastTime).Seconds()
		b.tokens += elapsed * b.rate
		if b.tokens > b.max {
			b.tokens = b.max
		}
		b.lastTime = now

		if b.tokens >= 1.0 {
			b.tokens -= 1.0
			b.mu.Unlock()
			return nil
		}

		waitSec := (1.0 - b.tokens) / b.rate
		b.mu.Unlock()

		timer := time.NewTimer(time.Duration(waitSec * float64(time.Second)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
