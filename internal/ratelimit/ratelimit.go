// Package ratelimit paces page fetches so a job never hammers a target
// site. One limiter is shared per job and consulted between pages.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

type Limiter interface {
	Wait(ctx context.Context) error
}

// PageLimiter enforces a jittered minimum interval between actions.
// Jitter keeps page fetch timing irregular.
type PageLimiter struct {
	minDelay   time.Duration
	maxDelay   time.Duration
	lastAction time.Time
	mu         sync.Mutex
}

func NewPageLimiter(minDelay, maxDelay time.Duration) *PageLimiter {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &PageLimiter{
		minDelay: minDelay,
		maxDelay: maxDelay,
	}
}

func (r *PageLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	elapsed := time.Since(r.lastAction)
	delay := r.nextDelay()

	if elapsed < delay {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay - elapsed):
		}
	}

	r.lastAction = time.Now()
	return nil
}

func (r *PageLimiter) nextDelay() time.Duration {
	if r.maxDelay <= r.minDelay {
		return r.minDelay
	}
	jitter := time.Duration(rand.Int63n(int64(r.maxDelay - r.minDelay)))
	return r.minDelay + jitter
}
