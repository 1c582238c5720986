// Package retry is the single retry/backoff helper shared by navigation,
// image fetching and egress selection.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	Jitter    bool
	// Linear grows the delay by BaseDelay each attempt instead of keeping
	// it fixed.
	Linear bool
}

// Do runs fn up to p.Attempts times, sleeping between failures. The last
// error is returned wrapped with the attempt count. ctx cancellation aborts
// the wait and surfaces ctx.Err().
func Do(ctx context.Context, p Policy, fn func() error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt == p.Attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.delay(attempt)):
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", p.Attempts, lastErr)
}

func (p Policy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	if d <= 0 {
		d = time.Second
	}
	if p.Linear {
		d = time.Duration(attempt) * d
	}
	if p.Jitter {
		d += time.Duration(rand.Int63n(int64(d)))
	}
	return d
}
