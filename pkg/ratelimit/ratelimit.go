// Package ratelimit enforces the per-host minimum inter-fetch spacing
// described in spec §4.D: between two fetches to the same host, at least
// max(1/rps, crawl_delay) seconds must elapse.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/fenwicklabs/harvest/internal/metrics"
)

// HostLimiter holds one timing cell per host and is safe for concurrent use.
// The critical section covers read-compute-write only: each caller reserves
// its slot (last = now + sleep) under the lock and then sleeps after
// releasing it, so concurrent fetchers to the same host are handed
// successive slots spaced one interval apart.
type HostLimiter struct {
	rps float64 // requests per second; <= 0 disables rate-based spacing

	mu   sync.Mutex
	last map[string]time.Time
}

// NewHostLimiter creates a limiter with the given default requests-per-second
// ceiling. A non-positive rps disables the rate-based spacing; a non-zero
// crawlDelay passed to Wait is still honored.
func NewHostLimiter(rps float64) *HostLimiter {
	return &HostLimiter{
		rps:  rps,
		last: make(map[string]time.Time),
	}
}

// Wait blocks until it is safe to issue the next request to host, honoring
// whichever of 1/rps or crawlDelay is larger. A zero crawlDelay means
// robots.txt specified none. It returns ctx.Err() if the context is
// cancelled while waiting.
func (l *HostLimiter) Wait(ctx context.Context, host string, crawlDelay time.Duration) error {
	interval := l.minInterval(crawlDelay)
	if interval <= 0 {
		return nil
	}

	l.mu.Lock()
	now := time.Now()
	last, seen := l.last[host]
	var sleep time.Duration
	if seen {
		elapsed := now.Sub(last)
		if elapsed < interval {
			sleep = interval - elapsed
		}
	}
	l.last[host] = now.Add(sleep)
	l.mu.Unlock()

	if sleep <= 0 {
		return nil
	}
	metrics.RateLimiterWaitSeconds.WithLabelValues(host).Observe(sleep.Seconds())

	t := time.NewTimer(sleep)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (l *HostLimiter) minInterval(crawlDelay time.Duration) time.Duration {
	var fromRPS time.Duration
	if l.rps > 0 {
		fromRPS = time.Duration(float64(time.Second) / l.rps)
	}
	if crawlDelay > fromRPS {
		return crawlDelay
	}
	return fromRPS
}
