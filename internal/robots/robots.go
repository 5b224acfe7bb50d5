// Package robots implements the Robots Cache: a per-origin, single-shot
// robots.txt fetch whose parsed decision is cached forever for the life of
// the process (spec §4.C).
package robots

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/fenwicklabs/harvest/internal/fetch"
	"github.com/fenwicklabs/harvest/internal/metrics"
	"github.com/temoto/robotstxt"
)

// entry is the cached decision object for one origin. A nil data means
// robots.txt was missing or non-2xx: unrestricted, per §4.C.
type entry struct {
	data *robotstxt.RobotsData
}

// Cache fetches and caches robots.txt per origin (scheme://host[:port]).
type Cache struct {
	fetcher *fetch.Fetcher
	logger  *slog.Logger

	mu    sync.RWMutex
	byOrg map[string]*entry
}

// New builds a Cache backed by fetcher for robots.txt retrieval.
func New(fetcher *fetch.Fetcher, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		fetcher: fetcher,
		logger:  logger,
		byOrg:   make(map[string]*entry),
	}
}

// CanFetch reports whether userAgent may fetch targetURL under the cached
// robots.txt for its origin, using standard exclusion semantics (longest
// User-agent match, longest Allow/Disallow path match, Allow wins on ties —
// robotstxt.Group.Test already implements this ordering).
func (c *Cache) CanFetch(ctx context.Context, targetURL, userAgent string) (bool, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return false, fmt.Errorf("robots: invalid url: %w", err)
	}
	origin := u.Scheme + "://" + u.Host

	e := c.getOrFetch(ctx, origin)
	if e.data == nil {
		return true, nil
	}
	group := e.data.FindGroup(userAgent)
	allowed := group.Test(u.Path)
	if !allowed {
		metrics.RobotsRefusalsTotal.WithLabelValues(u.Host).Inc()
	}
	return allowed, nil
}

// CrawlDelay returns the crawl-delay directive for userAgent at origin, or
// nil if none was specified or robots.txt is unavailable.
func (c *Cache) CrawlDelay(ctx context.Context, origin, userAgent string) *time.Duration {
	e := c.getOrFetch(ctx, origin)
	if e.data == nil {
		return nil
	}
	group := e.data.FindGroup(userAgent)
	if group == nil || group.CrawlDelay <= 0 {
		return nil
	}
	d := group.CrawlDelay
	return &d
}

// Sitemaps returns the sitemap URLs advertised in origin's robots.txt.
func (c *Cache) Sitemaps(ctx context.Context, origin string) []string {
	e := c.getOrFetch(ctx, origin)
	if e.data == nil {
		return nil
	}
	return e.data.Sitemaps
}

func (c *Cache) getOrFetch(ctx context.Context, origin string) *entry {
	c.mu.RLock()
	e, ok := c.byOrg[origin]
	c.mu.RUnlock()
	if ok {
		return e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.byOrg[origin]; ok {
		return e
	}

	e = c.fetchOnce(ctx, origin)
	c.byOrg[origin] = e
	return e
}

func (c *Cache) fetchOnce(ctx context.Context, origin string) *entry {
	robotsURL := origin + "/robots.txt"

	out, err := c.fetcher.Fetch(ctx, robotsURL)
	if err != nil {
		c.logger.Debug("robots.txt fetch error, treating as unrestricted", "origin", origin, "err", err)
		return &entry{}
	}
	if out.Kind != fetch.Ok {
		c.logger.Debug("robots.txt unavailable, treating as unrestricted", "origin", origin, "outcome", out.Kind.String())
		return &entry{}
	}

	data, err := robotstxt.FromBytes(out.Bytes)
	if err != nil {
		c.logger.Debug("robots.txt parse error, treating as unrestricted", "origin", origin, "err", err)
		return &entry{}
	}
	return &entry{data: data}
}
