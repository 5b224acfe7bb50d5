// Package crawl implements the Crawler: a bounded, sequential breadth-first
// traversal starting from one URL, dispatching each visited page through
// the HTML pipeline (spec §4.I). A single run is single-threaded inside —
// spec §5 requires no intra-request parallelism here, only across
// concurrent requests sharing the rate limiter and robots cache.
package crawl

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/fenwicklabs/harvest/internal/attest"
	"github.com/fenwicklabs/harvest/internal/fetch"
	"github.com/fenwicklabs/harvest/internal/guard"
	"github.com/fenwicklabs/harvest/internal/htmlextract"
	"github.com/fenwicklabs/harvest/internal/metrics"
	"github.com/fenwicklabs/harvest/internal/robots"
	"github.com/fenwicklabs/harvest/pkg/ratelimit"
)

// Options configures a single crawl run.
type Options struct {
	MaxPages               int
	SameOriginOnly         bool
	SkipPreviouslyAttested bool
	UserAgent              string
	RespectRobots          bool
	AllowPrivateIPs        bool
}

// Crawler holds the shared, process-lifetime collaborators a crawl run
// dispatches through: the fetcher's connection pool, the robots cache, and
// the per-host rate limiter (spec §5, "Shared resources").
type Crawler struct {
	fetcher *fetch.Fetcher
	robots  *robots.Cache
	limiter *ratelimit.HostLimiter
	sink    attest.Sink // optional; nil disables skip_previously_attested
	logger  *slog.Logger
}

// New builds a Crawler. sink may be nil if skip_previously_attested is
// never requested.
func New(fetcher *fetch.Fetcher, robotsCache *robots.Cache, limiter *ratelimit.HostLimiter, sink attest.Sink, logger *slog.Logger) *Crawler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Crawler{fetcher: fetcher, robots: robotsCache, limiter: limiter, sink: sink, logger: logger}
}

// Run performs the BFS crawl described at spec §4.I and returns the ordered
// sequence of PageRecords yielded, one per successfully-dequeued URL.
func (c *Crawler) Run(ctx context.Context, startURL string, opts Options) ([]*htmlextract.PageRecord, error) {
	if opts.MaxPages <= 0 {
		opts.MaxPages = 1
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "*"
	}

	if opts.SkipPreviouslyAttested && c.sink != nil {
		already, err := attest.HasAttestation(ctx, c.sink, startURL, attest.PredicateHasTitle)
		if err != nil {
			c.logger.Warn("skip_previously_attested check failed, proceeding", "url", startURL, "err", err)
		} else if already {
			return nil, nil
		}
	}

	origin, err := originOf(startURL)
	if err != nil {
		return nil, err
	}

	visited := make(map[string]struct{})
	enqueued := map[string]struct{}{startURL: {}}
	queue := []string{startURL}

	var records []*htmlextract.PageRecord

	for len(queue) > 0 && len(visited) < opts.MaxPages {
		u := queue[0]
		queue = queue[1:]

		if _, seen := visited[u]; seen {
			continue
		}

		if opts.SkipPreviouslyAttested && c.sink != nil {
			already, err := attest.HasAttestation(ctx, c.sink, u, attest.PredicateHasTitle)
			if err != nil {
				c.logger.Warn("skip_previously_attested check failed, proceeding", "url", u, "err", err)
			} else if already {
				visited[u] = struct{}{}
				continue
			}
		}

		visited[u] = struct{}{}
		metrics.CrawlPagesVisitedTotal.WithLabelValues(origin).Inc()

		rec := c.visitOne(ctx, u, opts)
		records = append(records, rec)

		if rec.Error != "" {
			continue
		}

		for _, link := range rec.Links {
			if _, done := visited[link.TargetURL]; done {
				continue
			}
			if _, pending := enqueued[link.TargetURL]; pending {
				continue
			}
			if opts.SameOriginOnly && link.IsExternal {
				continue
			}
			enqueued[link.TargetURL] = struct{}{}
			queue = append(queue, link.TargetURL)
		}
	}

	return records, nil
}

// visitOne runs the full single-page pipeline (guard, robots, rate limit,
// fetch, extract) and always returns a PageRecord, capturing any failure
// into its Error field rather than aborting the crawl (spec §7, "Crawls are
// best-effort").
func (c *Crawler) visitOne(ctx context.Context, targetURL string, opts Options) *htmlextract.PageRecord {
	if err := guard.Admit(ctx, targetURL, guard.Options{AllowPrivate: opts.AllowPrivateIPs}); err != nil {
		return &htmlextract.PageRecord{URL: targetURL, Error: err.Error()}
	}

	if opts.RespectRobots {
		allowed, err := c.robots.CanFetch(ctx, targetURL, opts.UserAgent)
		if err != nil {
			c.logger.Warn("robots check failed, proceeding", "url", targetURL, "err", err)
		} else if !allowed {
			return &htmlextract.PageRecord{URL: targetURL, Error: "disallowed by robots.txt"}
		}
	}

	host, err := hostOf(targetURL)
	if err != nil {
		return &htmlextract.PageRecord{URL: targetURL, Error: err.Error()}
	}

	var crawlDelay time.Duration
	if opts.RespectRobots {
		if origin, err := originOf(targetURL); err == nil {
			if d := c.robots.CrawlDelay(ctx, origin, opts.UserAgent); d != nil {
				crawlDelay = *d
			}
		}
	}
	if err := c.limiter.Wait(ctx, host, crawlDelay); err != nil {
		return &htmlextract.PageRecord{URL: targetURL, Error: err.Error()}
	}

	out, err := c.fetcher.Fetch(ctx, targetURL)
	if err != nil {
		return &htmlextract.PageRecord{URL: targetURL, Error: err.Error()}
	}
	if out.Kind != fetch.Ok {
		return &htmlextract.PageRecord{URL: targetURL, Error: out.Reason}
	}

	rec, err := htmlextract.Extract(targetURL, out.Bytes)
	if err != nil {
		return &htmlextract.PageRecord{URL: targetURL, Error: err.Error()}
	}
	rec.StatusCode = out.StatusCode
	return rec
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("crawl: invalid url: %w", err)
	}
	return u.Host, nil
}

func originOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("crawl: invalid url: %w", err)
	}
	return u.Scheme + "://" + u.Host, nil
}
