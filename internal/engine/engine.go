// Package engine wires the harvest components together into the surface
// a request router calls through: Initialize, Shutdown, Metadata, Health,
// and the eight workflow operations (scrape, scrape-and-attest, feed,
// feed-and-attest, sitemap, sitemap-and-attest, crawl, schedule) named in
// spec §4.J.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/fenwicklabs/harvest/internal/attest"
	"github.com/fenwicklabs/harvest/internal/crawl"
	"github.com/fenwicklabs/harvest/internal/feed"
	"github.com/fenwicklabs/harvest/internal/fetch"
	"github.com/fenwicklabs/harvest/internal/htmlextract"
	"github.com/fenwicklabs/harvest/internal/pipeline"
	"github.com/fenwicklabs/harvest/internal/projector"
	"github.com/fenwicklabs/harvest/internal/queue"
	"github.com/fenwicklabs/harvest/internal/robots"
	"github.com/fenwicklabs/harvest/internal/sinkcache/memory"
	"github.com/fenwicklabs/harvest/internal/sitemap"
	"github.com/fenwicklabs/harvest/pkg/ratelimit"
)

// Config mirrors the keys a deployment supplies at Initialize, matching
// the defaults spec §6 fixes for this harvester.
type Config struct {
	UserAgent       string
	Timeout         time.Duration
	RespectRobots   bool
	RateLimit       float64
	MaxResponseSize int64
	AllowPrivateIPs bool
}

// DefaultConfig returns the engine's documented defaults.
func DefaultConfig() Config {
	return Config{
		UserAgent:       "Harvester/0.2",
		Timeout:         30 * time.Second,
		RespectRobots:   true,
		RateLimit:       1.0,
		MaxResponseSize: 10 * 1024 * 1024,
		AllowPrivateIPs: false,
	}
}

// ConfigFromMap parses the string-keyed configuration a deployment passes
// at Initialize, falling back to DefaultConfig for any key that is absent
// or whose numeric value does not parse. The boolean keys are true only
// for "true" (case-insensitive); any other value present sets them false.
func ConfigFromMap(raw map[string]string) Config {
	cfg := DefaultConfig()
	if v, ok := raw["user_agent"]; ok && v != "" {
		cfg.UserAgent = v
	}
	if v, ok := raw["timeout"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Timeout = time.Duration(n) * time.Second
		}
	}
	if v, ok := raw["respect_robots"]; ok {
		cfg.RespectRobots = strings.EqualFold(v, "true")
	}
	if v, ok := raw["rate_limit"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimit = f
		}
	}
	if v, ok := raw["max_response_size"]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxResponseSize = n
		}
	}
	if v, ok := raw["allow_private_ips"]; ok {
		cfg.AllowPrivateIPs = strings.EqualFold(v, "true")
	}
	return cfg
}

// Engine holds every component a harvest operation needs, constructed once
// and reused across requests.
type Engine struct {
	cfg      Config
	fetcher  *fetch.Fetcher
	robots   *robots.Cache
	limiter  *ratelimit.HostLimiter
	pipe     *pipeline.Pipeline
	crawler  *crawl.Crawler
	sink     attest.Sink
	sinkOwn  bool
	jobQueue queue.Queue
	logger   *slog.Logger
}

// Initialize builds an Engine from configuration, an optional attestation
// sink, and an optional job queue. When sink is nil, Initialize falls back
// to an in-process sinkcache/memory mirror so scrape-and-attest operations
// still work without an external attestation store configured.
func Initialize(raw map[string]string, sink attest.Sink, jobQueue queue.Queue, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := ConfigFromMap(raw)

	fetcher, err := fetch.New(fetch.Config{
		UserAgent:       cfg.UserAgent,
		Timeout:         cfg.Timeout,
		MaxResponseSize: cfg.MaxResponseSize,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	robotsCache := robots.New(fetcher, logger)
	limiter := ratelimit.NewHostLimiter(cfg.RateLimit)

	sinkOwn := false
	if sink == nil {
		sink = memory.New()
		sinkOwn = true
	}

	return &Engine{
		cfg:      cfg,
		fetcher:  fetcher,
		robots:   robotsCache,
		limiter:  limiter,
		pipe:     &pipeline.Pipeline{Fetcher: fetcher, Robots: robotsCache, Limiter: limiter},
		crawler:  crawl.New(fetcher, robotsCache, limiter, sink, logger),
		sink:     sink,
		sinkOwn:  sinkOwn,
		jobQueue: jobQueue,
		logger:   logger,
	}, nil
}

// Shutdown releases the engine's owned resources. The attestation sink is
// only closed when Initialize created it (the fallback memory mirror); a
// sink supplied by the caller remains theirs to close.
func (e *Engine) Shutdown() error {
	if e.sinkOwn && e.sink != nil {
		return e.sink.Close()
	}
	return nil
}

// Metadata describes this harvester to whatever is hosting it.
func (e *Engine) Metadata() map[string]string {
	return map[string]string{
		"name":        "webharvest",
		"version":     "0.2.0",
		"description": "Polite web harvester with feed/sitemap support, robots.txt, rate limiting, and attestation output",
		"author":      "fenwicklabs",
		"license":     "MIT",
	}
}

// Health reports whether the engine is usable and a handful of operating
// details useful to an operator.
func (e *Engine) Health() map[string]any {
	details := map[string]any{
		"respect_robots": e.cfg.RespectRobots,
		"rate_limit":     e.cfg.RateLimit,
	}
	if e.sinkOwn {
		details["sink"] = "in-process fallback"
	} else {
		details["sink"] = "connected"
	}
	if e.jobQueue != nil {
		details["job_queue"] = "connected"
	} else {
		details["job_queue"] = "not configured"
	}
	return map[string]any{
		"healthy": e.fetcher != nil,
		"message": "OK",
		"details": details,
	}
}

func (e *Engine) pipelineOptions() pipeline.Options {
	return pipeline.Options{
		UserAgent:       e.cfg.UserAgent,
		RespectRobots:   e.cfg.RespectRobots,
		AllowPrivateIPs: e.cfg.AllowPrivateIPs,
	}
}

func (e *Engine) crawlOptions(maxPages int, sameOrigin, skipPreviouslyAttested bool) crawl.Options {
	return crawl.Options{
		MaxPages:               maxPages,
		SameOriginOnly:         sameOrigin,
		SkipPreviouslyAttested: skipPreviouslyAttested,
		UserAgent:              e.cfg.UserAgent,
		RespectRobots:          e.cfg.RespectRobots,
		AllowPrivateIPs:        e.cfg.AllowPrivateIPs,
	}
}

// Scrape fetches and extracts a single page (spec §4.A /scrape, /scrape-full).
func (e *Engine) Scrape(ctx context.Context, targetURL string) (*htmlextract.PageRecord, error) {
	records, err := e.crawler.Run(ctx, targetURL, e.crawlOptions(1, false, false))
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return &htmlextract.PageRecord{URL: targetURL, Error: "no page returned"}, nil
	}
	return records[0], nil
}

// ScrapeAndAttest scrapes a page and projects it into attestation commands,
// creating one attestation per command through the sink.
func (e *Engine) ScrapeAndAttest(ctx context.Context, targetURL, actor string, includeExternal bool) (*htmlextract.PageRecord, []string, error) {
	rec, err := e.Scrape(ctx, targetURL)
	if err != nil {
		return nil, nil, err
	}
	cmds := projector.Page(rec, actor, includeExternal)
	ids, err := e.createAttestations(ctx, cmds)
	return rec, ids, err
}

// Feed fetches and parses an RSS or Atom feed (spec §4.F).
func (e *Engine) Feed(ctx context.Context, targetURL string) (*feed.Record, error) {
	out, err := e.pipe.Fetch(ctx, targetURL, e.pipelineOptions())
	if err != nil {
		return &feed.Record{URL: targetURL, FeedType: feed.TypeUnknown, Error: err.Error()}, nil
	}
	if out.Kind != fetch.Ok {
		return &feed.Record{URL: targetURL, FeedType: feed.TypeUnknown, Error: out.Reason}, nil
	}
	return feed.Parse(targetURL, out.Bytes), nil
}

// FeedAndAttest parses a feed and projects it into attestation commands.
func (e *Engine) FeedAndAttest(ctx context.Context, targetURL, actor string) (*feed.Record, []string, error) {
	rec, err := e.Feed(ctx, targetURL)
	if err != nil {
		return nil, nil, err
	}
	cmds := projector.Feed(rec, actor)
	ids, err := e.createAttestations(ctx, cmds)
	return rec, ids, err
}

// Sitemap fetches and parses one sitemap document (spec §4.G), without
// following any nested sitemapindex entries.
func (e *Engine) Sitemap(ctx context.Context, targetURL string) (*sitemap.Record, error) {
	out, err := e.pipe.Fetch(ctx, targetURL, e.pipelineOptions())
	if err != nil {
		return &sitemap.Record{URL: targetURL, Error: err.Error()}, nil
	}
	if out.Kind != fetch.Ok {
		return &sitemap.Record{URL: targetURL, Error: out.Reason}, nil
	}
	return sitemap.Parse(targetURL, out.Bytes), nil
}

// SitemapAndAttest fetches a sitemap, optionally following nested
// sitemapindex entries, and projects every resulting Record into
// attestation commands.
func (e *Engine) SitemapAndAttest(ctx context.Context, targetURL, actor string, followNested bool, maxNested int) ([]*sitemap.Record, []string, error) {
	var records []*sitemap.Record
	if followNested {
		var err error
		records, err = sitemap.FollowNested(ctx, e.pipe, targetURL, maxNested, e.pipelineOptions())
		if err != nil {
			return nil, nil, err
		}
	} else {
		rec, err := e.Sitemap(ctx, targetURL)
		if err != nil {
			return nil, nil, err
		}
		records = []*sitemap.Record{rec}
	}

	var ids []string
	for _, rec := range records {
		cmds := projector.Sitemap(rec, actor)
		recIDs, err := e.createAttestations(ctx, cmds)
		ids = append(ids, recIDs...)
		if err != nil {
			return records, ids, err
		}
	}
	return records, ids, nil
}

// Crawl performs a bounded BFS crawl from startURL and projects every page
// visited into attestation commands (spec §4.I). skipPreviouslyAttested
// implements scenario S5: a URL the sink already holds a has_title
// attestation for is not re-visited.
func (e *Engine) Crawl(ctx context.Context, startURL, actor string, maxPages int, sameDomainOnly, skipPreviouslyAttested bool) ([]*htmlextract.PageRecord, []string, error) {
	records, err := e.crawler.Run(ctx, startURL, e.crawlOptions(maxPages, sameDomainOnly, skipPreviouslyAttested))
	if err != nil {
		return nil, nil, err
	}

	var ids []string
	for _, rec := range records {
		cmds := projector.Page(rec, actor, !sameDomainOnly)
		recIDs, err := e.createAttestations(ctx, cmds)
		ids = append(ids, recIDs...)
		if err != nil {
			return records, ids, err
		}
	}
	return records, ids, nil
}

// ScheduleScrape, ScheduleFeed, ScheduleSitemap, and ScheduleCrawl enqueue
// asynchronous jobs on the configured job queue rather than running
// synchronously, mirroring the /schedule/* routes (spec §4.J).
func (e *Engine) ScheduleScrape(targetURL, actor string, extractAll bool) (string, error) {
	return e.enqueue(queue.HandlerScrape, queue.ScrapePayload(targetURL, actor, extractAll))
}

func (e *Engine) ScheduleFeed(targetURL, actor string) (string, error) {
	return e.enqueue(queue.HandlerFeed, queue.FeedPayload(targetURL, actor))
}

func (e *Engine) ScheduleSitemap(targetURL, actor string, followNested bool) (string, error) {
	return e.enqueue(queue.HandlerSitemap, queue.SitemapPayload(targetURL, actor, followNested))
}

func (e *Engine) ScheduleCrawl(targetURL, actor string, maxPages int, sameDomainOnly, skipPreviouslyAttested bool) (string, error) {
	return e.enqueue(queue.HandlerCrawl, queue.CrawlPayload(targetURL, actor, maxPages, sameDomainOnly, skipPreviouslyAttested))
}

func (e *Engine) enqueue(handler string, payload map[string]any) (string, error) {
	if e.jobQueue == nil {
		return "", fmt.Errorf("engine: job queue not configured")
	}
	return e.jobQueue.Enqueue(queue.Job{HandlerName: handler, Payload: payload, Status: "queued"})
}

// ListJobs proxies to the configured job queue for the /jobs endpoint.
func (e *Engine) ListJobs(status string, limit int) ([]queue.Job, error) {
	if e.jobQueue == nil {
		return nil, fmt.Errorf("engine: job queue not configured")
	}
	return e.jobQueue.ListJobs(status, limit)
}

func (e *Engine) createAttestations(ctx context.Context, cmds []attest.Command) ([]string, error) {
	ids := make([]string, 0, len(cmds))
	for _, cmd := range cmds {
		a, err := e.sink.GenerateAndCreate(ctx, cmd)
		if err != nil {
			return ids, fmt.Errorf("engine: %w", err)
		}
		ids = append(ids, a.ID)
	}
	return ids, nil
}
