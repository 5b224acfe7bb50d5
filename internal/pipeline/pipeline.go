// Package pipeline implements the admit-robots-ratelimit-fetch sequence
// every workflow runs before handing raw bytes to its own parser: the SSRF
// guard, the robots cache, the per-host rate limiter, and finally the
// fetcher itself (spec §4.A/§4.C/§4.D/§4.E).
package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/fenwicklabs/harvest/internal/fetch"
	"github.com/fenwicklabs/harvest/internal/guard"
	"github.com/fenwicklabs/harvest/internal/robots"
	"github.com/fenwicklabs/harvest/pkg/ratelimit"
)

// Pipeline wires the shared, process-lifetime collaborators a fetch must
// pass through before a workflow-specific parser ever sees a response body.
type Pipeline struct {
	Fetcher *fetch.Fetcher
	Robots  *robots.Cache
	Limiter *ratelimit.HostLimiter
}

// Options configures one admission through the pipeline.
type Options struct {
	UserAgent       string
	RespectRobots   bool
	AllowPrivateIPs bool
}

// Fetch admits targetURL through the SSRF guard, checks robots.txt, waits
// out the per-host rate limiter, and performs the GET. A refusal at the
// guard or robots stage is returned as an error, since the feed and
// sitemap workflows have no bytes to attach it to the way a PageRecord
// does.
func (p *Pipeline) Fetch(ctx context.Context, targetURL string, opts Options) (*fetch.Outcome, error) {
	if err := guard.Admit(ctx, targetURL, guard.Options{AllowPrivate: opts.AllowPrivateIPs}); err != nil {
		return nil, err
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "*"
	}

	if opts.RespectRobots {
		allowed, err := p.Robots.CanFetch(ctx, targetURL, userAgent)
		if err == nil && !allowed {
			return nil, fmt.Errorf("pipeline: %s disallowed by robots.txt", targetURL)
		}
	}

	host, origin, err := hostAndOrigin(targetURL)
	if err != nil {
		return nil, err
	}

	var crawlDelay time.Duration
	if opts.RespectRobots {
		if d := p.Robots.CrawlDelay(ctx, origin, userAgent); d != nil {
			crawlDelay = *d
		}
	}
	if err := p.Limiter.Wait(ctx, host, crawlDelay); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	return p.Fetcher.Fetch(ctx, targetURL)
}

func hostAndOrigin(rawURL string) (string, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("pipeline: invalid url: %w", err)
	}
	return u.Host, u.Scheme + "://" + u.Host, nil
}
