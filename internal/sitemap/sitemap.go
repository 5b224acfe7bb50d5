// Package sitemap parses sitemap XML (urlset and sitemapindex forms) and,
// given a pipeline, follows nested sitemaps with bounded concurrency
// (spec §4.G).
package sitemap

import (
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/fenwicklabs/harvest/internal/fetch"
	"github.com/fenwicklabs/harvest/internal/metrics"
	"github.com/fenwicklabs/harvest/internal/pipeline"
	"golang.org/x/sync/errgroup"
)

// Entry is one <url> block of a urlset sitemap.
type Entry struct {
	Loc        string
	LastMod    string
	ChangeFreq string
	Priority   float64
}

// Record is the parsed result of one sitemap document. Nested sitemaps it
// names are listed in NestedSitemaps; their contents are not merged in.
type Record struct {
	URL            string
	URLs           []Entry
	NestedSitemaps []string
	Error          string
}

type urlsetDoc struct {
	XMLName xml.Name    `xml:"urlset"`
	URLs    []urlEntry  `xml:"url"`
}

type urlEntry struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod"`
	ChangeFreq string `xml:"changefreq"`
	Priority   string `xml:"priority"`
}

type indexDoc struct {
	XMLName  xml.Name     `xml:"sitemapindex"`
	Sitemaps []indexEntry `xml:"sitemap"`
}

type indexEntry struct {
	Loc string `xml:"loc"`
}

type probe struct {
	XMLName xml.Name
}

// Parse decodes body into a Record, recognizing both the urlset and
// sitemapindex root elements (the sitemaps.org namespace is accepted but
// not required — bare element names parse the same way).
func Parse(sitemapURL string, body []byte) *Record {
	rec := &Record{URL: sitemapURL}

	var p probe
	if err := xml.Unmarshal(body, &p); err != nil {
		metrics.ParseErrorsTotal.WithLabelValues("sitemap").Inc()
		rec.Error = fmt.Sprintf("malformed xml: %v", err)
		return rec
	}

	switch strings.ToLower(p.XMLName.Local) {
	case "urlset":
		var doc urlsetDoc
		if err := xml.Unmarshal(body, &doc); err != nil {
			metrics.ParseErrorsTotal.WithLabelValues("sitemap").Inc()
			rec.Error = fmt.Sprintf("malformed urlset: %v", err)
			return rec
		}
		for _, u := range doc.URLs {
			if u.Loc == "" {
				continue
			}
			rec.URLs = append(rec.URLs, Entry{
				Loc:        u.Loc,
				LastMod:    u.LastMod,
				ChangeFreq: u.ChangeFreq,
				Priority:   parsePriority(u.Priority),
			})
		}
	case "sitemapindex":
		var doc indexDoc
		if err := xml.Unmarshal(body, &doc); err != nil {
			metrics.ParseErrorsTotal.WithLabelValues("sitemap").Inc()
			rec.Error = fmt.Sprintf("malformed sitemapindex: %v", err)
			return rec
		}
		for _, s := range doc.Sitemaps {
			if s.Loc != "" {
				rec.NestedSitemaps = append(rec.NestedSitemaps, s.Loc)
			}
		}
	default:
		metrics.ParseErrorsTotal.WithLabelValues("sitemap").Inc()
		rec.Error = fmt.Sprintf("unrecognized sitemap root element %q", p.XMLName.Local)
	}

	return rec
}

// parsePriority parses s as a float in [0,1]; any failure or absence
// defaults to 0.5, per spec §3/§4.G.
func parsePriority(s string) float64 {
	if s == "" {
		return 0.5
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || !(v >= 0 && v <= 1) {
		return 0.5
	}
	return v
}

// FollowNested fetches and parses root, then follows the nested sitemaps
// root names, up to maxNested documents, fanning fetches out with bounded
// concurrency via errgroup. Only one level is followed: sitemaps named by
// the nested documents themselves are not fetched. Every fetch —
// root and nested alike — goes through pipe, so each one is subject to the
// same SSRF guard, robots.txt, and rate-limit checks every other workflow
// enforces (spec §4.B invariant I1 applies to every URL this package ever
// dereferences, not just the one the caller supplied directly). The
// returned slice always includes root's own Record first.
func FollowNested(ctx context.Context, pipe *pipeline.Pipeline, rootURL string, maxNested int, opts pipeline.Options) ([]*Record, error) {
	rootOut, err := pipe.Fetch(ctx, rootURL, opts)
	if err != nil {
		return []*Record{{URL: rootURL, Error: err.Error()}}, nil
	}
	if rootOut.Kind != fetch.Ok {
		return []*Record{{URL: rootURL, Error: fmt.Sprintf("fetch failed: %s", rootOut.Reason)}}, nil
	}
	root := Parse(rootURL, rootOut.Bytes)

	if len(root.NestedSitemaps) == 0 || maxNested <= 0 {
		return []*Record{root}, nil
	}

	toFollow := root.NestedSitemaps
	if len(toFollow) > maxNested {
		toFollow = toFollow[:maxNested]
	}

	results := make([]*Record, len(toFollow))
	g, gCtx := errgroup.WithContext(ctx)
	const maxConcurrency = 4
	sem := make(chan struct{}, maxConcurrency)

	for i, nestedURL := range toFollow {
		i, nestedURL := i, nestedURL
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			out, err := pipe.Fetch(gCtx, nestedURL, opts)
			if err != nil {
				results[i] = &Record{URL: nestedURL, Error: err.Error()}
				return nil
			}
			if out.Kind != fetch.Ok {
				results[i] = &Record{URL: nestedURL, Error: fmt.Sprintf("fetch failed: %s", out.Reason)}
				return nil
			}
			results[i] = Parse(nestedURL, out.Bytes)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return append([]*Record{root}, results...), nil
}
