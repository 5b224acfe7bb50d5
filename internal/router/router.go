// Package router implements the fixed method+path dispatch table a host
// process calls through to reach the harvest engine: one handler per route
// named in spec §4.J, each producing a JSON response body and status code.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fenwicklabs/harvest/internal/engine"
	"github.com/fenwicklabs/harvest/internal/htmlextract"
	"github.com/fenwicklabs/harvest/internal/report"
)

// Router dispatches HTTP-shaped requests (method, path, JSON body) to the
// underlying engine and renders its results back into JSON.
type Router struct {
	engine *engine.Engine
}

// New builds a Router over an already-Initialize'd Engine.
func New(e *engine.Engine) *Router {
	return &Router{engine: e}
}

// HandleHTTP routes one request and always returns a status code and a
// JSON-encoded body, never an error — failures become error response
// bodies, matching the request/response contract spec §6 describes.
func (rt *Router) HandleHTTP(ctx context.Context, method, path string, rawBody []byte) (int, []byte) {
	body := map[string]any{}
	if len(rawBody) > 0 {
		if err := json.Unmarshal(rawBody, &body); err != nil {
			return errorResponse(400, fmt.Sprintf("invalid json: %v", err))
		}
	}

	if method == "GET" {
		if path == "/jobs" {
			return rt.handleListJobs(body)
		}
		return errorResponse(404, fmt.Sprintf("unknown GET endpoint: %s", path))
	}

	if method != "POST" {
		return errorResponse(405, "method not allowed")
	}

	switch path {
	case "/scrape":
		return rt.handleScrape(ctx, body, false)
	case "/scrape-full":
		return rt.handleScrape(ctx, body, true)
	case "/scrape-and-attest":
		return rt.handleScrapeAndAttest(ctx, body)
	case "/feed":
		return rt.handleFeed(ctx, body)
	case "/feed-and-attest":
		return rt.handleFeedAndAttest(ctx, body)
	case "/sitemap":
		return rt.handleSitemap(ctx, body)
	case "/sitemap-and-attest":
		return rt.handleSitemapAndAttest(ctx, body)
	case "/crawl":
		return rt.handleCrawl(ctx, body)
	case "/schedule/scrape":
		return rt.handleScheduleScrape(body)
	case "/schedule/feed":
		return rt.handleScheduleFeed(body)
	case "/schedule/sitemap":
		return rt.handleScheduleSitemap(body)
	case "/schedule/crawl":
		return rt.handleScheduleCrawl(body)
	default:
		return errorResponse(404, fmt.Sprintf("unknown endpoint: %s", path))
	}
}

func (rt *Router) handleScrape(ctx context.Context, body map[string]any, extractAll bool) (int, []byte) {
	targetURL, ok := stringField(body, "url")
	if !ok {
		return errorResponse(400, "missing 'url' field")
	}

	rec, err := rt.engine.Scrape(ctx, targetURL)
	if err != nil {
		return errorResponse(500, err.Error())
	}

	data := map[string]any{
		"url":         rec.URL,
		"title":       rec.Title,
		"status_code": rec.StatusCode,
		"error":       rec.Error,
		"links":       linksJSON(rec.Links),
	}
	if extractAll {
		data["meta"] = metaJSON(rec)
		data["images"] = imagesJSON(capImages(rec.Images, 20))
		data["structured_data"] = structuredDataJSON(rec.StructuredData)
		data["headings"] = rec.Headings
	}
	return jsonResponse(200, data)
}

func (rt *Router) handleScrapeAndAttest(ctx context.Context, body map[string]any) (int, []byte) {
	targetURL, ok := stringField(body, "url")
	if !ok {
		return errorResponse(400, "missing 'url' field")
	}
	actor, _ := stringField(body, "actor")
	includeExternal := boolField(body, "include_external", true)

	rec, ids, err := rt.engine.ScrapeAndAttest(ctx, targetURL, actor, includeExternal)
	if err != nil {
		return errorResponse(500, err.Error())
	}

	return jsonResponse(200, map[string]any{
		"url":                   rec.URL,
		"title":                 rec.Title,
		"error":                 rec.Error,
		"links_count":           len(rec.Links),
		"images_count":          len(rec.Images),
		"structured_data_count": len(rec.StructuredData),
		"attestations_created":  len(ids),
		"attestation_ids":       ids,
	})
}

func (rt *Router) handleFeed(ctx context.Context, body map[string]any) (int, []byte) {
	targetURL, ok := stringField(body, "url")
	if !ok {
		return errorResponse(400, "missing 'url' field")
	}

	rec, err := rt.engine.Feed(ctx, targetURL)
	if err != nil {
		return errorResponse(500, err.Error())
	}

	items := make([]map[string]any, 0, len(rec.Items))
	for _, it := range rec.Items {
		desc := it.Description
		if len(desc) > 200 {
			desc = desc[:200]
		}
		items = append(items, map[string]any{
			"title":       it.Title,
			"link":        it.Link,
			"description": desc,
			"published":   it.Published,
			"author":      it.Author,
			"categories":  it.Categories,
		})
	}

	return jsonResponse(200, map[string]any{
		"url":         rec.URL,
		"title":       rec.Title,
		"description": rec.Description,
		"feed_type":   string(rec.FeedType),
		"error":       rec.Error,
		"items":       items,
	})
}

func (rt *Router) handleFeedAndAttest(ctx context.Context, body map[string]any) (int, []byte) {
	targetURL, ok := stringField(body, "url")
	if !ok {
		return errorResponse(400, "missing 'url' field")
	}
	actor, _ := stringField(body, "actor")

	rec, ids, err := rt.engine.FeedAndAttest(ctx, targetURL, actor)
	if err != nil {
		return errorResponse(500, err.Error())
	}

	return jsonResponse(200, map[string]any{
		"url":                  rec.URL,
		"title":                rec.Title,
		"feed_type":            string(rec.FeedType),
		"error":                rec.Error,
		"items_count":          len(rec.Items),
		"attestations_created": len(ids),
		"attestation_ids":      ids,
	})
}

func (rt *Router) handleSitemap(ctx context.Context, body map[string]any) (int, []byte) {
	targetURL, ok := stringField(body, "url")
	if !ok {
		return errorResponse(400, "missing 'url' field")
	}

	rec, err := rt.engine.Sitemap(ctx, targetURL)
	if err != nil {
		return errorResponse(500, err.Error())
	}

	urls := make([]map[string]any, 0, min(len(rec.URLs), 100))
	for _, u := range capEntries(rec.URLs, 100) {
		urls = append(urls, map[string]any{
			"loc":        u.Loc,
			"lastmod":    u.LastMod,
			"changefreq": u.ChangeFreq,
			"priority":   u.Priority,
		})
	}

	return jsonResponse(200, map[string]any{
		"url":             rec.URL,
		"error":           rec.Error,
		"urls_count":      len(rec.URLs),
		"nested_sitemaps": rec.NestedSitemaps,
		"urls":            urls,
	})
}

func (rt *Router) handleSitemapAndAttest(ctx context.Context, body map[string]any) (int, []byte) {
	targetURL, ok := stringField(body, "url")
	if !ok {
		return errorResponse(400, "missing 'url' field")
	}
	actor, _ := stringField(body, "actor")
	followNested := boolField(body, "follow_nested", true)
	maxNested := intField(body, "max_nested", 10)

	records, ids, err := rt.engine.SitemapAndAttest(ctx, targetURL, actor, followNested, maxNested)
	if err != nil {
		return errorResponse(500, err.Error())
	}

	totalURLs := 0
	sitemaps := make([]map[string]any, 0, len(records))
	for _, r := range records {
		totalURLs += len(r.URLs)
		sitemaps = append(sitemaps, map[string]any{
			"url":          r.URL,
			"urls_count":   len(r.URLs),
			"nested_count": len(r.NestedSitemaps),
			"error":        r.Error,
		})
	}

	return jsonResponse(200, map[string]any{
		"start_url":            targetURL,
		"sitemaps_processed":   len(records),
		"total_urls":           totalURLs,
		"attestations_created": len(ids),
		"sitemaps":             sitemaps,
	})
}

func (rt *Router) handleCrawl(ctx context.Context, body map[string]any) (int, []byte) {
	targetURL, ok := stringField(body, "url")
	if !ok {
		return errorResponse(400, "missing 'url' field")
	}
	actor, _ := stringField(body, "actor")
	maxPages := intField(body, "max_pages", 10)
	sameDomainOnly := boolField(body, "same_domain_only", true)
	skipPreviouslyAttested := boolField(body, "skip_previously_attested", false)
	format, _ := stringField(body, "report_format")

	start := time.Now()
	records, ids, err := rt.engine.Crawl(ctx, targetURL, actor, maxPages, sameDomainOnly, skipPreviouslyAttested)
	if err != nil {
		return errorResponse(500, err.Error())
	}
	end := time.Now()

	totalLinks := 0
	pages := make([]map[string]any, 0, len(records))
	for _, r := range records {
		totalLinks += len(r.Links)
		pages = append(pages, map[string]any{
			"url":         r.URL,
			"title":       r.Title,
			"links_count": len(r.Links),
			"error":       r.Error,
		})
	}

	resp := map[string]any{
		"start_url":            targetURL,
		"pages_crawled":        len(records),
		"total_links":          totalLinks,
		"attestations_created": len(ids),
		"pages":                pages,
	}

	if format == "text" || format == "html" {
		summary := report.GenerateSummary(records, len(ids), start, end)
		var buf bytes.Buffer
		var renderErr error
		if format == "text" {
			renderErr = report.WriteText(&buf, summary)
		} else {
			renderErr = report.WriteHTML(&buf, summary)
		}
		if renderErr != nil {
			return errorResponse(500, renderErr.Error())
		}
		resp["report"] = buf.String()
	}

	return jsonResponse(200, resp)
}

func (rt *Router) handleScheduleScrape(body map[string]any) (int, []byte) {
	targetURL, ok := stringField(body, "url")
	if !ok {
		return errorResponse(400, "missing 'url' field")
	}
	actor, _ := stringField(body, "actor")
	extractAll := boolField(body, "extract_all", true)

	jobID, err := rt.engine.ScheduleScrape(targetURL, actor, extractAll)
	if err != nil {
		return errorResponse(503, err.Error())
	}
	return jsonResponse(200, map[string]any{"job_id": jobID, "status": "queued"})
}

func (rt *Router) handleScheduleFeed(body map[string]any) (int, []byte) {
	targetURL, ok := stringField(body, "url")
	if !ok {
		return errorResponse(400, "missing 'url' field")
	}
	actor, _ := stringField(body, "actor")

	jobID, err := rt.engine.ScheduleFeed(targetURL, actor)
	if err != nil {
		return errorResponse(503, err.Error())
	}
	return jsonResponse(200, map[string]any{"job_id": jobID, "status": "queued"})
}

func (rt *Router) handleScheduleSitemap(body map[string]any) (int, []byte) {
	targetURL, ok := stringField(body, "url")
	if !ok {
		return errorResponse(400, "missing 'url' field")
	}
	actor, _ := stringField(body, "actor")
	followNested := boolField(body, "follow_nested", true)

	jobID, err := rt.engine.ScheduleSitemap(targetURL, actor, followNested)
	if err != nil {
		return errorResponse(503, err.Error())
	}
	return jsonResponse(200, map[string]any{"job_id": jobID, "status": "queued"})
}

func (rt *Router) handleScheduleCrawl(body map[string]any) (int, []byte) {
	targetURL, ok := stringField(body, "url")
	if !ok {
		return errorResponse(400, "missing 'url' field")
	}
	actor, _ := stringField(body, "actor")
	maxPages := intField(body, "max_pages", 10)
	sameDomainOnly := boolField(body, "same_domain_only", true)
	skipPreviouslyAttested := boolField(body, "skip_previously_attested", false)

	jobID, err := rt.engine.ScheduleCrawl(targetURL, actor, maxPages, sameDomainOnly, skipPreviouslyAttested)
	if err != nil {
		return errorResponse(503, err.Error())
	}
	return jsonResponse(200, map[string]any{"job_id": jobID, "status": "queued"})
}

func (rt *Router) handleListJobs(body map[string]any) (int, []byte) {
	status, _ := stringField(body, "status")
	limit := intField(body, "limit", 100)

	jobs, err := rt.engine.ListJobs(status, limit)
	if err != nil {
		return errorResponse(503, err.Error())
	}

	out := make([]map[string]any, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, map[string]any{
			"id":         j.ID,
			"handler":    j.HandlerName,
			"status":     j.Status,
			"progress":   map[string]int{"current": j.Progress.Current, "total": j.Progress.Total},
			"error":      j.Error,
			"created_at": j.CreatedAt,
		})
	}
	return jsonResponse(200, map[string]any{"jobs": out})
}

func linksJSON(links []htmlextract.Link) []map[string]any {
	out := make([]map[string]any, 0, len(links))
	for _, l := range links {
		out = append(out, map[string]any{
			"target_url":  l.TargetURL,
			"anchor_text": l.AnchorText,
			"is_external": l.IsExternal,
			"rel":         strings.Join(l.Rel, " "),
		})
	}
	return out
}

func metaJSON(rec *htmlextract.PageRecord) map[string]any {
	return map[string]any{
		"description":    rec.Meta.Description,
		"keywords":       rec.Meta.Keywords,
		"author":         rec.Meta.Author,
		"published_date": rec.Meta.PublishedDate,
		"canonical_url":  rec.Meta.CanonicalURL,
		"language":       rec.Meta.Language,
		"og_title":       rec.Meta.OG.Title,
		"og_description": rec.Meta.OG.Description,
		"og_image":       rec.Meta.OG.Image,
	}
}

func imagesJSON(images []htmlextract.Image) []map[string]any {
	out := make([]map[string]any, 0, len(images))
	for _, img := range images {
		out = append(out, map[string]any{"src": img.Src, "alt": img.Alt, "title": img.Title})
	}
	return out
}

func structuredDataJSON(data []htmlextract.StructuredDatum) []map[string]any {
	out := make([]map[string]any, 0, len(data))
	for _, d := range data {
		out = append(out, map[string]any{"type": d.Type, "data": d.Data})
	}
	return out
}

func capImages(images []htmlextract.Image, n int) []htmlextract.Image {
	if len(images) > n {
		return images[:n]
	}
	return images
}

func capEntries[T any](entries []T, n int) []T {
	if len(entries) > n {
		return entries[:n]
	}
	return entries
}

func stringField(body map[string]any, key string) (string, bool) {
	v, ok := body[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

func boolField(body map[string]any, key string, def bool) bool {
	v, ok := body[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

func intField(body map[string]any, key string, def int) int {
	v, ok := body[key]
	if !ok {
		return def
	}
	f, ok := v.(float64)
	if !ok {
		return def
	}
	return int(f)
}

func jsonResponse(status int, data map[string]any) (int, []byte) {
	b, err := json.Marshal(data)
	if err != nil {
		return 500, []byte(`{"error":"failed to encode response"}`)
	}
	return status, b
}

func errorResponse(status int, message string) (int, []byte) {
	return jsonResponse(status, map[string]any{"error": message})
}
