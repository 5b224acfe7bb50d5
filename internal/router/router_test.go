package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fenwicklabs/harvest/internal/engine"
)

func newTestRouter(t *testing.T) *Router {
	e, err := engine.Initialize(map[string]string{
		"respect_robots":    "false",
		"allow_private_ips": "true",
	}, nil, nil, nil)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return New(e)
}

func TestHandleHTTP_ScrapeMissingURLReturns400(t *testing.T) {
	rt := newTestRouter(t)
	status, body := rt.HandleHTTP(t.Context(), "POST", "/scrape", []byte(`{}`))
	if status != 400 {
		t.Fatalf("expected 400, got %d: %s", status, body)
	}
}

func TestHandleHTTP_UnknownGETReturns404(t *testing.T) {
	rt := newTestRouter(t)
	status, _ := rt.HandleHTTP(t.Context(), "GET", "/nope", nil)
	if status != 404 {
		t.Fatalf("expected 404, got %d", status)
	}
}

func TestHandleHTTP_WrongMethodReturns405(t *testing.T) {
	rt := newTestRouter(t)
	status, _ := rt.HandleHTTP(t.Context(), "PUT", "/scrape", nil)
	if status != 405 {
		t.Fatalf("expected 405, got %d", status)
	}
}

func TestHandleHTTP_InvalidJSONReturns400(t *testing.T) {
	rt := newTestRouter(t)
	status, _ := rt.HandleHTTP(t.Context(), "POST", "/scrape", []byte(`not json`))
	if status != 400 {
		t.Fatalf("expected 400, got %d", status)
	}
}

func TestHandleHTTP_ScrapeFullIncludesExtendedFields(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>T</title><meta name="description" content="d"></head><body></body></html>`))
	}))
	defer ts.Close()

	rt := newTestRouter(t)
	status, body := rt.HandleHTTP(t.Context(), "POST", "/scrape-full", []byte(`{"url":"`+ts.URL+`"}`))
	if status != 200 {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}

	var resp map[string]any
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := resp["meta"]; !ok {
		t.Error("expected /scrape-full response to include meta")
	}
	if _, ok := resp["images"]; !ok {
		t.Error("expected /scrape-full response to include images")
	}
}

func TestHandleHTTP_ScrapePlainOmitsExtendedFields(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>T</title></head><body></body></html>`))
	}))
	defer ts.Close()

	rt := newTestRouter(t)
	_, body := rt.HandleHTTP(t.Context(), "POST", "/scrape", []byte(`{"url":"`+ts.URL+`"}`))

	var resp map[string]any
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := resp["meta"]; ok {
		t.Error("expected /scrape response to omit meta")
	}
}

func TestHandleHTTP_JobsWithoutQueueReturns503(t *testing.T) {
	rt := newTestRouter(t)
	status, _ := rt.HandleHTTP(t.Context(), "GET", "/jobs", nil)
	if status != 503 {
		t.Fatalf("expected 503 without a configured queue, got %d", status)
	}
}

func TestHandleHTTP_CrawlSkipPreviouslyAttestedIsWiredFromRequestBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>T</title></head><body></body></html>`))
	}))
	defer ts.Close()

	rt := newTestRouter(t)

	status, body := rt.HandleHTTP(t.Context(), "POST", "/scrape-and-attest", []byte(`{"url":"`+ts.URL+`"}`))
	if status != 200 {
		t.Fatalf("expected 200 from /scrape-and-attest, got %d: %s", status, body)
	}

	status, body = rt.HandleHTTP(t.Context(), "POST", "/crawl", []byte(`{"url":"`+ts.URL+`","skip_previously_attested":true}`))
	if status != 200 {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	var resp map[string]any
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if pagesCrawled, _ := resp["pages_crawled"].(float64); pagesCrawled != 0 {
		t.Errorf("expected skip_previously_attested to skip the already-attested root, got pages_crawled=%v", resp["pages_crawled"])
	}

	status, body = rt.HandleHTTP(t.Context(), "POST", "/crawl", []byte(`{"url":"`+ts.URL+`"}`))
	if status != 200 {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if pagesCrawled, _ := resp["pages_crawled"].(float64); pagesCrawled != 1 {
		t.Errorf("expected the page to be visited without skip_previously_attested, got pages_crawled=%v", resp["pages_crawled"])
	}
}

func TestHandleHTTP_CrawlWithReportFormatIncludesRenderedSummary(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>T</title></head><body></body></html>`))
	}))
	defer ts.Close()

	rt := newTestRouter(t)
	status, body := rt.HandleHTTP(t.Context(), "POST", "/crawl", []byte(`{"url":"`+ts.URL+`","report_format":"text"}`))
	if status != 200 {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}

	var resp map[string]any
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	report, ok := resp["report"].(string)
	if !ok || !strings.Contains(report, "Harvest Run Summary") {
		t.Errorf("expected a rendered text report, got %v", resp["report"])
	}
}
