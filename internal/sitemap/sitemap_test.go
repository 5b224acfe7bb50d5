package sitemap

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fenwicklabs/harvest/internal/fetch"
	"github.com/fenwicklabs/harvest/internal/pipeline"
	"github.com/fenwicklabs/harvest/internal/robots"
	"github.com/fenwicklabs/harvest/pkg/ratelimit"
)

func newTestPipeline(t *testing.T) *pipeline.Pipeline {
	f, err := fetch.New(fetch.Config{})
	if err != nil {
		t.Fatalf("fetch.New: %v", err)
	}
	return &pipeline.Pipeline{
		Fetcher: f,
		Robots:  robots.New(f, nil),
		Limiter: ratelimit.NewHostLimiter(0),
	}
}

func TestParse_Urlset_R2(t *testing.T) {
	body := []byte(`<?xml version="1.0"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
<url><loc>/p1</loc><priority>0.9</priority></url>
<url><loc>/p2</loc><priority>bogus</priority></url>
<url><priority>0.3</priority></url>
</urlset>`)

	rec := Parse("http://host/sitemap.xml", body)
	if rec.Error != "" {
		t.Fatalf("unexpected error: %s", rec.Error)
	}
	if len(rec.URLs) != 2 {
		t.Fatalf("expected 2 urls (locless entry skipped), got %d", len(rec.URLs))
	}
	if rec.URLs[0].Priority != 0.9 {
		t.Errorf("expected 0.9, got %v", rec.URLs[0].Priority)
	}
	if rec.URLs[1].Priority != 0.5 {
		t.Errorf("expected bogus priority to default to 0.5, got %v", rec.URLs[1].Priority)
	}
}

func TestParse_SitemapIndex(t *testing.T) {
	body := []byte(`<?xml version="1.0"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
<sitemap><loc>http://host/A.xml</loc></sitemap>
<sitemap><loc>http://host/B.xml</loc></sitemap>
</sitemapindex>`)

	rec := Parse("http://host/sitemap.xml", body)
	if len(rec.NestedSitemaps) != 2 {
		t.Fatalf("expected 2 nested sitemaps, got %d", len(rec.NestedSitemaps))
	}
}

func TestParse_BareElementNamesWithoutNamespace(t *testing.T) {
	body := []byte(`<urlset><url><loc>/p</loc></url></urlset>`)
	rec := Parse("http://host/sitemap.xml", body)
	if len(rec.URLs) != 1 || rec.URLs[0].Loc != "/p" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestFollowNested_S3(t *testing.T) {
	mux := http.NewServeMux()
	var base string
	mux.HandleFunc("/root.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<sitemapindex><sitemap><loc>` + base + `/A.xml</loc></sitemap><sitemap><loc>` + base + `/B.xml</loc></sitemap></sitemapindex>`))
	})
	mux.HandleFunc("/A.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<urlset><url><loc>/p1</loc><priority>0.9</priority></url></urlset>`))
	})
	mux.HandleFunc("/B.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<urlset><url><loc>/p2</loc><priority>bogus</priority></url></urlset>`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()
	base = ts.URL

	pipe := newTestPipeline(t)
	opts := pipeline.Options{AllowPrivateIPs: true}
	records, err := FollowNested(t.Context(), pipe, ts.URL+"/root.xml", 10, opts)
	if err != nil {
		t.Fatalf("FollowNested: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records (root + A + B), got %d", len(records))
	}
	var totalURLs int
	for _, r := range records {
		totalURLs += len(r.URLs)
	}
	if totalURLs != 2 {
		t.Errorf("expected 2 urls across A and B, got %d", totalURLs)
	}
}

// TestFollowNested_RootRefusedByGuard exercises the SSRF guard on the root
// sitemap URL itself, not just on nested ones, guarding against a regression
// where an attacker-supplied root URL pointing at a private or metadata
// address would be fetched unchecked.
func TestFollowNested_RootRefusedByGuard(t *testing.T) {
	pipe := newTestPipeline(t)
	records, err := FollowNested(t.Context(), pipe, "http://169.254.169.254/latest/meta-data/", 10, pipeline.Options{AllowPrivateIPs: true})
	if err != nil {
		t.Fatalf("FollowNested: %v", err)
	}
	if len(records) != 1 || records[0].Error == "" {
		t.Fatalf("expected the metadata-endpoint root to come back refused, got %+v", records)
	}
}

// TestFollowNested_NestedRefusedByGuard exercises the SSRF guard on a
// nested sitemap URL, not just the one the caller supplied directly.
func TestFollowNested_NestedRefusedByGuard(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/root.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<sitemapindex><sitemap><loc>http://169.254.169.254/latest/meta-data/</loc></sitemap></sitemapindex>`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	pipe := newTestPipeline(t)
	records, err := FollowNested(t.Context(), pipe, ts.URL+"/root.xml", 10, pipeline.Options{AllowPrivateIPs: true})
	if err != nil {
		t.Fatalf("FollowNested: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected root + one refused nested record, got %d", len(records))
	}
	if records[1].Error == "" {
		t.Errorf("expected the nested metadata-endpoint sitemap to come back refused, got %+v", records[1])
	}
}
