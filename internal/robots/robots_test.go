package robots

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fenwicklabs/harvest/internal/fetch"
)

func TestCache_CanFetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(`
User-agent: *
Disallow: /admin/
Allow: /admin/public/

User-agent: BadBot
Disallow: /
		`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	f, _ := fetch.New(fetch.Config{})
	c := New(f, nil)
	ctx := t.Context()

	if allowed, err := c.CanFetch(ctx, ts.URL+"/public-page", "GoodBot"); err != nil || !allowed {
		t.Errorf("expected /public-page allowed, got allowed=%v err=%v", allowed, err)
	}
	if allowed, _ := c.CanFetch(ctx, ts.URL+"/admin/secret", "GoodBot"); allowed {
		t.Errorf("expected /admin/secret disallowed")
	}
	if allowed, _ := c.CanFetch(ctx, ts.URL+"/admin/public/index.html", "GoodBot"); !allowed {
		t.Errorf("expected /admin/public/index.html allowed (more specific Allow wins)")
	}
	if allowed, _ := c.CanFetch(ctx, ts.URL+"/public-page", "BadBot"); allowed {
		t.Errorf("expected /public-page disallowed for BadBot")
	}
}

func TestCache_MissingRobotsTreatedAsUnrestricted(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	f, _ := fetch.New(fetch.Config{})
	c := New(f, nil)

	allowed, err := c.CanFetch(t.Context(), ts.URL+"/anything", "Bot")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Errorf("expected missing robots.txt to default to allowed")
	}
}

func TestCache_CrawlDelay(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`
User-agent: *
Crawl-delay: 2
		`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	f, _ := fetch.New(fetch.Config{})
	c := New(f, nil)

	d := c.CrawlDelay(t.Context(), ts.URL, "Bot")
	if d == nil {
		t.Fatalf("expected a crawl-delay")
	}
	if *d != 2e9 {
		t.Errorf("expected 2s crawl-delay, got %v", *d)
	}
}

func TestCache_Sitemaps(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`
User-agent: *
Sitemap: http://example.com/sitemap.xml
Sitemap: http://example.com/sitemap2.xml
		`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	f, _ := fetch.New(fetch.Config{})
	c := New(f, nil)

	sitemaps := c.Sitemaps(t.Context(), ts.URL)
	if len(sitemaps) != 2 {
		t.Fatalf("expected 2 sitemaps, got %d: %v", len(sitemaps), sitemaps)
	}
}

func TestCache_CachesAcrossCalls(t *testing.T) {
	hits := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("User-agent: *\nDisallow:\n"))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	f, _ := fetch.New(fetch.Config{})
	c := New(f, nil)
	ctx := t.Context()

	for i := 0; i < 5; i++ {
		if _, err := c.CanFetch(ctx, ts.URL+"/x", "Bot"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if hits != 1 {
		t.Errorf("expected robots.txt fetched exactly once, got %d", hits)
	}
}
