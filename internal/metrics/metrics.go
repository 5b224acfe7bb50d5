package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FetchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_fetch_requests_total",
			Help: "Total number of fetches attempted, labeled by host and outcome",
		},
		[]string{"host", "outcome"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvest_fetch_duration_seconds",
			Help:    "Duration of a single fetch (headers+body) in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"host"},
	)

	FetchBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_fetch_bytes_total",
			Help: "Total bytes read from response bodies across all fetches",
		},
		[]string{"host"},
	)

	RateLimiterWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvest_rate_limiter_wait_seconds",
			Help:    "Time spent blocked in the per-host rate limiter",
			Buckets: []float64{0, 0.01, 0.1, 0.5, 1, 5},
		},
		[]string{"host"},
	)

	RobotsRefusalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_robots_refusals_total",
			Help: "Total number of URLs refused by the robots cache",
		},
		[]string{"host"},
	)

	GuardRefusalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_guard_refusals_total",
			Help: "Total number of URLs refused by the SSRF guard",
		},
		[]string{"reason"},
	)

	ParseErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_parse_errors_total",
			Help: "Total number of parse failures, labeled by workflow (page, feed, sitemap)",
		},
		[]string{"workflow"},
	)

	CrawlPagesVisitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_crawl_pages_visited_total",
			Help: "Total number of pages visited by the crawler",
		},
		[]string{"origin"},
	)
)

// Server encapsulates an HTTP server exposing Prometheus metrics.
type Server struct {
	srv *http.Server
}

// Start begins listening on the specified port and exposes /metrics. The
// server runs in a background goroutine and must be stopped via Server.Stop()
// to release resources and avoid leaks.
func Start(port int) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server failed: %v\n", err)
		}
	}()

	return &Server{srv: srv}
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
