// Package fetch implements the Fetcher: a size-capped, single-User-Agent
// HTTP GET with streaming reads, matching spec §4.B's contract exactly.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fenwicklabs/harvest/internal/metrics"
	"github.com/fenwicklabs/harvest/pkg/httpclient"
)

// Kind enumerates the FetchOutcome variants of spec §3.
type Kind int

const (
	Ok Kind = iota
	Refused
	TransportError
	TooLarge
	BadContentType
)

func (k Kind) String() string {
	switch k {
	case Ok:
		return "ok"
	case Refused:
		return "refused"
	case TransportError:
		return "transport_error"
	case TooLarge:
		return "too_large"
	case BadContentType:
		return "bad_content_type"
	default:
		return "unknown"
	}
}

// Outcome is the result of a single fetch attempt.
type Outcome struct {
	Kind         Kind
	Bytes        []byte
	ContentType  string
	EffectiveURL string
	Reason       string
	StatusCode   int
}

// chunkSize is the streaming read size spec §4.B mandates (≤ 8 KiB).
const chunkSize = 8 * 1024

// Config configures a Fetcher.
type Config struct {
	UserAgent         string
	Timeout           time.Duration
	MaxResponseSize   int64
	AcceptableTypes   []string // substrings checked advisorily against Content-Type
	MaxRedirects      int
}

// Fetcher performs size-capped GETs over a long-lived connection pool keyed
// by (scheme, host, port) — the pooling http.Transport already provides.
type Fetcher struct {
	cfg    Config
	client *httpclient.Client
}

// New builds a Fetcher. The underlying client is created once so its
// transport's connection pool is reused across every Fetch call.
func New(cfg Config) (*Fetcher, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxResponseSize <= 0 {
		cfg.MaxResponseSize = 10 * 1024 * 1024
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "harvest/1.0 (+https://github.com/fenwicklabs/harvest)"
	}
	if cfg.MaxRedirects == 0 {
		cfg.MaxRedirects = 10
	}

	client, err := httpclient.New(httpclient.Config{
		Timeout:      cfg.Timeout,
		MaxRedirects: cfg.MaxRedirects,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch: failed to create client: %w", err)
	}

	return &Fetcher{cfg: cfg, client: client}, nil
}

// Fetch performs a single GET against targetURL. Every failure, including a
// malformed URL and context cancellation, is reported as Outcome.Kind with a
// Reason; the error return is always nil.
func (f *Fetcher) Fetch(ctx context.Context, targetURL string) (*Outcome, error) {
	start := time.Now()
	host := hostOf(targetURL)
	defer func() {
		metrics.FetchDuration.WithLabelValues(host).Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		metrics.FetchRequestsTotal.WithLabelValues(host, TransportError.String()).Inc()
		return &Outcome{Kind: TransportError, Reason: fmt.Sprintf("invalid request: %v", err)}, nil
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.client.Do(ctx, req)
	if err != nil {
		metrics.FetchRequestsTotal.WithLabelValues(host, TransportError.String()).Inc()
		return &Outcome{Kind: TransportError, Reason: err.Error()}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.FetchRequestsTotal.WithLabelValues(host, TransportError.String()).Inc()
		return &Outcome{
			Kind:         TransportError,
			Reason:       fmt.Sprintf("non-2xx status %d", resp.StatusCode),
			StatusCode:   resp.StatusCode,
			EffectiveURL: resp.Request.URL.String(),
		}, nil
	}

	if resp.ContentLength > f.cfg.MaxResponseSize {
		metrics.FetchRequestsTotal.WithLabelValues(host, TooLarge.String()).Inc()
		return &Outcome{
			Kind:       TooLarge,
			Reason:     fmt.Sprintf("content-length %d exceeds cap %d", resp.ContentLength, f.cfg.MaxResponseSize),
			StatusCode: resp.StatusCode,
		}, nil
	}

	contentType := resp.Header.Get("Content-Type")
	badType := !acceptableType(contentType, f.cfg.AcceptableTypes)

	body, truncatedTooLarge, err := readCapped(resp.Body, f.cfg.MaxResponseSize)
	if err != nil {
		metrics.FetchRequestsTotal.WithLabelValues(host, TransportError.String()).Inc()
		return &Outcome{Kind: TransportError, Reason: fmt.Sprintf("read failed: %v", err)}, nil
	}
	metrics.FetchBytesTotal.WithLabelValues(host).Add(float64(len(body)))

	if truncatedTooLarge {
		metrics.FetchRequestsTotal.WithLabelValues(host, TooLarge.String()).Inc()
		return &Outcome{
			Kind:       TooLarge,
			Reason:     fmt.Sprintf("body exceeded cap of %d bytes", f.cfg.MaxResponseSize),
			StatusCode: resp.StatusCode,
		}, nil
	}

	outcome := &Outcome{
		Kind:         Ok,
		Bytes:        body,
		ContentType:  contentType,
		EffectiveURL: resp.Request.URL.String(),
		StatusCode:   resp.StatusCode,
	}
	if badType {
		// Advisory only per §4.B: recorded in Reason, does not abort.
		outcome.Reason = fmt.Sprintf("content-type %q not in acceptable set", contentType)
	}
	metrics.FetchRequestsTotal.WithLabelValues(host, Ok.String()).Inc()
	return outcome, nil
}

// readCapped streams r in chunkSize increments, returning (nil, true, nil)
// the instant accumulated length would exceed max instead of buffering the
// whole, oversized body.
func readCapped(r io.Reader, max int64) ([]byte, bool, error) {
	buf := make([]byte, 0, minInt64(max+1, 1<<20))
	chunk := make([]byte, chunkSize)
	var total int64
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			total += int64(n)
			if total > max {
				return nil, true, nil
			}
			buf = append(buf, chunk[:n]...)
		}
		if err == io.EOF {
			return buf, false, nil
		}
		if err != nil {
			return nil, false, err
		}
	}
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// acceptableType reports whether contentType contains any of the configured
// substrings. An empty acceptable list means "anything is acceptable".
func acceptableType(contentType string, acceptable []string) bool {
	if len(acceptable) == 0 {
		return true
	}
	lower := strings.ToLower(contentType)
	for _, want := range acceptable {
		if strings.Contains(lower, strings.ToLower(want)) {
			return true
		}
	}
	return false
}

func hostOf(rawURL string) string {
	const prefixHTTPS = "https://"
	const prefixHTTP = "http://"
	s := rawURL
	if strings.HasPrefix(s, prefixHTTPS) {
		s = s[len(prefixHTTPS):]
	} else if strings.HasPrefix(s, prefixHTTP) {
		s = s[len(prefixHTTP):]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	return s
}
