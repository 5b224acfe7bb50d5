// Package guard implements the URL Guard: the SSRF admission policy every
// outbound URL must clear before any network I/O happens (spec invariant I1).
package guard

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/fenwicklabs/harvest/internal/metrics"
)

// Refusal describes why a URL was refused admission.
type Refusal struct {
	Reason string
}

func (r *Refusal) Error() string { return r.Reason }

func refuse(reason string, format string, args ...any) error {
	metrics.GuardRefusalsTotal.WithLabelValues(reason).Inc()
	return &Refusal{Reason: fmt.Sprintf(format, args...)}
}

// IsRefusal reports whether err is an SSRF refusal (as opposed to a
// malformed-URL or other programmer error).
func IsRefusal(err error) bool {
	_, ok := err.(*Refusal)
	return ok
}

// localhostBlocklist is refused unless Options.AllowPrivate is set.
var localhostBlocklist = map[string]struct{}{
	"localhost": {},
	"127.0.0.1": {},
	"::1":       {},
	"0.0.0.0":   {},
}

// metadataBlocklist is refused unconditionally — step 3 of spec §4.A. This
// carve-out applies even when private IPs are explicitly permitted, since
// cloud metadata endpoints leak credentials regardless of crawl intent.
var metadataBlocklist = map[string]struct{}{
	"169.254.169.254":         {},
	"metadata.google.internal": {},
	"metadata.goog":            {},
}

// Resolver abstracts hostname resolution so tests can stub DNS behavior.
// net.DefaultResolver satisfies this via LookupHost's signature.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Options configures the guard's admission policy.
type Options struct {
	// AllowPrivate permits private/loopback/link-local/reserved addresses,
	// except the metadata blocklist which is never permitted.
	AllowPrivate bool
	// Resolver is used to re-resolve hostnames for the DNS-rebinding check
	// (step 5). Defaults to net.DefaultResolver.
	Resolver Resolver
}

// Admit runs the five-step algorithm of spec §4.A and returns nil if the URL
// may be fetched, or an *Refusal describing why not.
func Admit(ctx context.Context, rawURL string, opts Options) error {
	if opts.Resolver == nil {
		opts.Resolver = net.DefaultResolver
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("guard: invalid url: %w", err)
	}

	// Step 1: scheme and host.
	if u.Scheme != "http" && u.Scheme != "https" {
		return refuse("scheme", "scheme %q not permitted", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return refuse("empty_host", "empty host")
	}
	lowerHost := strings.ToLower(host)

	// Step 2: localhost blocklist.
	if _, ok := localhostBlocklist[lowerHost]; ok && !opts.AllowPrivate {
		return refuse("loopback", "host %q is blocked (loopback/unspecified)", host)
	}

	// Step 3: metadata blocklist — unconditional.
	if _, ok := metadataBlocklist[lowerHost]; ok {
		return refuse("metadata", "host %q is a cloud metadata endpoint, always blocked", host)
	}

	// Step 4: IP literal checks.
	if ip := net.ParseIP(host); ip != nil {
		if !opts.AllowPrivate && isDisallowedIP(ip) {
			return refuse("private_ip", "ip literal %q is private/loopback/link-local/reserved", host)
		}
		return nil
	}

	// Step 5: DNS re-resolution. A resolution failure does not fail
	// admission — the fetcher will surface the transport error instead.
	// The metadata carve-out from step 3 is unconditional, so it is
	// checked here before the AllowPrivate early-out — a hostname that
	// merely rebinds to a metadata address must be blocked even when
	// private IPs are otherwise permitted.
	addrs, err := opts.Resolver.LookupHost(ctx, host)
	if err != nil {
		return nil
	}
	for _, addr := range addrs {
		if _, ok := metadataBlocklist[addr]; ok {
			return refuse("dns_rebind_metadata", "host %q resolves to a cloud metadata address %q", host, addr)
		}
	}
	if opts.AllowPrivate {
		return nil
	}
	for _, addr := range addrs {
		ip := net.ParseIP(addr)
		if ip == nil {
			continue
		}
		if isDisallowedIP(ip) {
			return refuse("dns_rebind_private", "host %q resolves to private/loopback/link-local address %q", host, addr)
		}
	}
	return nil
}

func isDisallowedIP(ip net.IP) bool {
	return ip.IsPrivate() ||
		ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified() ||
		isReserved(ip)
}

// isReserved covers ranges net.IP's helpers don't flag directly but that
// are still unroutable on the public internet (e.g. documentation ranges,
// benchmarking space, IETF protocol assignments).
func isReserved(ip net.IP) bool {
	reservedV4 := []string{
		"192.0.0.0/24",    // IETF protocol assignments
		"192.0.2.0/24",    // TEST-NET-1
		"198.18.0.0/15",   // benchmarking
		"198.51.100.0/24", // TEST-NET-2
		"203.0.113.0/24",  // TEST-NET-3
		"240.0.0.0/4",     // reserved
	}
	for _, cidr := range reservedV4 {
		_, network, err := net.ParseCIDR(cidr)
		if err == nil && network.Contains(ip) {
			return true
		}
	}
	return false
}
