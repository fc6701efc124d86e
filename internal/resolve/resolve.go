// Package resolve performs reverse DNS lookups for host addresses so the
// dashboard can show names next to raw IPs. Lookups go to a configured
// DNS server and results are cached in process.
package resolve

import (
	"context"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/miekg/dns"

	"github.com/alicorn-scan/alicorn/internal/errors"
	"github.com/alicorn-scan/alicorn/internal/metrics"
)

// Cache sizing. Names are tiny; cost counts entries.
const (
	cacheNumCounters = 100_000
	cacheMaxEntries  = 10_000
	cacheTTL         = time.Hour
	negativeCacheTTL = 10 * time.Minute
)

// Resolver answers PTR queries against one DNS server.
type Resolver struct {
	server  string
	client  *dns.Client
	cache   *ristretto.Cache
	metrics *metrics.Metrics
}

// New creates a resolver querying the given server (host:port). metrics
// may be nil.
func New(server string, timeout time.Duration, m *metrics.Metrics) (*Resolver, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cacheNumCounters,
		MaxCost:     cacheMaxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Resolver{
		server:  server,
		client:  &dns.Client{Timeout: timeout},
		cache:   cache,
		metrics: m,
	}, nil
}

// Reverse returns the PTR name for an address, or "" when the address
// has no reverse record. Both answers are cached; missing records are
// held for a shorter period.
func (r *Resolver) Reverse(ctx context.Context, addr string) (string, error) {
	if cached, ok := r.cache.Get(addr); ok {
		r.record("hit")
		return cached.(string), nil
	}

	arpa, err := dns.ReverseAddr(addr)
	if err != nil {
		r.record("error")
		return "", errors.Wrap(errors.CodeValidation, "invalid address for reverse lookup", err)
	}

	msg := new(dns.Msg)
	msg.SetQuestion(arpa, dns.TypePTR)
	msg.RecursionDesired = true

	reply, _, err := r.client.ExchangeContext(ctx, msg, r.server)
	if err != nil {
		r.record("error")
		return "", errors.Wrap(errors.CodeServiceUnavailable, "reverse lookup failed", err)
	}

	name := ""
	if reply.Rcode == dns.RcodeSuccess {
		for _, rr := range reply.Answer {
			if ptr, ok := rr.(*dns.PTR); ok {
				name = strings.TrimSuffix(ptr.Ptr, ".")
				break
			}
		}
	}

	ttl := cacheTTL
	if name == "" {
		ttl = negativeCacheTTL
	}
	r.cache.SetWithTTL(addr, name, 1, ttl)
	r.record("miss")
	return name, nil
}

// Close releases the cache resources.
func (r *Resolver) Close() {
	r.cache.Close()
}

func (r *Resolver) record(result string) {
	if r.metrics != nil {
		r.metrics.RecordLookup("reverse_dns", result)
	}
}
