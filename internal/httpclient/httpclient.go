// Package httpclient is the shared outbound HTTP layer every REST monitor
// and the Pusher's sinks use, so per-host and global request rates stay
// capped no matter how many independent components make requests. The caps
// are requests per second; the number of requests in flight is not capped.
package httpclient

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pool hands out *http.Client values shared across callers, gating request
// rate with a global token bucket and a per-host token bucket.
// This replaces a naive "one client per monitor" approach, which would let
// a slow or flaky exchange host starve every other monitor's share of
// outbound connections.
type Pool struct {
	client *http.Client

	mu        sync.Mutex
	perHost   map[string]*rate.Limiter
	hostCap   rate.Limit
	hostBurst int
	global    *rate.Limiter
}

// Config controls the pool's rate ceilings and transport timeout.
type Config struct {
	PerHostCap int // sustained requests/sec allowed to a single host
	GlobalCap  int // sustained requests/sec allowed across all hosts
	Timeout    time.Duration
}

// New builds a Pool. A Config with zero caps falls back to generous
// defaults rather than disabling limiting entirely.
func New(cfg Config) *Pool {
	perHostCap := cfg.PerHostCap
	if perHostCap <= 0 {
		perHostCap = 10
	}
	globalCap := cfg.GlobalCap
	if globalCap <= 0 {
		globalCap = 50
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Pool{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: perHostCap,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		perHost:   map[string]*rate.Limiter{},
		hostCap:   rate.Limit(perHostCap),
		hostBurst: perHostCap,
		global:    rate.NewLimiter(rate.Limit(globalCap), globalCap),
	}
}

func (p *Pool) limiterFor(host string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.perHost[host]
	if !ok {
		l = rate.NewLimiter(p.hostCap, p.hostBurst)
		p.perHost[host] = l
	}
	return l
}

// Do waits for both the per-host and global limiters to admit the request,
// then issues it with the pool's shared client.
func (p *Pool) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	host := req.URL.Hostname()
	if err := p.limiterFor(host).Wait(ctx); err != nil {
		return nil, err
	}
	if err := p.global.Wait(ctx); err != nil {
		return nil, err
	}
	return p.client.Do(req.WithContext(ctx))
}

// dnsCacheEntry pins a resolved address for a short window so repeated
// polls of the same exchange host don't each pay a fresh DNS lookup.
type dnsCacheEntry struct {
	addrs   []string
	expires time.Time
}

// dnsCache is a tiny TTL cache in front of net.DefaultResolver, shared by
// the pool's dialer.
type dnsCache struct {
	mu      sync.Mutex
	entries map[string]dnsCacheEntry
	ttl     time.Duration
}

func newDNSCache(ttl time.Duration) *dnsCache {
	return &dnsCache{entries: map[string]dnsCacheEntry{}, ttl: ttl}
}

func (c *dnsCache) lookup(ctx context.Context, host string) ([]string, error) {
	c.mu.Lock()
	if e, ok := c.entries[host]; ok && time.Now().Before(e.expires) {
		c.mu.Unlock()
		return e.addrs, nil
	}
	c.mu.Unlock()

	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[host] = dnsCacheEntry{addrs: addrs, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	return addrs, nil
}

// NewWithDNSCache wraps New with a dialer that consults a 5-minute DNS
// cache before falling back to a fresh lookup.
func NewWithDNSCache(cfg Config) *Pool {
	p := New(cfg)
	cache := newDNSCache(5 * time.Minute)

	dialer := &net.Dialer{Timeout: 5 * time.Second}
	transport := p.client.Transport.(*http.Transport).Clone()
	transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return dialer.DialContext(ctx, network, addr)
		}
		if net.ParseIP(host) != nil {
			return dialer.DialContext(ctx, network, addr)
		}
		addrs, err := cache.lookup(ctx, host)
		if err != nil || len(addrs) == 0 {
			return dialer.DialContext(ctx, network, addr)
		}
		return dialer.DialContext(ctx, network, net.JoinHostPort(addrs[0], port))
	}
	p.client.Transport = transport
	return p
}

// RawClient exposes the pool's underlying *http.Client for callers (such as
// gofeed.Parser) that need to own their own fetch call rather than going
// through Do. Requests issued this way skip the per-host/global limiters;
// callers doing so must poll infrequently enough not to need them (the news
// monitor's handful of low-frequency feeds qualify).
func (p *Pool) RawClient() *http.Client {
	return p.client
}

// HostFromURL is a small helper used by callers that build limiter keys
// from raw strings instead of a parsed *url.URL.
func HostFromURL(rawURL string) string {
	withoutScheme := rawURL
	if idx := strings.Index(rawURL, "://"); idx >= 0 {
		withoutScheme = rawURL[idx+3:]
	}
	if idx := strings.IndexAny(withoutScheme, "/:"); idx >= 0 {
		return withoutScheme[:idx]
	}
	return withoutScheme
}
