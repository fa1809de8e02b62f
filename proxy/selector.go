// Package proxy rotates outbound URL fetches across a pool of HTTP or
// SOCKS5 proxies.
package proxy

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Strategy selects how the next endpoint is chosen.
type Strategy string

// Supported strategies.
const (
	StrategyRoundRobin Strategy = "round_robin"
	StrategyRandom     Strategy = "random"
	// StrategySticky pins each target host to one endpoint, optionally
	// for a limited time.
	StrategySticky Strategy = "sticky"
)

// ErrEmptyPool is returned by New when no endpoints are given.
var ErrEmptyPool = errors.New("proxy pool has no endpoints")

// Pool selects proxy endpoints. Safe for concurrent use.
type Pool struct {
	mu        sync.Mutex
	endpoints []*url.URL
	strategy  Strategy
	stickyTTL time.Duration
	rrIndex   int64
	sticky    map[string]*stickyEntry
	now       func() time.Time
}

// stickyEntry holds a sticky assignment with optional expiry.
type stickyEntry struct {
	endpointIdx int
	expiresAt   *time.Time
}

// New validates endpoints and builds a pool. An empty strategy means
// round robin. A zero stickyTTL keeps sticky assignments forever.
func New(endpoints []string, strategy Strategy, stickyTTL time.Duration) (*Pool, error) {
	if len(endpoints) == 0 {
		return nil, ErrEmptyPool
	}
	switch strategy {
	case "":
		strategy = StrategyRoundRobin
	case StrategyRoundRobin, StrategyRandom, StrategySticky:
	default:
		return nil, fmt.Errorf("unknown proxy strategy %q", strategy)
	}
	if stickyTTL < 0 {
		return nil, fmt.Errorf("sticky ttl must be >= 0, got %s", stickyTTL)
	}

	urls := make([]*url.URL, 0, len(endpoints))
	for i, raw := range endpoints {
		u, err := parseEndpoint(raw)
		if err != nil {
			return nil, fmt.Errorf("endpoint %d: %w", i, err)
		}
		urls = append(urls, u)
	}

	return &Pool{
		endpoints: urls,
		strategy:  strategy,
		stickyTTL: stickyTTL,
		sticky:    make(map[string]*stickyEntry),
		now:       time.Now,
	}, nil
}

func parseEndpoint(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http", "https", "socks5":
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q in %s", u.Scheme, u.Redacted())
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("proxy %s has no host", u.Redacted())
	}
	if u.Port() == "" {
		return nil, fmt.Errorf("proxy %s has no port", u.Redacted())
	}
	return u, nil
}

// Strategy returns the pool's strategy.
func (p *Pool) Strategy() Strategy {
	return p.strategy
}

// Select picks an endpoint for a request to host. host is only used by
// the sticky strategy. The returned URL must not be modified.
func (p *Pool) Select(host string) (*url.URL, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var idx int
	var err error
	switch p.strategy {
	case StrategyRoundRobin:
		idx = p.selectRoundRobin()
	case StrategyRandom:
		idx, err = p.selectRandom()
	case StrategySticky:
		idx, err = p.selectSticky(host)
	}
	if err != nil {
		return nil, err
	}
	return p.endpoints[idx], nil
}

// ProxyFunc adapts the pool for http.Transport.Proxy.
func (p *Pool) ProxyFunc() func(*http.Request) (*url.URL, error) {
	return func(req *http.Request) (*url.URL, error) {
		return p.Select(req.URL.Hostname())
	}
}

func (p *Pool) selectRoundRobin() int {
	idx := int(p.rrIndex % int64(len(p.endpoints)))
	p.rrIndex++
	return idx
}

func (p *Pool) selectRandom() (int, error) {
	n := len(p.endpoints)
	if n == 1 {
		return 0, nil
	}

	bigIdx, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("random selection failed: %w", err)
	}
	return int(bigIdx.Int64()), nil
}

func (p *Pool) selectSticky(host string) (int, error) {
	if host == "" {
		return 0, errors.New("sticky selection requires a host")
	}

	now := p.now()
	if entry, ok := p.sticky[host]; ok {
		if entry.expiresAt == nil || entry.expiresAt.After(now) {
			return entry.endpointIdx, nil
		}
		delete(p.sticky, host)
	}

	// New assignments are random.
	idx, err := p.selectRandom()
	if err != nil {
		return 0, err
	}

	entry := &stickyEntry{endpointIdx: idx}
	if p.stickyTTL > 0 {
		expiresAt := now.Add(p.stickyTTL)
		entry.expiresAt = &expiresAt
	}
	p.sticky[host] = entry
	return idx, nil
}

// Stats is a point-in-time view of selection state.
type Stats struct {
	Endpoints       int
	RoundRobinIndex int64
	StickyEntries   int
}

// Stats returns selection statistics.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Endpoints:       len(p.endpoints),
		RoundRobinIndex: p.rrIndex,
		StickyEntries:   len(p.sticky),
	}
}

// CleanExpiredSticky removes expired sticky entries.
// Call periodically to prevent unbounded growth.
func (p *Pool) CleanExpiredSticky() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for host, entry := range p.sticky {
		if entry.expiresAt != nil && entry.expiresAt.Before(now) {
			delete(p.sticky, host)
		}
	}
}
