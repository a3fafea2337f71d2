// Package proxypool keeps a rotating set of egress proxies for provider fetches.
package proxypool

import (
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
)

// Kind is the proxy protocol.
type Kind string

const (
	KindHTTP   Kind = "http"
	KindHTTPS  Kind = "https"
	KindSOCKS5 Kind = "socks5"
)

// Proxy is one egress endpoint.
type Proxy struct {
	Host string
	Port int
	Kind Kind
}

// URL returns kind://host:port.
func (p Proxy) URL() string {
	return string(p.Kind) + "://" + net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

func (p Proxy) String() string { return p.URL() }

// ParseProxy parses "host:port" or "kind://host:port". def is used when no scheme is given.
func ParseProxy(s string, def Kind) (Proxy, error) {
	s = strings.TrimSpace(s)
	kind := def
	if i := strings.Index(s, "://"); i >= 0 {
		kind = Kind(strings.ToLower(s[:i]))
		s = s[i+3:]
	}
	switch kind {
	case KindHTTP, KindHTTPS, KindSOCKS5:
	case "socks5h":
		kind = KindSOCKS5
	default:
		return Proxy{}, fmt.Errorf("proxy %q: unsupported kind %q", s, kind)
	}
	host, portStr, err := net.SplitHostPort(strings.TrimSuffix(s, "/"))
	if err != nil {
		return Proxy{}, fmt.Errorf("proxy %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return Proxy{}, fmt.Errorf("proxy %q: bad port", s)
	}
	if host == "" {
		return Proxy{}, fmt.Errorf("proxy %q: missing host", s)
	}
	return Proxy{Host: host, Port: port, Kind: kind}, nil
}

// Pool is a read-mostly proxy set. Readers never block; Replace swaps the
// whole snapshot at once.
type Pool struct {
	snap atomic.Pointer[[]Proxy]
}

// NewPool returns a pool holding proxies.
func NewPool(proxies []Proxy) *Pool {
	p := &Pool{}
	p.Replace(proxies)
	return p
}

// Replace installs a new snapshot. The slice is copied.
func (p *Pool) Replace(proxies []Proxy) {
	cp := make([]Proxy, len(proxies))
	copy(cp, proxies)
	p.snap.Store(&cp)
}

// Pick returns a uniformly random proxy; ok is false when the pool is empty or nil.
func (p *Pool) Pick() (Proxy, bool) {
	if p == nil {
		return Proxy{}, false
	}
	s := p.snap.Load()
	if s == nil || len(*s) == 0 {
		return Proxy{}, false
	}
	return (*s)[rand.Intn(len(*s))], true
}

// Len returns the size of the current snapshot.
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	s := p.snap.Load()
	if s == nil {
		return 0
	}
	return len(*s)
}

// Snapshot returns a copy of the current proxies.
func (p *Pool) Snapshot() []Proxy {
	if p == nil {
		return nil
	}
	s := p.snap.Load()
	if s == nil {
		return nil
	}
	out := make([]Proxy, len(*s))
	copy(out, *s)
	return out
}
