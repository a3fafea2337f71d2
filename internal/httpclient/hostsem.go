package httpclient

import (
	"context"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// HostSemaphore is a process-global per-host concurrency limiter.
// All HTTP clients in the process share the same semaphore for a given host,
// so retries and parallel category/stream calls do not pile onto one panel.
//
// Usage: acquire before sending a request, release when the response body is read.
//
//	release, err := sem.Acquire(ctx, "http://panel.example:8080")
//	if err != nil {
//		return err
//	}
//	defer release()
type HostSemaphore struct {
	mu    sync.Mutex
	sems  map[string]chan struct{}
	limit int
}

// GlobalHostSem caps clients built without explicit limits at 4 concurrent
// requests per host across the entire process.
var GlobalHostSem = NewHostSemaphore(4)

func NewHostSemaphore(concurrency int) *HostSemaphore {
	if concurrency < 1 {
		concurrency = 1
	}
	return &HostSemaphore{
		sems:  make(map[string]chan struct{}),
		limit: concurrency,
	}
}

// Acquire blocks until a slot is available for host or ctx ends, and returns a release func.
// host should be the scheme+host (e.g. "http://example.com:8080").
func (h *HostSemaphore) Acquire(ctx context.Context, host string) (func(), error) {
	sem := h.semFor(host)
	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *HostSemaphore) semFor(host string) chan struct{} {
	host = hostKey(host)
	h.mu.Lock()
	s, ok := h.sems[host]
	if !ok {
		s = make(chan struct{}, h.limit)
		h.sems[host] = s
	}
	h.mu.Unlock()
	return s
}

// HostLimiter is a per-host token bucket shared across clients.
type HostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// GlobalHostLimiter paces clients built without explicit limits to 5/s per host
// with a burst of 5.
var GlobalHostLimiter = NewHostLimiter(5, 5)

// NewHostLimiter returns a limiter allowing rps requests per second per host.
// rps <= 0 disables limiting.
func NewHostLimiter(rps float64, burst int) *HostLimiter {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	return &HostLimiter{limiters: make(map[string]*rate.Limiter), limit: limit, burst: burst}
}

// Wait blocks until a request to host is allowed or ctx ends.
func (l *HostLimiter) Wait(ctx context.Context, host string) error {
	host = hostKey(host)
	l.mu.Lock()
	lim, ok := l.limiters[host]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[host] = lim
	}
	l.mu.Unlock()
	return lim.Wait(ctx)
}

// hostKey strips path and query, keeping scheme and host.
func hostKey(host string) string {
	if u, err := url.Parse(host); err == nil && u.Host != "" {
		return u.Scheme + "://" + u.Host
	}
	return host
}
