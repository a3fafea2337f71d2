// Package health runs dependency checks for the /healthz endpoint.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/snapetech/iptvmerge/internal/proxypool"
)

// DefaultTimeout bounds one Run.
const DefaultTimeout = 5 * time.Second

// Check returns nil when the dependency is usable.
type Check func(ctx context.Context) error

type entry struct {
	name     string
	critical bool
	check    Check
}

// Checker is a set of named checks. A failing critical check makes the
// service unhealthy; any other failure only marks it degraded.
type Checker struct {
	Timeout time.Duration

	mu     sync.Mutex
	checks []entry
}

// Add registers check under name.
func (c *Checker) Add(name string, critical bool, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, entry{name: name, critical: critical, check: check})
}

// Status values of a Report.
const (
	StatusOK        = "ok"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Report is the result of one Run.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Time   time.Time         `json:"time"`
}

// Run executes every check concurrently.
func (c *Checker) Run(ctx context.Context) Report {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.mu.Lock()
	checks := append([]entry(nil), c.checks...)
	c.mu.Unlock()

	errs := make([]error, len(checks))
	var g errgroup.Group
	for i, e := range checks {
		i, e := i, e
		g.Go(func() error {
			errs[i] = e.check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Status: StatusOK, Time: time.Now().UTC()}
	if len(checks) > 0 {
		rep.Checks = make(map[string]string, len(checks))
	}
	for i, e := range checks {
		if errs[i] == nil {
			rep.Checks[e.name] = StatusOK
			continue
		}
		rep.Checks[e.name] = errs[i].Error()
		if e.critical {
			rep.Status = StatusUnhealthy
		} else if rep.Status == StatusOK {
			rep.Status = StatusDegraded
		}
	}
	return rep
}

// Names lists registered checks, sorted.
func (c *Checker) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.checks))
	for _, e := range c.checks {
		out = append(out, e.name)
	}
	sort.Strings(out)
	return out
}

// ServeHTTP answers 200 for ok or degraded and 503 for unhealthy.
func (c *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rep := c.Run(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if rep.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(rep)
}

// Pinger is anything with a round-trip liveness call, such as a Redis cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks p.
func Ping(p Pinger) Check {
	return func(ctx context.Context) error { return p.Ping(ctx) }
}

// ErrPoolEmpty is reported when a configured proxy pool has no proxies.
var ErrPoolEmpty = errors.New("proxy pool empty")

// ProxyPool checks that pool holds at least one proxy.
func ProxyPool(pool *proxypool.Pool) Check {
	return func(context.Context) error {
		if pool.Len() == 0 {
			return ErrPoolEmpty
		}
		return nil
	}
}

// Endpoint GETs url and treats any answer below 500 as reachable. Some
// services do not support HEAD, so the body is drained and discarded.
func Endpoint(client *http.Client, url string) Check {
	return func(ctx context.Context) error {
		if url == "" {
			return fmt.Errorf("no url configured")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		hc := client
		if hc == nil {
			hc = http.DefaultClient
		}
		resp, err := hc.Do(req)
		if err != nil {
			return fmt.Errorf("unreachable: %w", err)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return nil
	}
}
