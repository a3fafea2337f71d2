// Package aggregate fetches live listings from many providers and folds them
// into one catalog.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/snapetech/iptvmerge/internal/catalog"
	"github.com/snapetech/iptvmerge/internal/httpclient"
	"github.com/snapetech/iptvmerge/internal/logging"
	"github.com/snapetech/iptvmerge/internal/metrics"
	"github.com/snapetech/iptvmerge/internal/provider"
	"github.com/snapetech/iptvmerge/internal/proxypool"
	"github.com/snapetech/iptvmerge/internal/retry"
	"github.com/snapetech/iptvmerge/internal/xtream"
)

// ProviderClient lists one provider's live categories and streams.
type ProviderClient interface {
	LiveCategories(ctx context.Context) ([]xtream.Category, error)
	LiveStreams(ctx context.Context) ([]xtream.Stream, error)
}

// ClientFactory binds a ProviderClient to p for one attempt. httpClient is
// routed through that attempt's proxy, or is the shared direct client.
type ClientFactory func(p provider.Provider, httpClient *http.Client) ProviderClient

// XtreamFactory returns a ClientFactory producing xtream clients with opts.
func XtreamFactory(opts ...xtream.Option) ClientFactory {
	return func(p provider.Provider, hc *http.Client) ProviderClient {
		o := append([]xtream.Option{xtream.WithHTTPClient(hc)}, opts...)
		return xtream.NewClient(p, o...)
	}
}

// Target is one provider to fetch and where it came from.
type Target struct {
	Provider provider.Provider
	Origin   provider.Origin
}

// Result is the outcome of fetching one Target. Exactly one of Channels/Err is meaningful.
type Result struct {
	Target   Target
	Channels []catalog.RawChannel
	Err      error
	Attempts int
}

// Orchestrator fetches targets concurrently, retrying each one as a whole.
type Orchestrator struct {
	NewClient     ClientFactory
	Policy        retry.Policy
	Timeout       time.Duration   // per network call, used for proxied clients
	MaxConcurrent int             // 0 = all targets at once
	Proxies       *proxypool.Pool // nil or empty = direct
	HTTP          *http.Client    // direct client; nil = httpclient.Default()
	Log           *logrus.Entry
}

// Fetch returns one Result per target, in target order. It returns when every
// target has succeeded or failed terminally; one target's failure never
// cancels another.
func (o *Orchestrator) Fetch(ctx context.Context, targets []Target) []Result {
	results := make([]Result, len(targets))
	var g errgroup.Group
	if o.MaxConcurrent > 0 {
		g.SetLimit(o.MaxConcurrent)
	}
	for i, t := range targets {
		i, t := i, t
		g.Go(func() error {
			results[i] = o.fetchOne(ctx, t)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (o *Orchestrator) fetchOne(ctx context.Context, t Target) Result {
	log := logging.OrDiscard(o.Log).WithFields(logrus.Fields{
		"provider": t.Provider.Server,
		"origin":   t.Origin,
	})
	start := time.Now()
	policy := o.Policy
	if policy.Retryable == nil {
		policy.Retryable = Retryable
	}
	var chans []catalog.RawChannel
	n, err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		c, err := o.attempt(ctx, t, attempt, log)
		metrics.FetchAttempts.WithLabelValues(outcome(err)).Inc()
		if err != nil {
			log.WithError(err).WithField("attempt", attempt).Warn("provider fetch attempt failed")
			return err
		}
		chans = c
		return nil
	})
	metrics.FetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return Result{Target: t, Err: err, Attempts: n}
	}
	log.WithFields(logrus.Fields{"channels": len(chans), "attempts": n}).Info("provider fetched")
	return Result{Target: t, Channels: chans, Attempts: n}
}

// attempt runs one categories+streams fetch, through a freshly picked proxy when the pool has one.
func (o *Orchestrator) attempt(ctx context.Context, t Target, attempt int, log *logrus.Entry) ([]catalog.RawChannel, error) {
	hc := o.HTTP
	if hc == nil {
		hc = httpclient.Default()
	}
	if px, ok := o.Proxies.Pick(); ok {
		pc, err := httpclient.ForProxy(px.URL(), o.timeout())
		if err != nil {
			return nil, fmt.Errorf("%w: proxy %s: %w", xtream.ErrUnreachable, px, err)
		}
		defer pc.CloseIdleConnections()
		hc = pc
		log.WithFields(logrus.Fields{"attempt": attempt, "proxy": px.URL()}).Debug("attempt routed through proxy")
	}
	client := o.NewClient(t.Provider, hc)

	var cats []xtream.Category
	var streams []xtream.Stream
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		cats, err = client.LiveCategories(gctx)
		if err != nil {
			return fmt.Errorf("categories: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		streams, err = client.LiveStreams(gctx)
		if err != nil {
			return fmt.Errorf("live streams: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return RawChannels(t, cats, streams), nil
}

func (o *Orchestrator) timeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return httpclient.DefaultTimeout
}

// RawChannels joins streams to category names and drops streams without an id or name.
// A stream whose category id is empty or unknown lands in catalog.Uncategorized.
func RawChannels(t Target, cats []xtream.Category, streams []xtream.Stream) []catalog.RawChannel {
	names := make(map[string]string, len(cats))
	for _, c := range cats {
		if c.ID == "" {
			continue
		}
		name := c.Name
		if name == "" {
			name = catalog.Uncategorized
		}
		names[c.ID] = name
	}
	out := make([]catalog.RawChannel, 0, len(streams))
	for _, s := range streams {
		if s.ID == "" || s.Name == "" {
			continue
		}
		cat, ok := names[s.CategoryID]
		if !ok || s.CategoryID == "" {
			cat = catalog.Uncategorized
		}
		out = append(out, catalog.RawChannel{
			ID:       s.ID,
			Name:     s.Name,
			LogoURL:  s.Icon,
			Category: cat,
			Provider: t.Provider,
			Origin:   t.Origin,
		})
	}
	return out
}

// Retryable retries every failure except cancellation of the batch.
func Retryable(err error) bool {
	return !errors.Is(err, context.Canceled)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, xtream.ErrUnreachable), errors.Is(err, context.DeadlineExceeded):
		return "unreachable"
	case errors.Is(err, xtream.ErrProtocol):
		return "protocol"
	}
	return "error"
}
