package main

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/snapetech/iptvmerge/internal/aggregate"
	"github.com/snapetech/iptvmerge/internal/config"
	"github.com/snapetech/iptvmerge/internal/health"
	"github.com/snapetech/iptvmerge/internal/httpclient"
	"github.com/snapetech/iptvmerge/internal/metrics"
	"github.com/snapetech/iptvmerge/internal/normalize"
	"github.com/snapetech/iptvmerge/internal/proxypool"
	"github.com/snapetech/iptvmerge/internal/retry"
	"github.com/snapetech/iptvmerge/internal/subscription"
	"github.com/snapetech/iptvmerge/internal/xtream"
)

// app holds everything one command needs, built from Config.
type app struct {
	cfg        *config.Config
	log        *logrus.Entry
	xtreamOpts []xtream.Option
	pool       *proxypool.Pool
	refresher  *proxypool.Refresher // nil unless proxies are enabled with list urls
	store      *proxypool.SQLiteStore
	cache      *subscription.RedisCache
	agg        *aggregate.Aggregator
	health     *health.Checker
}

func newApp(ctx context.Context, cfg *config.Config, log *logrus.Entry) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	a := &app{cfg: cfg, log: log, health: &health.Checker{}}

	burst := int(math.Ceil(cfg.HostRate))
	if burst < 1 {
		burst = 1
	}
	a.xtreamOpts = []xtream.Option{
		xtream.WithTimeout(cfg.RequestTimeout),
		xtream.WithHostLimits(httpclient.NewHostSemaphore(cfg.HostConcurrency), httpclient.NewHostLimiter(cfg.HostRate, burst)),
	}
	if cfg.UserAgent != "" {
		a.xtreamOpts = append(a.xtreamOpts, xtream.WithUserAgent(cfg.UserAgent))
	}

	if cfg.ProxyEnabled {
		if err := a.wireProxies(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	var subs subscription.Source
	if cfg.SubscriptionEnabled() {
		subs = a.wireSubscriptions()
	}

	a.agg = &aggregate.Aggregator{
		Orchestrator: &aggregate.Orchestrator{
			NewClient: aggregate.XtreamFactory(a.xtreamOpts...),
			Policy: retry.Policy{
				MaxAttempts: cfg.MaxAttempts,
				BaseDelay:   cfg.RetryBaseDelay,
				Jitter:      cfg.RetryJitter,
			},
			Timeout:       cfg.RequestTimeout,
			MaxConcurrent: cfg.MaxConcurrentProviders,
			Proxies:       a.pool,
			HTTP:          httpclient.WithTimeout(cfg.RequestTimeout),
			Log:           log.WithField("component", "orchestrator"),
		},
		Subscriptions: subs,
		Normalizer: normalize.New(normalize.Options{
			RegionTags: cfg.NormalizeRegionTags,
			Separator:  cfg.NormalizeSeparator,
		}),
		Lang: cfg.Language(),
		Log:  log.WithField("component", "aggregator"),
	}
	return a, nil
}

func (a *app) wireProxies(ctx context.Context) error {
	a.pool = proxypool.NewPool(nil)
	plog := a.log.WithField("component", "proxypool")
	var store proxypool.Store
	if a.cfg.ProxyDB != "" {
		s, err := proxypool.OpenSQLiteStore(a.cfg.ProxyDB)
		if err != nil {
			return fmt.Errorf("proxy db: %w", err)
		}
		a.store = s
		store = s
	}
	r := &proxypool.Refresher{
		Source: &proxypool.ListSource{
			URLs: a.cfg.ProxyListURLs,
			HTTP: httpclient.Default(),
			Log:  plog,
		},
		Pool:     a.pool,
		Store:    store,
		Interval: a.cfg.ProxyRefreshInterval,
		Log:      plog,
		OnRefresh: func(size int, err error) {
			metrics.ProxyPoolSize.Set(float64(size))
		},
	}
	r.Restore(ctx)
	metrics.ProxyPoolSize.Set(float64(a.pool.Len()))
	if len(a.cfg.ProxyListURLs) > 0 {
		a.refresher = r
	}
	a.health.Add("proxy_pool", false, health.ProxyPool(a.pool))
	return nil
}

func (a *app) wireSubscriptions() subscription.Source {
	slog := a.log.WithField("component", "subscription")
	api := subscription.NewAPISource(a.cfg.SubscriptionAPIURL, a.cfg.SubscriptionAPIKey, slog)
	api.Timeout = a.cfg.SubscriptionTimeout
	a.health.Add("subscription_api", false, health.Endpoint(httpclient.WithTimeout(a.cfg.SubscriptionTimeout), api.BaseURL+"/subscriptions"))
	if a.cfg.RedisURL == "" {
		return api
	}
	rc, err := subscription.NewRedisCache(a.cfg.RedisURL)
	if err != nil {
		slog.WithError(err).Warn("redis cache disabled")
		return api
	}
	a.cache = rc
	a.health.Add("redis", false, health.Ping(rc))
	return subscription.NewCachedSource(api, rc, a.cfg.SubscriptionAPIKey, a.cfg.SubscriptionCacheTTL, slog)
}

// startBackground runs the proxy refresher until ctx ends.
func (a *app) startBackground(ctx context.Context) {
	if a.refresher != nil {
		go a.refresher.Run(ctx)
	}
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.WithError(err).Warn("close proxy db")
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.WithError(err).Warn("close redis")
		}
	}
}
