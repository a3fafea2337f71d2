package proxypool

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/snapetech/iptvmerge/internal/logging"
)

// DefaultInterval is how often Run refreshes the pool.
const DefaultInterval = 30 * time.Minute

// Store persists snapshots across restarts.
type Store interface {
	Save(ctx context.Context, proxies []Proxy) error
	Load(ctx context.Context) ([]Proxy, error)
}

// Refresher is the single writer of a Pool.
type Refresher struct {
	Source   Source
	Pool     *Pool
	Store    Store // optional
	Interval time.Duration
	Log      *logrus.Entry
	// OnRefresh is called after every refresh attempt with the pool size and error.
	OnRefresh func(size int, err error)
}

// Restore seeds the pool from Store when the pool is empty.
func (r *Refresher) Restore(ctx context.Context) {
	if r.Store == nil || r.Pool.Len() > 0 {
		return
	}
	log := logging.OrDiscard(r.Log)
	saved, err := r.Store.Load(ctx)
	if err != nil {
		log.WithError(err).Warn("proxy snapshot load failed")
		return
	}
	if len(saved) > 0 {
		r.Pool.Replace(saved)
		log.WithField("proxies", len(saved)).Info("proxy pool restored from snapshot")
	}
}

// Refresh fetches a new list once. An error or an empty list keeps the current snapshot.
func (r *Refresher) Refresh(ctx context.Context) error {
	log := logging.OrDiscard(r.Log)
	proxies, err := r.Source.Fetch(ctx)
	if err == nil && len(proxies) == 0 {
		log.Warn("proxy source returned no proxies; keeping previous pool")
	}
	if err == nil && len(proxies) > 0 {
		r.Pool.Replace(proxies)
		log.WithField("proxies", len(proxies)).Info("proxy pool refreshed")
		if r.Store != nil {
			if serr := r.Store.Save(ctx, proxies); serr != nil {
				log.WithError(serr).Warn("proxy snapshot save failed")
			}
		}
	}
	if err != nil {
		log.WithError(err).WithField("kept", r.Pool.Len()).Warn("proxy refresh failed; keeping previous pool")
	}
	if r.OnRefresh != nil {
		r.OnRefresh(r.Pool.Len(), err)
	}
	return err
}

// Run restores, refreshes immediately, then refreshes every Interval until ctx ends.
func (r *Refresher) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	r.Restore(ctx)
	_ = r.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = r.Refresh(ctx)
		}
	}
}
