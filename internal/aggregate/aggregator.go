package aggregate

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/language"

	"github.com/snapetech/iptvmerge/internal/catalog"
	"github.com/snapetech/iptvmerge/internal/logging"
	"github.com/snapetech/iptvmerge/internal/metrics"
	"github.com/snapetech/iptvmerge/internal/normalize"
	"github.com/snapetech/iptvmerge/internal/provider"
	"github.com/snapetech/iptvmerge/internal/safeurl"
	"github.com/snapetech/iptvmerge/internal/subscription"
)

// SubscriptionRef is the error-list provider reference for a failed subscription lookup.
const SubscriptionRef = "subscription-api"

// Request is one aggregation batch.
type Request struct {
	ManualURLs []string `json:"manual_urls"`
}

// Aggregator turns subscriptions and connection strings into a catalog.
type Aggregator struct {
	Orchestrator  *Orchestrator
	Subscriptions subscription.Source // nil = manual URLs only
	Normalizer    *normalize.Normalizer
	Lang          language.Tag
	Log           *logrus.Entry
}

// Build runs one batch. Provider, URL and subscription failures become
// Catalog.Errors; the only error returned is ctx ending before the batch starts.
//
// Results are merged in submission order (subscription providers, then manual
// URLs as given), so the first-seen name, category and logo of a logical
// channel do not depend on which provider answered first.
func (a *Aggregator) Build(ctx context.Context, req Request) (*catalog.Catalog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	batch := uuid.NewString()
	log := logging.OrDiscard(a.Log).WithField("batch", batch)
	start := time.Now()

	var errs []catalog.ProviderError
	var targets []Target
	seen := make(map[provider.Provider]bool)
	add := func(p provider.Provider, origin provider.Origin) {
		if seen[p] {
			log.WithField("provider", p.Server).Debug("duplicate provider skipped")
			return
		}
		seen[p] = true
		targets = append(targets, Target{Provider: p, Origin: origin})
	}

	if a.Subscriptions != nil {
		ps, err := a.Subscriptions.Providers(ctx)
		if err != nil {
			log.WithError(err).Warn("subscription discovery failed")
			errs = append(errs, catalog.ProviderError{
				Provider: SubscriptionRef,
				Message:  err.Error(),
				Source:   provider.OriginSubscription,
			})
		}
		for _, p := range ps {
			add(p, provider.OriginSubscription)
		}
	}

	for _, raw := range req.ManualURLs {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		p, err := provider.Parse(raw)
		if err != nil {
			log.WithError(err).Warn("manual provider rejected")
			errs = append(errs, catalog.ProviderError{
				Provider: safeurl.Redact(raw),
				Message:  err.Error(),
				Source:   provider.OriginManual,
			})
			continue
		}
		add(p, provider.OriginManual)
	}

	log.WithField("providers", len(targets)).Info("batch started")
	results := a.Orchestrator.Fetch(ctx, targets)

	norm := a.Normalizer
	if norm == nil {
		norm = normalize.Default
	}
	m := catalog.NewMerger(norm.Key)
	total := 0
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			metrics.ProviderFailures.WithLabelValues(string(r.Target.Origin)).Inc()
			errs = append(errs, catalog.ProviderError{
				Provider: r.Target.Provider.Server,
				Message:  r.Err.Error(),
				Source:   r.Target.Origin,
			})
			continue
		}
		total += len(r.Channels)
		for _, ch := range r.Channels {
			m.Add(ch)
		}
	}

	cat := catalog.Build(m.Channels(), total, errs, a.Lang)
	metrics.CatalogChannels.Set(float64(cat.ChannelCount()))
	metrics.Batches.WithLabelValues(batchResult(len(targets), failed, len(errs))).Inc()
	log.WithFields(logrus.Fields{
		"raw_channels": total,
		"channels":     cat.ChannelCount(),
		"categories":   cat.CategoryCount,
		"errors":       len(errs),
		"failed":       failed,
		"duration_ms":  time.Since(start).Milliseconds(),
	}).Info("batch complete")
	return cat, nil
}

func batchResult(targets, failed, errs int) string {
	switch {
	case targets == 0 || failed == targets:
		return "empty"
	case errs > 0:
		return "partial"
	}
	return "ok"
}
