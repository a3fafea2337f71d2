package aggregate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/snapetech/iptvmerge/internal/catalog"
	"github.com/snapetech/iptvmerge/internal/provider"
	"github.com/snapetech/iptvmerge/internal/proxypool"
	"github.com/snapetech/iptvmerge/internal/retry"
	"github.com/snapetech/iptvmerge/internal/subscription"
	"github.com/snapetech/iptvmerge/internal/xtream"
)

var fastPolicy = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}

type fakeClient struct {
	cats    []xtream.Category
	streams []xtream.Stream
	err     error
	delay   time.Duration
	calls   *atomic.Int32
}

func (f *fakeClient) LiveCategories(ctx context.Context) ([]xtream.Category, error) {
	return f.cats, nil
}

func (f *fakeClient) LiveStreams(ctx context.Context) ([]xtream.Stream, error) {
	if f.calls != nil {
		f.calls.Add(1)
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.streams, nil
}

type fakeProviders map[string]*fakeClient

func (f fakeProviders) factory(p provider.Provider, _ *http.Client) ProviderClient {
	if c, ok := f[p.Server]; ok {
		return c
	}
	return &fakeClient{err: xtream.ErrUnreachable}
}

func manualURL(server string) string {
	return server + "/player_api.php?username=u&password=p"
}

func newAggregator(fp fakeProviders) *Aggregator {
	return &Aggregator{
		Orchestrator: &Orchestrator{NewClient: fp.factory, Policy: fastPolicy},
		Lang:         language.Und,
	}
}

func TestBuild_crossProviderMerge(t *testing.T) {
	fp := fakeProviders{
		"http://a.example": {
			cats:    []xtream.Category{{ID: "1", Name: "Sport"}},
			streams: []xtream.Stream{{ID: "10", Name: "Sport 1 HD", CategoryID: "1"}},
		},
		"http://b.example": {
			cats:    []xtream.Category{{ID: "9", Name: "Sports"}},
			streams: []xtream.Stream{{ID: "77", Name: "sport1", CategoryID: "9", Icon: "http://logo/s1.png"}},
		},
	}
	cat, err := newAggregator(fp).Build(context.Background(), Request{
		ManualURLs: []string{manualURL("http://a.example"), manualURL("http://b.example")},
	})
	require.NoError(t, err)
	assert.Empty(t, cat.Errors)
	assert.Equal(t, 2, cat.TotalRawChannels)
	require.Equal(t, 1, cat.CategoryCount)

	chans := cat.Channels("Sport")
	require.Len(t, chans, 1)
	ch := chans[0]
	assert.Equal(t, "Sport 1 HD", ch.Name)
	require.NotNil(t, ch.Logo)
	assert.Equal(t, "http://logo/s1.png", *ch.Logo)
	require.Len(t, ch.Sources, 2)
	assert.Equal(t, "10", ch.Sources[0].ChannelID)
	assert.Equal(t, "http://a.example", ch.Sources[0].Provider.Server)
	assert.Equal(t, "77", ch.Sources[1].ChannelID)
	assert.Equal(t, "http://b.example", ch.Sources[1].Provider.Server)
}

func TestBuild_mergeOrderIsSubmissionOrder(t *testing.T) {
	fp := fakeProviders{
		"http://slow.example": {
			cats:    []xtream.Category{{ID: "1", Name: "Slow Cat"}},
			streams: []xtream.Stream{{ID: "1", Name: "News 24", CategoryID: "1"}},
			delay:   30 * time.Millisecond,
		},
		"http://fast.example": {
			cats:    []xtream.Category{{ID: "1", Name: "Fast Cat"}},
			streams: []xtream.Stream{{ID: "2", Name: "NEWS 24 HD", CategoryID: "1"}},
		},
	}
	cat, err := newAggregator(fp).Build(context.Background(), Request{
		ManualURLs: []string{manualURL("http://slow.example"), manualURL("http://fast.example")},
	})
	require.NoError(t, err)
	require.Len(t, cat.Categories, 1)
	assert.Equal(t, "Slow Cat", cat.Categories[0].Name)
	assert.Equal(t, "News 24", cat.Categories[0].Channels[0].Name)
	assert.Len(t, cat.Categories[0].Channels[0].Sources, 2)
}

func TestBuild_failingProviderBecomesErrorEntry(t *testing.T) {
	var calls atomic.Int32
	fp := fakeProviders{
		"http://good.example": {
			cats:    []xtream.Category{{ID: "1", Name: "News"}},
			streams: []xtream.Stream{{ID: "1", Name: "CNN", CategoryID: "1"}},
		},
		"http://bad.example": {err: xtream.ErrProtocol, calls: &calls},
	}
	cat, err := newAggregator(fp).Build(context.Background(), Request{
		ManualURLs: []string{manualURL("http://bad.example"), manualURL("http://good.example")},
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	require.Len(t, cat.Errors, 1)
	assert.Equal(t, "http://bad.example", cat.Errors[0].Provider)
	assert.Equal(t, provider.OriginManual, cat.Errors[0].Source)
	assert.Contains(t, cat.Errors[0].Message, "retries exhausted")
	assert.Len(t, cat.Channels("News"), 1)
}

func TestBuild_invalidAndBlankManualURLs(t *testing.T) {
	fp := fakeProviders{
		"http://a.example": {streams: []xtream.Stream{{ID: "1", Name: "One"}}},
	}
	cat, err := newAggregator(fp).Build(context.Background(), Request{
		ManualURLs: []string{
			"  ",
			"http://nouser.example/player_api.php?password=topsecret",
			"http://a.example/get.php?username=u&password=p&type=m3u_plus",
			"",
		},
	})
	require.NoError(t, err)
	require.Len(t, cat.Errors, 1)
	assert.Equal(t, provider.OriginManual, cat.Errors[0].Source)
	assert.NotContains(t, cat.Errors[0].Provider, "topsecret")
	assert.NotContains(t, cat.Errors[0].Message, "topsecret")
	assert.Len(t, cat.Channels(catalog.Uncategorized), 1)
}

type stubSource struct {
	ps  []provider.Provider
	err error
}

func (s stubSource) Providers(context.Context) ([]provider.Provider, error) { return s.ps, s.err }

func TestBuild_subscriptionFailureStillRunsManual(t *testing.T) {
	fp := fakeProviders{
		"http://a.example": {streams: []xtream.Stream{{ID: "1", Name: "One"}}},
	}
	a := newAggregator(fp)
	a.Subscriptions = stubSource{err: subscription.ErrSource}
	cat, err := a.Build(context.Background(), Request{ManualURLs: []string{manualURL("http://a.example")}})
	require.NoError(t, err)
	require.Len(t, cat.Errors, 1)
	assert.Equal(t, SubscriptionRef, cat.Errors[0].Provider)
	assert.Equal(t, provider.OriginSubscription, cat.Errors[0].Source)
	assert.Equal(t, 1, cat.ChannelCount())
}

func TestBuild_subscriptionProvidersFirst(t *testing.T) {
	fp := fakeProviders{
		"http://sub.example":    {streams: []xtream.Stream{{ID: "5", Name: "Nova"}}},
		"http://manual.example": {streams: []xtream.Stream{{ID: "6", Name: "NOVA"}}},
	}
	a := newAggregator(fp)
	a.Subscriptions = stubSource{ps: []provider.Provider{{Server: "http://sub.example", Username: "s", Password: "s"}}}
	cat, err := a.Build(context.Background(), Request{ManualURLs: []string{
		manualURL("http://manual.example"),
		manualURL("http://manual.example"),
	}})
	require.NoError(t, err)
	ch := cat.Channels(catalog.Uncategorized)
	require.Len(t, ch, 1)
	assert.Equal(t, "Nova", ch[0].Name)
	require.Len(t, ch[0].Sources, 2)
	assert.Equal(t, provider.OriginSubscription, ch[0].Sources[0].Origin)
	assert.Equal(t, 2, cat.TotalRawChannels)
}

func TestBuild_cancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newAggregator(fakeProviders{}).Build(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuild_empty(t *testing.T) {
	cat, err := newAggregator(fakeProviders{}).Build(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, 0, cat.CategoryCount)
	assert.Empty(t, cat.Errors)
}

func TestRawChannels(t *testing.T) {
	tg := Target{Provider: provider.Provider{Server: "http://a"}, Origin: provider.OriginManual}
	got := RawChannels(tg,
		[]xtream.Category{{ID: "1", Name: "News"}, {ID: "", Name: "Ghost"}, {ID: "3", Name: ""}},
		[]xtream.Stream{
			{ID: "1", Name: "A", CategoryID: "1"},
			{ID: "2", Name: "B", CategoryID: "404"},
			{ID: "3", Name: "C"},
			{ID: "4", Name: "D", CategoryID: "3"},
			{ID: "", Name: "no id"},
			{ID: "6", Name: ""},
		})
	require.Len(t, got, 4)
	assert.Equal(t, "News", got[0].Category)
	assert.Equal(t, catalog.Uncategorized, got[1].Category)
	assert.Equal(t, catalog.Uncategorized, got[2].Category)
	assert.Equal(t, catalog.Uncategorized, got[3].Category)
	assert.Equal(t, provider.OriginManual, got[0].Origin)
}

func TestFetch_maxConcurrent(t *testing.T) {
	var active, peak atomic.Int32
	var mu sync.Mutex
	factory := func(p provider.Provider, _ *http.Client) ProviderClient {
		return &trackingClient{active: &active, peak: &peak, mu: &mu}
	}
	o := &Orchestrator{NewClient: factory, Policy: fastPolicy, MaxConcurrent: 2}
	targets := make([]Target, 6)
	for i := range targets {
		targets[i] = Target{Provider: provider.Provider{Server: "http://p" + string(rune('a'+i))}}
	}
	res := o.Fetch(context.Background(), targets)
	require.Len(t, res, 6)
	for i, r := range res {
		assert.NoError(t, r.Err)
		assert.Equal(t, targets[i], r.Target)
		assert.Equal(t, 1, r.Attempts)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

type trackingClient struct {
	active, peak *atomic.Int32
	mu           *sync.Mutex
}

func (c *trackingClient) LiveCategories(context.Context) ([]xtream.Category, error) { return nil, nil }

func (c *trackingClient) LiveStreams(context.Context) ([]xtream.Stream, error) {
	n := c.active.Add(1)
	c.mu.Lock()
	if n > c.peak.Load() {
		c.peak.Store(n)
	}
	c.mu.Unlock()
	time.Sleep(10 * time.Millisecond)
	c.active.Add(-1)
	return []xtream.Stream{{ID: "1", Name: "x"}}, nil
}

func TestFetch_cancelIsTerminal(t *testing.T) {
	var calls atomic.Int32
	fp := fakeProviders{"http://a": {delay: time.Hour, calls: &calls}}
	o := &Orchestrator{NewClient: fp.factory, Policy: retry.Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	res := o.Fetch(ctx, []Target{{Provider: provider.Provider{Server: "http://a"}}})
	require.Error(t, res[0].Err)
	assert.Equal(t, int32(1), calls.Load())
}

// xtreamPanel serves a minimal player_api.php. garbage makes get_live_streams answer HTML.
func xtreamPanel(t *testing.T, garbage bool, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("action") {
		case "get_live_categories":
			w.Write([]byte(`[{"category_id":"1","category_name":"Zprávy"},{"category_id":"2","category_name":"Sport"}]`))
		case "get_live_streams":
			if hits != nil {
				hits.Add(1)
			}
			if garbage {
				w.Write([]byte(`<html>maintenance</html>`))
				return
			}
			w.Write([]byte(`[{"stream_id":10,"name":"ČT24 HD","category_id":"1"},{"stream_id":"11","name":"Sport 1","category_id":2},{"stream_id":12,"name":""}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBuild_garbageProviderRetriedAndExcluded(t *testing.T) {
	var hits atomic.Int32
	bad := xtreamPanel(t, true, &hits)
	good := xtreamPanel(t, false, nil)

	a := &Aggregator{
		Orchestrator: &Orchestrator{NewClient: XtreamFactory(), Policy: fastPolicy, HTTP: good.Client()},
		Lang:         language.Czech,
	}
	cat, err := a.Build(context.Background(), Request{ManualURLs: []string{manualURL(bad.URL), manualURL(good.URL)}})
	require.NoError(t, err)

	assert.Equal(t, int32(3), hits.Load())
	require.Len(t, cat.Errors, 1)
	assert.Equal(t, bad.URL, cat.Errors[0].Provider)
	assert.Contains(t, cat.Errors[0].Message, "expected JSON array")

	assert.Equal(t, 2, cat.TotalRawChannels)
	assert.Equal(t, []string{"Sport", "Zprávy"}, categoryNames(cat))
	require.Len(t, cat.Channels("Zprávy"), 1)
	assert.Equal(t, "ČT24 HD", cat.Channels("Zprávy")[0].Name)
	assert.Equal(t, good.URL+"/live/u/p/10.ts", cat.Channels("Zprávy")[0].Sources[0].StreamURL())
}

func TestBuild_malformedEntryKeepsProvider(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("action") {
		case "get_live_categories":
			w.Write([]byte(`[{"category_id":"1","category_name":"News"}]`))
		case "get_live_streams":
			hits.Add(1)
			w.Write([]byte(`[{"stream_id":1,"name":"CNN","category_id":"1"},{"stream_id":2,"name":123,"category_id":"1"}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	a := &Aggregator{
		Orchestrator: &Orchestrator{NewClient: XtreamFactory(), Policy: fastPolicy, HTTP: srv.Client()},
		Lang:         language.English,
	}
	cat, err := a.Build(context.Background(), Request{ManualURLs: []string{manualURL(srv.URL)}})
	require.NoError(t, err)

	assert.Empty(t, cat.Errors)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, 1, cat.TotalRawChannels)
	require.Len(t, cat.Channels("News"), 1)
	assert.Equal(t, "CNN", cat.Channels("News")[0].Name)
}

func TestFetch_routesThroughProxy(t *testing.T) {
	var sawAbsolute atomic.Bool
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.IsAbs() && r.URL.Host == "panel.invalid:8080" {
			sawAbsolute.Store(true)
		}
		if r.URL.Query().Get("action") == "get_live_streams" {
			w.Write([]byte(`[{"stream_id":1,"name":"Via Proxy"}]`))
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer proxySrv.Close()

	px, err := proxypool.ParseProxy(strings.TrimPrefix(proxySrv.URL, "http://"), proxypool.KindHTTP)
	require.NoError(t, err)
	o := &Orchestrator{
		NewClient: XtreamFactory(),
		Policy:    retry.Policy{MaxAttempts: 1},
		Timeout:   5 * time.Second,
		Proxies:   proxypool.NewPool([]proxypool.Proxy{px}),
	}
	res := o.Fetch(context.Background(), []Target{{Provider: provider.Provider{Server: "http://panel.invalid:8080", Username: "u", Password: "p"}}})
	require.NoError(t, res[0].Err)
	require.Len(t, res[0].Channels, 1)
	assert.Equal(t, "Via Proxy", res[0].Channels[0].Name)
	assert.True(t, sawAbsolute.Load())
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", outcome(nil))
	assert.Equal(t, "unreachable", outcome(xtream.ErrUnreachable))
	assert.Equal(t, "protocol", outcome(xtream.ErrProtocol))
	assert.Equal(t, "canceled", outcome(context.Canceled))
	assert.Equal(t, "error", outcome(errors.New("x")))
	assert.False(t, Retryable(context.Canceled))
	assert.True(t, Retryable(context.DeadlineExceeded))
}

func categoryNames(c *catalog.Catalog) []string {
	out := make([]string, len(c.Categories))
	for i, cat := range c.Categories {
		out[i] = cat.Name
	}
	return out
}
