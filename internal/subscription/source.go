// Package subscription discovers provider credentials from a subscription
// management API.
package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/snapetech/iptvmerge/internal/httpclient"
	"github.com/snapetech/iptvmerge/internal/logging"
	"github.com/snapetech/iptvmerge/internal/provider"
)

// ErrSource is returned when the subscription list itself cannot be obtained.
var ErrSource = errors.New("subscription source error")

// DefaultTimeout bounds each API call.
const DefaultTimeout = 10 * time.Second

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36"

// Source yields the providers the deployment is subscribed to.
type Source interface {
	Providers(ctx context.Context) ([]provider.Provider, error)
}

// APISource reads GET {BaseURL}/subscriptions then GET {BaseURL}/subscription/{hash}.
type APISource struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
	Timeout time.Duration
	Log     *logrus.Entry
}

// NewAPISource returns an APISource with default timeout and client.
func NewAPISource(baseURL, apiKey string, log *logrus.Entry) *APISource {
	return &APISource{
		BaseURL: strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		APIKey:  apiKey,
		Timeout: DefaultTimeout,
		Log:     log,
	}
}

type listEntry struct {
	Hash string `json:"hash"`
}

type detail struct {
	Server   string `json:"server"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Providers lists subscriptions and resolves each one. Entries whose detail
// call fails or that lack server, username or password are skipped. Only a
// failed or malformed list call is an error.
func (s *APISource) Providers(ctx context.Context) ([]provider.Provider, error) {
	log := logging.OrDiscard(s.Log)
	var list []listEntry
	body, err := s.get(ctx, "/subscriptions")
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", ErrSource, err)
	}
	if !strings.HasPrefix(strings.TrimSpace(string(body)), "[") {
		return nil, fmt.Errorf("%w: list: expected JSON array", ErrSource)
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("%w: list: %v", ErrSource, err)
	}
	log.WithField("subscriptions", len(list)).Debug("subscription list fetched")

	out := make([]provider.Provider, 0, len(list))
	seen := make(map[string]bool)
	for _, e := range list {
		if e.Hash == "" {
			log.Warn("subscription entry without hash skipped")
			continue
		}
		b, err := s.get(ctx, "/subscription/"+url.PathEscape(e.Hash))
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrSource, ctx.Err())
			}
			log.WithError(err).WithField("hash", e.Hash).Warn("subscription detail failed")
			continue
		}
		var d detail
		if err := json.Unmarshal(b, &d); err != nil {
			log.WithError(err).WithField("hash", e.Hash).Warn("subscription detail malformed")
			continue
		}
		if d.Server == "" || d.Username == "" || d.Password == "" {
			log.WithField("hash", e.Hash).Warn("incomplete subscription data")
			continue
		}
		p, err := provider.New(d.Server, d.Username, d.Password)
		if err != nil {
			log.WithError(err).WithField("hash", e.Hash).Warn("subscription server invalid")
			continue
		}
		key := p.Server + "\x00" + p.Username
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out, nil
}

func (s *APISource) get(ctx context.Context, path string) ([]byte, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-Key", s.APIKey)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	client := s.HTTP
	if client == nil {
		client = httpclient.Default()
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 4<<20))
}
