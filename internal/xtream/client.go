// Package xtream is a client for the Xtream-Codes player_api.php protocol.
package xtream

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/snapetech/iptvmerge/internal/httpclient"
	"github.com/snapetech/iptvmerge/internal/provider"
	"github.com/snapetech/iptvmerge/internal/retry"
	"github.com/snapetech/iptvmerge/internal/safeurl"
)

var (
	// ErrUnreachable covers transport failures, timeouts and 408/429/5xx answers.
	ErrUnreachable = errors.New("provider unreachable")
	// ErrProtocol covers other non-200 answers and bodies that are not the expected JSON.
	ErrProtocol = errors.New("provider protocol error")
)

// DefaultUserAgent is sent when no user agent is configured. Some panels
// reject requests without a browser-looking agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

const maxBody = 64 << 20

// StatusError is a non-200 answer. It unwraps to ErrUnreachable or ErrProtocol.
type StatusError struct {
	Action string
	Code   int
	After  time.Duration // Retry-After on 429/503
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d %s", e.Action, e.Code, http.StatusText(e.Code))
}

func (e *StatusError) Unwrap() error {
	if retryableStatus(e.Code) {
		return ErrUnreachable
	}
	return ErrProtocol
}

// RetryAfter reports the server's wait hint.
func (e *StatusError) RetryAfter() time.Duration { return e.After }

// retryableStatus returns true for 429, 423, 408, 5xx.
func retryableStatus(code int) bool {
	if code == 429 || code == 423 || code == 408 {
		return true
	}
	return code >= 500 && code < 600
}

// Client talks to one provider account.
type Client struct {
	Provider  provider.Provider
	HTTP      *http.Client
	UserAgent string
	Timeout   time.Duration // per call; 0 = no extra deadline beyond HTTP.Timeout
	HostSem   *httpclient.HostSemaphore
	Limiter   *httpclient.HostLimiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the shared default transport, e.g. with a proxied one.
func WithHTTPClient(c *http.Client) Option { return func(x *Client) { x.HTTP = c } }

// WithUserAgent overrides DefaultUserAgent.
func WithUserAgent(ua string) Option { return func(x *Client) { x.UserAgent = ua } }

// WithTimeout bounds each call; 0 leaves only the HTTP client's own timeout.
func WithTimeout(d time.Duration) Option { return func(x *Client) { x.Timeout = d } }

// WithHostLimits shares per-host concurrency and pacing across clients,
// replacing the process-wide defaults. A nil argument disables that limit.
func WithHostLimits(sem *httpclient.HostSemaphore, lim *httpclient.HostLimiter) Option {
	return func(x *Client) {
		x.HostSem = sem
		x.Limiter = lim
	}
}

// NewClient returns a client for p using the shared default HTTP client.
func NewClient(p provider.Provider, opts ...Option) *Client {
	c := &Client{
		Provider:  p,
		UserAgent: DefaultUserAgent,
		Timeout:   httpclient.DefaultTimeout,
		HostSem:   httpclient.GlobalHostSem,
		Limiter:   httpclient.GlobalHostLimiter,
	}
	for _, o := range opts {
		o(c)
	}
	if c.HTTP == nil {
		c.HTTP = httpclient.Default()
	}
	return c
}

// get performs one player_api.php call and returns the decoded body bytes.
func (c *Client) get(ctx context.Context, action string, extra url.Values) ([]byte, error) {
	label := action
	if label == "" {
		label = "auth"
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	server := c.Provider.Server
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx, server); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrUnreachable, label, err)
		}
	}
	if c.HostSem != nil {
		release, err := c.HostSem.Acquire(ctx, server)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrUnreachable, label, err)
		}
		defer release()
	}

	apiURL := c.Provider.APIURL(action, extra)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProtocol, label, err)
	}
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, br")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		// url.Error carries the full request URL; keep credentials out of it.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s %s: %v", ErrUnreachable, label, safeurl.Redact(apiURL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{
			Action: label,
			Code:   resp.StatusCode,
			After:  retry.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Minute),
		}
	}

	body, err := decodeBody(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read body: %v", ErrUnreachable, label, err)
	}
	return body, nil
}

func decodeBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "br":
		r = brotli.NewReader(resp.Body)
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}
	return io.ReadAll(io.LimitReader(r, maxBody))
}

// decodeEntries splits a JSON array body into its entries.
// Panels answer errors with an object or an HTML page and 200; both are protocol errors.
func decodeEntries(action string, body []byte) ([]json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "[") {
		return nil, fmt.Errorf("%w: %s: expected JSON array, got %s", ErrProtocol, action, snippet(trimmed))
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProtocol, action, err)
	}
	return entries, nil
}

// unmarshalNumbers is json.Unmarshal with numbers kept as json.Number,
// so large or fractional ids survive untouched.
func unmarshalNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func snippet(s string) string {
	if s == "" {
		return "empty body"
	}
	if len(s) > 40 {
		s = s[:40] + "..."
	}
	return strconv.Quote(s)
}

// idString renders a JSON id that panels send as a number or a string.
func idString(v any) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	}
	return ""
}
