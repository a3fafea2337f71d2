// Package provider resolves Xtream-Codes connection strings into provider
// descriptors (server origin + credentials).
package provider

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/snapetech/iptvmerge/internal/safeurl"
)

// ErrInvalidURL is returned when a connection string cannot be turned into a Provider.
var ErrInvalidURL = errors.New("invalid provider URL")

// Origin records where a provider descriptor came from.
type Origin string

const (
	OriginSubscription Origin = "subscription-api"
	OriginManual       Origin = "manual"
)

// Provider is one IPTV panel account. Server is scheme://host[:port] and is the
// identity key: two descriptors with the same Server are the same provider.
type Provider struct {
	Server   string `json:"server"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Parse resolves a panel URL (player_api.php or any path) or a get.php playlist
// URL carrying username and password query parameters. Missing or empty
// credentials are rejected.
func Parse(raw string) (Provider, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Provider{}, fmt.Errorf("%w: empty string", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Provider{}, fmt.Errorf("%w: %s: %v", ErrInvalidURL, safeurl.Redact(raw), err)
	}
	if !safeurl.IsHTTPOrHTTPS(raw) {
		return Provider{}, fmt.Errorf("%w: %s: scheme must be http or https", ErrInvalidURL, safeurl.Redact(raw))
	}
	server := safeurl.Origin(u)
	if server == "" {
		return Provider{}, fmt.Errorf("%w: %s: missing host", ErrInvalidURL, safeurl.Redact(raw))
	}
	q := u.Query()
	user, pass := q.Get("username"), q.Get("password")
	if user == "" || pass == "" {
		return Provider{}, fmt.Errorf("%w: %s: missing username or password", ErrInvalidURL, safeurl.Redact(raw))
	}
	return Provider{Server: server, Username: user, Password: pass}, nil
}

// New builds a Provider from already-separated fields (e.g. a subscription API
// record). server may carry a path or trailing slash; only the origin is kept.
func New(server, username, password string) (Provider, error) {
	server = strings.TrimSpace(server)
	if !strings.Contains(server, "://") {
		server = "http://" + server
	}
	u, err := url.Parse(server)
	if err != nil || !safeurl.IsHTTPOrHTTPS(server) || safeurl.Origin(u) == "" {
		return Provider{}, fmt.Errorf("%w: bad server %q", ErrInvalidURL, server)
	}
	if username == "" || password == "" {
		return Provider{}, fmt.Errorf("%w: %s: missing username or password", ErrInvalidURL, safeurl.Origin(u))
	}
	return Provider{Server: safeurl.Origin(u), Username: username, Password: password}, nil
}

// Hostname returns the host of Server without port.
func (p Provider) Hostname() string {
	u, err := url.Parse(p.Server)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// StreamURL returns the MPEG-TS live URL for channelID on this provider.
func (p Provider) StreamURL(channelID string) string {
	return fmt.Sprintf("%s/live/%s/%s/%s.ts", p.Server,
		url.PathEscape(p.Username), url.PathEscape(p.Password), url.PathEscape(channelID))
}

// APIURL returns player_api.php with credentials and optional action/extra params.
func (p Provider) APIURL(action string, extra url.Values) string {
	q := url.Values{}
	q.Set("username", p.Username)
	q.Set("password", p.Password)
	if action != "" {
		q.Set("action", action)
	}
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	return p.Server + "/player_api.php?" + q.Encode()
}

// String never includes the password.
func (p Provider) String() string {
	return p.Username + "@" + p.Server
}
