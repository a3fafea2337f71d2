package safeurl

import (
	"net/url"
	"strings"
)

// IsHTTPOrHTTPS returns true if u is a valid URL with scheme http or https.
// Used to reject file://, ftp://, and other schemes that could lead to SSRF or local file access.
func IsHTTPOrHTTPS(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	s := parsed.Scheme
	return s == "http" || s == "https"
}

// Origin returns scheme://host[:port] for u, lower-casing the scheme and host.
// Returns "" when u has no scheme or host.
func Origin(u *url.URL) string {
	if u == nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

// Redact masks credentials in a URL string so it can be logged or returned in
// an error list: the password query parameter, userinfo password, and the
// password segment of Xtream /live/, /movie/ and /series/ paths.
// Strings that do not parse are returned with everything after '?' dropped.
func Redact(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		if i := strings.IndexByte(raw, '?'); i >= 0 {
			return raw[:i]
		}
		return raw
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
	}
	q := u.Query()
	if q.Has("password") {
		q.Set("password", "xxxxx")
		u.RawQuery = q.Encode()
	}
	parts := strings.Split(u.Path, "/")
	if len(parts) >= 5 {
		switch parts[1] {
		case "live", "movie", "series":
			parts[3] = "xxxxx"
			u.Path = strings.Join(parts, "/")
			u.RawPath = ""
		}
	}
	return u.String()
}
