package proxypool

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/snapetech/iptvmerge/internal/httpclient"
	"github.com/snapetech/iptvmerge/internal/logging"
	"github.com/snapetech/iptvmerge/internal/safeurl"
)

// Source produces a fresh proxy list.
type Source interface {
	Fetch(ctx context.Context) ([]Proxy, error)
}

// ListSource downloads plain-text proxy lists, one "host:port" or
// "kind://host:port" per line. Blank lines and lines starting with '#' are skipped.
type ListSource struct {
	URLs        []string
	DefaultKind Kind // for lines without a scheme; "" = http
	HTTP        *http.Client
	Log         *logrus.Entry
}

// Fetch merges all lists, dropping duplicates and unparsable lines. A list
// that fails to download is skipped; Fetch fails only when every list failed.
func (s *ListSource) Fetch(ctx context.Context) ([]Proxy, error) {
	log := logging.OrDiscard(s.Log)
	client := s.HTTP
	if client == nil {
		client = httpclient.Default()
	}
	def := s.DefaultKind
	if def == "" {
		def = KindHTTP
	}
	seen := make(map[string]bool)
	var out []Proxy
	var lastErr error
	okLists := 0
	for _, u := range s.URLs {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if !safeurl.IsHTTPOrHTTPS(u) {
			lastErr = fmt.Errorf("proxy list %s: not http(s)", u)
			log.WithError(lastErr).Warn("proxy list skipped")
			continue
		}
		got, skipped, err := fetchList(ctx, client, u, def)
		if err != nil {
			lastErr = err
			log.WithError(err).WithField("list", u).Warn("proxy list fetch failed")
			continue
		}
		okLists++
		if skipped > 0 {
			log.WithFields(logrus.Fields{"list": u, "skipped": skipped}).Debug("proxy list had unparsable lines")
		}
		for _, p := range got {
			if seen[p.URL()] {
				continue
			}
			seen[p.URL()] = true
			out = append(out, p)
		}
	}
	if okLists == 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("no proxy list urls configured")
		}
		return nil, lastErr
	}
	return out, nil
}

func fetchList(ctx context.Context, client *http.Client, u string, def Kind) ([]Proxy, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("proxy list %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("proxy list %s: %s", u, resp.Status)
	}
	return parseList(io.LimitReader(resp.Body, 8<<20), def)
}

func parseList(r io.Reader, def Kind) ([]Proxy, int, error) {
	var out []Proxy
	skipped := 0
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p, err := ParseProxy(line, def)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, p)
	}
	return out, skipped, sc.Err()
}
