// Command iptv-merge merges live channels from many Xtream-Codes providers.
//
//	serve  Run the HTTP API (getChannels, getInfo, getEpg) with the proxy refresher
//	build  One-shot aggregation of connection strings; writes catalog JSON
//	probe  Check account status of each connection string and rank the live ones
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/snapetech/iptvmerge/internal/aggregate"
	"github.com/snapetech/iptvmerge/internal/config"
	"github.com/snapetech/iptvmerge/internal/logging"
	"github.com/snapetech/iptvmerge/internal/provider"
	"github.com/snapetech/iptvmerge/internal/safeurl"
	"github.com/snapetech/iptvmerge/internal/server"
	"github.com/snapetech/iptvmerge/internal/xtream"
)

func main() {
	_ = config.LoadEnvFile(".env")

	serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
	serveConfig := serveCmd.String("config", "", "YAML config file (env overrides it)")
	serveAddr := serveCmd.String("addr", "", "Listen address (default: IPTVMERGE_ADDR or :8080)")

	buildCmd := flag.NewFlagSet("build", flag.ExitOnError)
	buildConfig := buildCmd.String("config", "", "YAML config file (env overrides it)")
	buildURLs := buildCmd.String("urls", "", "Comma-separated Xtream connection strings")
	buildFile := buildCmd.String("file", "", "File with one connection string per line (# comments)")
	buildOut := buildCmd.String("out", "", "Write catalog JSON here instead of stdout")
	buildTimeout := buildCmd.Duration("timeout", 5*time.Minute, "Overall batch timeout")

	probeCmd := flag.NewFlagSet("probe", flag.ExitOnError)
	probeConfig := probeCmd.String("config", "", "YAML config file (env overrides it)")
	probeURLs := probeCmd.String("urls", "", "Comma-separated Xtream connection strings")
	probeFile := probeCmd.String("file", "", "File with one connection string per line (# comments)")
	probeTimeout := probeCmd.Duration("timeout", 60*time.Second, "Overall probe timeout")

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <serve|build|probe> [flags]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  serve  Run the HTTP API\n")
		fmt.Fprintf(os.Stderr, "  build  Aggregate -urls / -file once and write catalog JSON\n")
		fmt.Fprintf(os.Stderr, "  probe  Report account status per connection string\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "serve":
		_ = serveCmd.Parse(os.Args[2:])
		err = withApp(ctx, *serveConfig, func(a *app) error {
			if *serveAddr != "" {
				a.cfg.Addr = *serveAddr
			}
			return runServe(ctx, a)
		})

	case "build":
		_ = buildCmd.Parse(os.Args[2:])
		urls, rerr := readURLs(*buildURLs, *buildFile)
		if rerr != nil {
			fatal(rerr)
		}
		err = withApp(ctx, *buildConfig, func(a *app) error {
			bctx, cancel := context.WithTimeout(ctx, *buildTimeout)
			defer cancel()
			return runBuild(bctx, a, urls, *buildOut, os.Stdout)
		})

	case "probe":
		_ = probeCmd.Parse(os.Args[2:])
		urls, rerr := readURLs(*probeURLs, *probeFile)
		if rerr != nil {
			fatal(rerr)
		}
		if len(urls) == 0 {
			fatal(fmt.Errorf("no connection strings to probe; pass -urls or -file"))
		}
		err = withApp(ctx, *probeConfig, func(a *app) error {
			pctx, cancel := context.WithTimeout(ctx, *probeTimeout)
			defer cancel()
			return runProbe(pctx, a, urls, os.Stdout)
		})

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
	if err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "iptv-merge: %v\n", err)
	os.Exit(1)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load(), nil
	}
	return config.LoadFile(path)
}

func withApp(ctx context.Context, configPath string, fn func(*app) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	log := logging.New("iptv-merge", cfg.LogLevel, cfg.LogFormat)
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func runServe(ctx context.Context, a *app) error {
	a.startBackground(ctx)
	a.log.WithFields(logrus.Fields{
		"subscriptions": a.cfg.SubscriptionEnabled(),
		"proxies":       a.cfg.ProxyEnabled,
		"checks":        a.health.Names(),
	}).Info("starting api")
	srv := &server.Server{
		Addr:       a.cfg.Addr,
		Aggregator: a.agg,
		Panels:     server.XtreamPanels(a.xtreamOpts...),
		Health:     a.health,
		Log:        a.log.WithField("component", "api"),
	}
	return srv.Run(ctx)
}

// runBuild aggregates urls once. The catalog goes to out when set, else to w.
func runBuild(ctx context.Context, a *app, urls []string, out string, w io.Writer) error {
	if a.refresher != nil {
		if err := a.refresher.Refresh(ctx); err != nil {
			a.log.WithError(err).Warn("proxy refresh failed; building with restored pool")
		}
	}
	cat, err := a.agg.Build(ctx, aggregate.Request{ManualURLs: urls})
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}
	for _, e := range cat.Errors {
		a.log.WithFields(logrus.Fields{"provider": e.Provider, "source": e.Source}).Warn(e.Message)
	}
	if out != "" {
		if err := cat.WriteFile(out); err != nil {
			return err
		}
		a.log.WithFields(logrus.Fields{
			"path":       out,
			"channels":   cat.ChannelCount(),
			"categories": cat.CategoryCount,
			"errors":     len(cat.Errors),
		}).Info("catalog written")
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(cat)
}

// runProbe checks each account and prints one line per connection string,
// working accounts first by latency.
func runProbe(ctx context.Context, a *app, urls []string, w io.Writer) error {
	var providers []provider.Provider
	for _, raw := range urls {
		p, err := provider.Parse(raw)
		if err != nil {
			fmt.Fprintf(w, "%-8s %s  %v\n", "invalid", safeurl.Redact(raw), err)
			continue
		}
		providers = append(providers, p)
	}
	results := provider.ProbeAll(ctx, providers, xtream.FetchAccount(a.xtreamOpts...))
	ok := 0
	for _, r := range results {
		line := fmt.Sprintf("%-8s %s  %dms", r.Status, r.Provider.Server, r.LatencyMs)
		if r.Account != nil {
			line += fmt.Sprintf("  status=%s conns=%d/%d", r.Account.Status, r.Account.ActiveCons, r.Account.MaxConnections)
			if !r.Account.ExpiresAt.IsZero() {
				line += "  expires=" + r.Account.ExpiresAt.Format("2006-01-02")
			}
		}
		if r.Err != nil {
			line += "  " + r.Err.Error()
		}
		fmt.Fprintln(w, line)
		if r.Status == provider.StatusOK {
			ok++
		}
	}
	a.log.WithFields(logrus.Fields{"probed": len(results), "ok": ok}).Info("probe complete")
	return nil
}

// readURLs merges a comma-separated list and a file of one entry per line.
// Blank lines and lines starting with # are skipped.
func readURLs(list, file string) ([]string, error) {
	var out []string
	for _, s := range strings.Split(list, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if file == "" {
		return out, nil
	}
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}
