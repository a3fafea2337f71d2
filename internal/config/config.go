package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
)

// Config holds aggregator, transport, subscription and proxy settings.
// Defaults come from Defaults; a YAML file (LoadFile) overlays them; env wins over both.
type Config struct {
	// Server
	Addr      string // listen address for serve, e.g. ":8080"
	LogLevel  string
	LogFormat string // "json" | "text"

	// Fetch
	MaxAttempts            int           // per provider, including the first
	RetryBaseDelay         time.Duration // wait before attempt n+1 is n*RetryBaseDelay
	RetryJitter            bool
	RequestTimeout         time.Duration // per network call
	MaxConcurrentProviders int           // 0 = unbounded
	UserAgent              string
	HostConcurrency        int     // concurrent requests per provider host
	HostRate               float64 // requests/second per provider host; 0 = unlimited

	// Merge / grouping
	CollateLang         string   // BCP 47 tag for category and channel ordering
	NormalizeSeparator  string   // joins tokens in dedup keys; "" merges "Sport 1" with "Sport1"
	NormalizeRegionTags []string // extra whole-word tags stripped from names, e.g. cz, sk

	// Subscription API
	SubscriptionAPIURL   string
	SubscriptionAPIKey   string
	SubscriptionTimeout  time.Duration
	RedisURL             string // optional cache for the discovered provider list
	SubscriptionCacheTTL time.Duration

	// Proxies
	ProxyEnabled         bool
	ProxyListURLs        []string
	ProxyRefreshInterval time.Duration
	ProxyDB              string // sqlite path for the last good pool; "" = none
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Addr:                 ":8080",
		LogLevel:             "info",
		LogFormat:            "json",
		MaxAttempts:          3,
		RetryBaseDelay:       time.Second,
		RequestTimeout:       15 * time.Second,
		HostConcurrency:      4,
		HostRate:             5,
		CollateLang:          "und",
		SubscriptionTimeout:  10 * time.Second,
		SubscriptionCacheTTL: 10 * time.Minute,
		ProxyRefreshInterval: 30 * time.Minute,
	}
}

// Load reads config from environment on top of Defaults.
// Call LoadEnvFile(".env") before Load() to use a .env file.
func Load() *Config {
	c := Defaults()
	c.applyEnv()
	return c
}

func (c *Config) applyEnv() {
	c.Addr = getEnv("IPTVMERGE_ADDR", c.Addr)
	c.LogLevel = getEnv("IPTVMERGE_LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("IPTVMERGE_LOG_FORMAT", c.LogFormat)
	c.MaxAttempts = getEnvInt("IPTVMERGE_MAX_ATTEMPTS", c.MaxAttempts)
	c.RetryBaseDelay = getEnvDuration("IPTVMERGE_RETRY_BASE_DELAY", c.RetryBaseDelay)
	c.RetryJitter = getEnvBool("IPTVMERGE_RETRY_JITTER", c.RetryJitter)
	c.RequestTimeout = getEnvDuration("IPTVMERGE_REQUEST_TIMEOUT", c.RequestTimeout)
	c.MaxConcurrentProviders = getEnvInt("IPTVMERGE_MAX_CONCURRENT_PROVIDERS", c.MaxConcurrentProviders)
	c.UserAgent = getEnv("IPTVMERGE_USER_AGENT", c.UserAgent)
	c.HostConcurrency = getEnvInt("IPTVMERGE_HOST_CONCURRENCY", c.HostConcurrency)
	c.HostRate = getEnvFloat("IPTVMERGE_HOST_RATE", c.HostRate)
	c.CollateLang = getEnv("IPTVMERGE_COLLATE_LANG", c.CollateLang)
	c.NormalizeSeparator = getEnvSeparator("IPTVMERGE_NORMALIZE_SEPARATOR", c.NormalizeSeparator)
	c.NormalizeRegionTags = getEnvList("IPTVMERGE_NORMALIZE_REGION_TAGS", c.NormalizeRegionTags)
	c.SubscriptionAPIURL = getEnv("IPTVMERGE_SUBSCRIPTION_API_URL", c.SubscriptionAPIURL)
	// AMZ_API_KEY is the name older deployments used.
	c.SubscriptionAPIKey = getEnv("IPTVMERGE_SUBSCRIPTION_API_KEY", getEnv("AMZ_API_KEY", c.SubscriptionAPIKey))
	c.SubscriptionTimeout = getEnvDuration("IPTVMERGE_SUBSCRIPTION_TIMEOUT", c.SubscriptionTimeout)
	c.RedisURL = getEnv("IPTVMERGE_REDIS_URL", c.RedisURL)
	c.SubscriptionCacheTTL = getEnvDuration("IPTVMERGE_SUBSCRIPTION_CACHE_TTL", c.SubscriptionCacheTTL)
	c.ProxyEnabled = getEnvBool("IPTVMERGE_PROXY_ENABLED", c.ProxyEnabled)
	c.ProxyListURLs = getEnvList("IPTVMERGE_PROXY_LIST_URLS", c.ProxyListURLs)
	c.ProxyRefreshInterval = getEnvDuration("IPTVMERGE_PROXY_REFRESH_INTERVAL", c.ProxyRefreshInterval)
	c.ProxyDB = getEnv("IPTVMERGE_PROXY_DB", c.ProxyDB)
}

// SubscriptionEnabled reports whether a subscription API is configured.
func (c *Config) SubscriptionEnabled() bool {
	return c.SubscriptionAPIURL != "" && c.SubscriptionAPIKey != ""
}

// Language returns CollateLang parsed, or language.Und when it does not parse.
func (c *Config) Language() language.Tag {
	tag, err := language.Parse(c.CollateLang)
	if err != nil {
		return language.Und
	}
	return tag
}

// Validate reports settings that would make the pipeline misbehave.
func (c *Config) Validate() error {
	var errs []error
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max attempts must be >= 1, got %d", c.MaxAttempts))
	}
	if c.RetryBaseDelay < 0 {
		errs = append(errs, fmt.Errorf("retry base delay must not be negative"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request timeout must be positive"))
	}
	if c.MaxConcurrentProviders < 0 {
		errs = append(errs, fmt.Errorf("max concurrent providers must be >= 0"))
	}
	if c.HostRate < 0 {
		errs = append(errs, fmt.Errorf("host rate must be >= 0"))
	}
	if c.NormalizeSeparator != "" && c.NormalizeSeparator != " " {
		errs = append(errs, fmt.Errorf("normalize separator must be empty or a single space, got %q", c.NormalizeSeparator))
	}
	if _, err := language.Parse(c.CollateLang); err != nil {
		errs = append(errs, fmt.Errorf("collate lang %q: %w", c.CollateLang, err))
	}
	if c.ProxyEnabled && len(c.ProxyListURLs) == 0 && c.ProxyDB == "" {
		errs = append(errs, fmt.Errorf("proxy enabled but no proxy list urls or proxy db configured"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return defaultVal
		}
		return n
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return defaultVal
		}
		return f
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

// getEnvList splits a comma-separated value, dropping blanks.
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return splitList(v)
}

// getEnvSeparator maps "none" to "" and "space" to " "; a literal space also works.
func getEnvSeparator(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return parseSeparator(v)
	}
	return defaultVal
}

func parseSeparator(v string) string {
	if v != "" && strings.TrimSpace(v) == "" {
		return " "
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "none":
		return ""
	case "space":
		return " "
	}
	return v
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
