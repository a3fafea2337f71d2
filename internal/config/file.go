package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config for YAML. Pointer fields distinguish "absent" from zero.
type fileConfig struct {
	Addr      *string `yaml:"addr"`
	LogLevel  *string `yaml:"log_level"`
	LogFormat *string `yaml:"log_format"`

	MaxAttempts            *int     `yaml:"max_attempts"`
	RetryBaseDelay         *string  `yaml:"retry_base_delay"`
	RetryJitter            *bool    `yaml:"retry_jitter"`
	RequestTimeout         *string  `yaml:"request_timeout"`
	MaxConcurrentProviders *int     `yaml:"max_concurrent_providers"`
	UserAgent              *string  `yaml:"user_agent"`
	HostConcurrency        *int     `yaml:"host_concurrency"`
	HostRate               *float64 `yaml:"host_rate"`

	CollateLang         *string  `yaml:"collate_lang"`
	NormalizeSeparator  *string  `yaml:"normalize_separator"`
	NormalizeRegionTags []string `yaml:"normalize_region_tags"`

	Subscription struct {
		APIURL   *string `yaml:"api_url"`
		APIKey   *string `yaml:"api_key"`
		Timeout  *string `yaml:"timeout"`
		RedisURL *string `yaml:"redis_url"`
		CacheTTL *string `yaml:"cache_ttl"`
	} `yaml:"subscription"`

	Proxy struct {
		Enabled         *bool    `yaml:"enabled"`
		ListURLs        []string `yaml:"list_urls"`
		RefreshInterval *string  `yaml:"refresh_interval"`
		DB              *string  `yaml:"db"`
	} `yaml:"proxy"`
}

// LoadFile reads a YAML config file over Defaults, then applies env on top.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	c := Defaults()
	if err := f.apply(c); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	c.applyEnv()
	return c, nil
}

func (f *fileConfig) apply(c *Config) error {
	setStr(&c.Addr, f.Addr)
	setStr(&c.LogLevel, f.LogLevel)
	setStr(&c.LogFormat, f.LogFormat)
	setInt(&c.MaxAttempts, f.MaxAttempts)
	if f.RetryJitter != nil {
		c.RetryJitter = *f.RetryJitter
	}
	setInt(&c.MaxConcurrentProviders, f.MaxConcurrentProviders)
	setStr(&c.UserAgent, f.UserAgent)
	setInt(&c.HostConcurrency, f.HostConcurrency)
	if f.HostRate != nil {
		c.HostRate = *f.HostRate
	}
	setStr(&c.CollateLang, f.CollateLang)
	if f.NormalizeSeparator != nil {
		c.NormalizeSeparator = parseSeparator(*f.NormalizeSeparator)
	}
	if f.NormalizeRegionTags != nil {
		c.NormalizeRegionTags = f.NormalizeRegionTags
	}
	setStr(&c.SubscriptionAPIURL, f.Subscription.APIURL)
	setStr(&c.SubscriptionAPIKey, f.Subscription.APIKey)
	setStr(&c.RedisURL, f.Subscription.RedisURL)
	if f.Proxy.Enabled != nil {
		c.ProxyEnabled = *f.Proxy.Enabled
	}
	if f.Proxy.ListURLs != nil {
		c.ProxyListURLs = f.Proxy.ListURLs
	}
	setStr(&c.ProxyDB, f.Proxy.DB)

	durations := []struct {
		name string
		src  *string
		dst  *time.Duration
	}{
		{"retry_base_delay", f.RetryBaseDelay, &c.RetryBaseDelay},
		{"request_timeout", f.RequestTimeout, &c.RequestTimeout},
		{"subscription.timeout", f.Subscription.Timeout, &c.SubscriptionTimeout},
		{"subscription.cache_ttl", f.Subscription.CacheTTL, &c.SubscriptionCacheTTL},
		{"proxy.refresh_interval", f.Proxy.RefreshInterval, &c.ProxyRefreshInterval},
	}
	for _, d := range durations {
		if d.src == nil {
			continue
		}
		v, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = v
	}
	return nil
}

func setStr(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}
