// Package config loads the server configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SITEBUILDER_"

// Config is the server configuration.
type Config struct {
	Addr     string         `yaml:"addr"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Plugins  PluginsConfig  `yaml:"plugins"`
	Sessions SessionsConfig `yaml:"sessions"`
	Redis    RedisConfig    `yaml:"redis"`
	NATS     NATSConfig     `yaml:"nats"`
	Media    MediaConfig    `yaml:"media"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"` //nolint:gosec // config field
	Issuer    string        `yaml:"issuer"`
	AccessTTL time.Duration `yaml:"access_ttl"`
	// RateLimit is requests per minute per IP on login, register and order
	// submission.
	RateLimit int `yaml:"rate_limit"`
	// TrustedProxies lists the CIDRs or addresses of reverse proxies whose
	// X-Forwarded-For and X-Real-IP headers are believed. Empty means the
	// peer address is always the client.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// ProxyPrefixes parses TrustedProxies. A bare address becomes a single-host
// prefix.
func (a AuthConfig) ProxyPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(a.TrustedProxies))
	for _, raw := range a.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("auth.trusted_proxies: %w", err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("auth.trusted_proxies: %w", err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

type PluginsConfig struct {
	// CatalogDir holds extra official catalog files. Empty disables the
	// watcher.
	CatalogDir  string        `yaml:"catalog_dir"`
	LoadTimeout time.Duration `yaml:"load_timeout"`
}

type SessionsConfig struct {
	MaxIdle       time.Duration `yaml:"max_idle"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type RedisConfig struct {
	Addr    string        `yaml:"addr"`
	CartTTL time.Duration `yaml:"cart_ttl"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MediaConfig struct {
	Driver  string   `yaml:"driver"`
	Dir     string   `yaml:"dir"`
	BaseURL string   `yaml:"base_url"`
	S3      S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"` //nolint:gosec // config field
	PublicURL string `yaml:"public_url"`
}

type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	Insecure    bool    `yaml:"insecure"`
	SampleRate  float64 `yaml:"sample_rate"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Addr:     ":8080",
		Log:      LogConfig{Level: "info", Format: "text"},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "data/sitebuilder.db"},
		Auth:     AuthConfig{Issuer: "sitebuilder", AccessTTL: 24 * time.Hour, RateLimit: 10},
		Plugins:  PluginsConfig{LoadTimeout: 5 * time.Second},
		Sessions: SessionsConfig{MaxIdle: 30 * time.Minute, SweepInterval: time.Minute},
		Redis:    RedisConfig{CartTTL: 7 * 24 * time.Hour},
		Media:    MediaConfig{Driver: "local", Dir: "data/uploads", BaseURL: "/uploads"},
		Tracing:  TracingConfig{ServiceName: "sitebuilder", Insecure: true, SampleRate: 1.0},
		Metrics:  MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// LoadFromFile reads a YAML file over the defaults. An empty path returns
// the defaults.
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Load reads path, then applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from SITEBUILDER_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"ADDR":          &c.Addr,
		"LOG_LEVEL":     &c.Log.Level,
		"LOG_FORMAT":    &c.Log.Format,
		"DB_DRIVER":     &c.Database.Driver,
		"DB_DSN":        &c.Database.DSN,
		"JWT_SECRET":    &c.Auth.JWTSecret,
		"CATALOG_DIR":   &c.Plugins.CatalogDir,
		"REDIS_ADDR":    &c.Redis.Addr,
		"NATS_URL":      &c.NATS.URL,
		"MEDIA_DRIVER":  &c.Media.Driver,
		"MEDIA_DIR":     &c.Media.Dir,
		"S3_BUCKET":     &c.Media.S3.Bucket,
		"S3_REGION":     &c.Media.S3.Region,
		"S3_ENDPOINT":   &c.Media.S3.Endpoint,
		"S3_ACCESS_KEY": &c.Media.S3.AccessKey,
		"S3_SECRET_KEY": &c.Media.S3.SecretKey,
		"OTLP_ENDPOINT": &c.Tracing.Endpoint,
	}
	for key, dst := range str {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"ACCESS_TTL":   &c.Auth.AccessTTL,
		"LOAD_TIMEOUT": &c.Plugins.LoadTimeout,
	}
	for key, dst := range durations {
		if v, ok := lookup(EnvPrefix + key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = d
		}
	}

	if v, ok := lookup(EnvPrefix + "TRUSTED_PROXIES"); ok {
		c.Auth.TrustedProxies = strings.Split(v, ",")
	}

	if v, ok := lookup(EnvPrefix + "RATE_LIMIT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sRATE_LIMIT: %w", EnvPrefix, err)
		}
		c.Auth.RateLimit = n
	}
	return nil
}

// Validate reports configuration errors.
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	switch c.Database.Driver {
	case "sqlite", "postgres", "pg":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not sqlite or postgres", c.Database.Driver))
	}
	switch c.Media.Driver {
	case "local":
	case "s3":
		if c.Media.S3.Bucket == "" {
			errs = append(errs, errors.New("media.s3.bucket is required for the s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("media.driver %q is not local or s3", c.Media.Driver))
	}
	if c.Plugins.LoadTimeout <= 0 {
		errs = append(errs, errors.New("plugins.load_timeout must be positive"))
	}
	if _, err := c.Auth.ProxyPrefixes(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SlogLevel maps log.level to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
