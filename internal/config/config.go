// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/storia-seo-ops/internal/seo"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	DB        DBConfig        `mapstructure:"db"`
	Site      SiteConfig      `mapstructure:"site"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	IndexNow  IndexNowConfig  `mapstructure:"indexnow"`
	Deploy    DeployConfig    `mapstructure:"deploy"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
	ShutdownGraceSeconds  int `mapstructure:"shutdown_grace_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// DBConfig controls access to the relational store. An empty DSN selects the
// in-memory store.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	MaxConnLifetime int    `mapstructure:"max_conn_lifetime_seconds"`
}

// SiteConfig describes the restaurant site being operated on.
type SiteConfig struct {
	BaseURL    string   `mapstructure:"base_url"`
	SitemapURL string   `mapstructure:"sitemap_url"`
	Locales    []string `mapstructure:"locales"`
	// DefaultLocale is served without a path prefix.
	DefaultLocale string   `mapstructure:"default_locale"`
	LegalPaths    []string `mapstructure:"legal_paths"`
	PriorityPaths []string `mapstructure:"priority_paths"`
}

// AnalyticsConfig configures the Search Console client and the credential.
type AnalyticsConfig struct {
	APIBaseURL     string   `mapstructure:"api_base_url"`
	SiteURL        string   `mapstructure:"site_url"`
	TokenURL       string   `mapstructure:"token_url"`
	ClientEmail    string   `mapstructure:"client_email"`
	Subject        string   `mapstructure:"subject"`
	PrivateKey     string   `mapstructure:"private_key"`
	PrivateKeyFile string   `mapstructure:"private_key_file"`
	KeyID          string   `mapstructure:"key_id"`
	Scopes         []string `mapstructure:"scopes"`
	RowLimit       int      `mapstructure:"row_limit"`
	DataState      string   `mapstructure:"data_state"`
	RequestsPerSec float64  `mapstructure:"requests_per_second"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	MaxClockSkew   int      `mapstructure:"max_clock_skew_seconds"`
}

// CrawlerConfig governs the site crawler.
type CrawlerConfig struct {
	Concurrency    int    `mapstructure:"concurrency"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
	MaxRedirects   int    `mapstructure:"max_redirects"`
	// RequestsPerSecond paces fetches per host; 0 disables pacing.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// AlertsConfig tunes baseline computation and rule thresholds.
type AlertsConfig struct {
	WindowDays         int      `mapstructure:"window_days"`
	MinSamples         int      `mapstructure:"min_samples"`
	Dimensions         []string `mapstructure:"dimensions"`
	StdDevThreshold    float64  `mapstructure:"stddev_threshold"`
	PositionThreshold  float64  `mapstructure:"position_threshold"`
	MinSeverity        string   `mapstructure:"min_severity"`
	TopMovers          int      `mapstructure:"top_movers"`
	BriefingBlobPrefix string   `mapstructure:"briefing_blob_prefix"`
}

// IndexNowConfig configures URL submission.
type IndexNowConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	Host           string `mapstructure:"host"`
	Key            string `mapstructure:"key"`
	KeyLocation    string `mapstructure:"key_location"`
	MaxURLs        int    `mapstructure:"max_urls"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// DeployConfig configures the rebuild collaborator.
type DeployConfig struct {
	BuildHookURL   string `mapstructure:"build_hook_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	ProjectID      string `mapstructure:"project_id"`
	TopicName      string `mapstructure:"topic_name"`
	// DryRun records rebuild events in memory when no hook or project is
	// set. Deploys then report success without rebuilding anything.
	DryRun bool `mapstructure:"dry_run"`
}

// StorageConfig sets where briefing artifacts are written. A bucket wins over
// a local directory; with neither, artifacts stay in memory.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
	LocalDir  string `mapstructure:"local_dir"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SEOOPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if port := os.Getenv("PORT"); port != "" {
		if _, err := fmt.Sscanf(port, "%d", &cfg.Server.Port); err != nil {
			return Config{}, fmt.Errorf("parse PORT: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 300)
	v.SetDefault("server.shutdown_grace_seconds", 15)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("site.base_url", "https://www.ristorantestoria.de")
	v.SetDefault("site.sitemap_url", "https://www.ristorantestoria.de/sitemap.xml")
	v.SetDefault("site.locales", []string{"de", "en"})
	v.SetDefault("site.default_locale", "de")
	v.SetDefault("site.legal_paths", []string{"/impressum", "/datenschutz", "/agb"})
	v.SetDefault("site.priority_paths", []string{"/", "/speisekarte/", "/mittags-menu/", "/reservierung/", "/en/"})
	v.SetDefault("analytics.api_base_url", "https://www.googleapis.com/webmasters/v3")
	v.SetDefault("analytics.site_url", "sc-domain:ristorantestoria.de")
	v.SetDefault("analytics.token_url", "https://oauth2.googleapis.com/token")
	v.SetDefault("analytics.scopes", []string{"https://www.googleapis.com/auth/webmasters.readonly"})
	v.SetDefault("analytics.row_limit", 25000)
	v.SetDefault("analytics.data_state", "all")
	v.SetDefault("analytics.requests_per_second", 5.0)
	v.SetDefault("analytics.timeout_seconds", 30)
	v.SetDefault("analytics.max_clock_skew_seconds", 300)
	v.SetDefault("crawler.concurrency", 3)
	v.SetDefault("crawler.user_agent", "storia-seo-bot/1.0")
	v.SetDefault("crawler.timeout_seconds", 10)
	v.SetDefault("crawler.max_body_bytes", 16*1024)
	v.SetDefault("crawler.max_redirects", 5)
	v.SetDefault("crawler.requests_per_second", 2.0)
	v.SetDefault("alerts.window_days", 28)
	v.SetDefault("alerts.min_samples", 7)
	v.SetDefault("alerts.dimensions", []string{"site", "page", "query"})
	v.SetDefault("alerts.stddev_threshold", 2.0)
	v.SetDefault("alerts.position_threshold", 3.0)
	v.SetDefault("alerts.min_severity", "medium")
	v.SetDefault("alerts.top_movers", 10)
	v.SetDefault("alerts.briefing_blob_prefix", "briefings")
	v.SetDefault("indexnow.endpoint", "https://api.indexnow.org/indexnow")
	v.SetDefault("indexnow.host", "www.ristorantestoria.de")
	v.SetDefault("indexnow.max_urls", 10000)
	v.SetDefault("indexnow.timeout_seconds", 30)
	v.SetDefault("deploy.timeout_seconds", 60)
	v.SetDefault("deploy.topic_name", "site-rebuild")
	v.SetDefault("deploy.dry_run", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if _, err := url.ParseRequestURI(c.Site.BaseURL); err != nil {
		return fmt.Errorf("site.base_url must be an absolute URL: %w", err)
	}
	if len(c.Site.Locales) == 0 {
		return fmt.Errorf("site.locales must list at least one locale")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if c.Crawler.MaxBodyBytes <= 0 {
		return fmt.Errorf("crawler.max_body_bytes must be > 0")
	}
	if c.Crawler.MaxRedirects <= 0 {
		return fmt.Errorf("crawler.max_redirects must be > 0")
	}
	if c.Alerts.WindowDays <= 0 {
		return fmt.Errorf("alerts.window_days must be > 0")
	}
	if c.Alerts.MinSamples <= 0 || c.Alerts.MinSamples > c.Alerts.WindowDays {
		return fmt.Errorf("alerts.min_samples must be within 1..alerts.window_days")
	}
	if _, err := c.Alerts.Severity(); err != nil {
		return fmt.Errorf("alerts.min_severity: %w", err)
	}
	if _, err := c.Alerts.TrackedDimensions(); err != nil {
		return fmt.Errorf("alerts.dimensions: %w", err)
	}
	if c.IndexNow.Host == "" {
		return fmt.Errorf("indexnow.host is required")
	}
	if c.IndexNow.MaxURLs <= 0 || c.IndexNow.MaxURLs > 10000 {
		return fmt.Errorf("indexnow.max_urls must be within 1..10000")
	}
	if c.Analytics.RowLimit <= 0 {
		return fmt.Errorf("analytics.row_limit must be > 0")
	}
	return nil
}

// Severity parses the configured minimum task severity.
func (a AlertsConfig) Severity() (seo.Severity, error) {
	sev, err := seo.ParseSeverity(a.MinSeverity)
	if err != nil {
		return 0, fmt.Errorf("parse severity: %w", err)
	}
	return sev, nil
}

// TrackedDimensions parses the dimensions evaluated by the alert engine.
func (a AlertsConfig) TrackedDimensions() ([]seo.Dimension, error) {
	out := make([]seo.Dimension, 0, len(a.Dimensions))
	for _, raw := range a.Dimensions {
		d, err := seo.ParseDimension(raw)
		if err != nil {
			return nil, fmt.Errorf("parse dimension: %w", err)
		}
		out = append(out, d)
	}
	return out, nil
}

// Credential assembles the analytics service credential, reading the key file
// when no inline key is configured.
func (a AnalyticsConfig) Credential() (seo.Credential, error) {
	key := []byte(a.PrivateKey)
	if len(key) == 0 && a.PrivateKeyFile != "" {
		data, err := os.ReadFile(a.PrivateKeyFile)
		if err != nil {
			return seo.Credential{}, fmt.Errorf("read analytics.private_key_file: %w", err)
		}
		key = data
	}
	subject := a.Subject
	if subject == "" {
		subject = a.ClientEmail
	}
	return seo.Credential{
		Issuer:        a.ClientEmail,
		Subject:       subject,
		PrivateKeyPEM: key,
		KeyID:         a.KeyID,
		Audience:      a.TokenURL,
		Scopes:        append([]string(nil), a.Scopes...),
	}, nil
}

// CrawlTimeout returns the per-fetch hard timeout.
func (c CrawlerConfig) CrawlTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Seconds converts an integer seconds knob to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
