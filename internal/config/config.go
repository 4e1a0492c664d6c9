package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/crmhub/crmhub/internal/errors"
)

// Config represents the main configuration structure.
type Config struct {
	Version      string             `yaml:"version"`
	Server       ServerConfig       `yaml:"server"`
	API          APIConfig          `yaml:"api"`
	Database     DatabaseConfig     `yaml:"database"`
	Integrations IntegrationsConfig `yaml:"integrations"`
	Blog         BlogConfig         `yaml:"blog"`
	Reports      ReportsConfig      `yaml:"reports"`
	Unsplash     UnsplashConfig     `yaml:"unsplash"`
	Telegram     TelegramConfig     `yaml:"telegram"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	HTTPPort        int           `yaml:"http_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
}

// APIConfig contains API configuration.
type APIConfig struct {
	Auth         AuthConfig      `yaml:"auth"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
	CORS         CORSConfig      `yaml:"cors"`
	MaxBodyBytes int64           `yaml:"max_body_bytes"`
}

// AuthConfig verifies the session JWT issued by the auth provider (Supabase).
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Audience  string `yaml:"audience"`
	Issuer    string `yaml:"issuer"`
}

// RateLimitConfig contains per-IP rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// CORSConfig contains CORS configuration.
type CORSConfig struct {
	Enabled bool     `yaml:"enabled"`
	Origins []string `yaml:"origins"`
	Methods []string `yaml:"methods"`
}

// DatabaseConfig selects and configures the persistence backend.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" or "postgres"
	Path     string `yaml:"path"`
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

// IntegrationsConfig holds the OAuth providers the backend talks to.
type IntegrationsConfig struct {
	Fortnox       ProviderConfig `yaml:"fortnox"`
	Google        ProviderConfig `yaml:"google"`
	StateSecret   string         `yaml:"state_secret"`
	StateTTL      time.Duration  `yaml:"state_ttl"`
	SuccessURL    string         `yaml:"success_url"`
	SearchConsole SearchConsole  `yaml:"search_console"`
}

// ProviderConfig describes one OAuth provider and its API.
type ProviderConfig struct {
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	RedirectURI  string        `yaml:"redirect_uri"`
	AuthURL      string        `yaml:"auth_url"`
	TokenURL     string        `yaml:"token_url"`
	APIBaseURL   string        `yaml:"api_base_url"`
	Scopes       []string      `yaml:"scopes"`
	Timeout      time.Duration `yaml:"timeout"`
	PageSize     int           `yaml:"page_size"`
	MaxPages     int           `yaml:"max_pages"`
	PageDelay    time.Duration `yaml:"page_delay"`
	DetailDelay  time.Duration `yaml:"detail_delay"`
}

// SearchConsole defaults for analytics queries.
type SearchConsole struct {
	SiteURL  string `yaml:"site_url"`
	RowLimit int    `yaml:"row_limit"`
}

// BlogConfig contains blog publishing configuration.
type BlogConfig struct {
	PathPrefix  string `yaml:"path_prefix"`
	PublishMode string `yaml:"publish_mode"` // "live" or "test"
	ExcerptLen  int    `yaml:"excerpt_length"`
}

// ReportsConfig contains cron report configuration.
type ReportsConfig struct {
	CronSecret  string     `yaml:"cron_secret"`
	Concurrency int        `yaml:"concurrency"`
	DryRun      bool       `yaml:"dry_run"`
	From        string     `yaml:"from"`
	SMTP        SMTPConfig `yaml:"smtp"`
}

// SMTPConfig contains outgoing mail configuration.
type SMTPConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	TLS      bool          `yaml:"tls"`
	Timeout  time.Duration `yaml:"timeout"`
}

// UnsplashConfig contains cover image lookup configuration.
type UnsplashConfig struct {
	AccessKey string        `yaml:"access_key"`
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
}

// TelegramConfig contains operator notification configuration.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

// Validate validates the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}

	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	if err := c.API.Validate(); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := c.Integrations.Validate(); err != nil {
		return fmt.Errorf("integrations: %w", err)
	}

	if err := c.Blog.Validate(); err != nil {
		return fmt.Errorf("blog: %w", err)
	}

	if err := c.Reports.Validate(); err != nil {
		return fmt.Errorf("reports: %w", err)
	}

	c.Unsplash.applyDefaults()

	if err := c.Telegram.Validate(); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	return nil
}

// Validate validates server configuration.
func (s *ServerConfig) Validate() error {
	if s.Host == "" {
		s.Host = "0.0.0.0"
	}
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("http_port must be between 1 and 65535")
	}
	if s.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = 30 * time.Second
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = 30 * time.Second
	}
	if s.WriteTimeout <= 0 {
		// Long syncs walk several years of invoices.
		s.WriteTimeout = 5 * time.Minute
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	if s.LogFormat == "" {
		s.LogFormat = "json"
	}
	if s.LogFormat != "json" && s.LogFormat != "console" {
		return fmt.Errorf("log_format must be json or console")
	}
	return nil
}

// Validate validates API configuration.
func (a *APIConfig) Validate() error {
	if a.RateLimit.RequestsPerMinute <= 0 {
		a.RateLimit.RequestsPerMinute = 600
	}
	if a.RateLimit.RequestsPerMinute > 100000 {
		a.RateLimit.RequestsPerMinute = 100000
	}
	if a.RateLimit.Burst <= 0 {
		a.RateLimit.Burst = 60
	}
	if a.RateLimit.Burst > 10000 {
		a.RateLimit.Burst = 10000
	}
	if a.MaxBodyBytes <= 0 {
		a.MaxBodyBytes = 1 << 20
	}
	if len(a.CORS.Methods) == 0 {
		a.CORS.Methods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	}
	return nil
}

// Validate validates database configuration.
func (d *DatabaseConfig) Validate() error {
	if d.Driver == "" {
		d.Driver = "sqlite"
	}
	switch d.Driver {
	case "sqlite":
		if d.Path == "" {
			d.Path = "data/crmhub.db"
		}
	case "postgres":
		if d.URL == "" {
			return fmt.Errorf("url is required for the postgres driver")
		}
		if d.MaxConns <= 0 {
			d.MaxConns = 10
		}
	default:
		return fmt.Errorf("driver must be sqlite or postgres, got %q", d.Driver)
	}
	return nil
}

// Validate applies provider defaults. Secrets are checked lazily by Require
// so a missing Google client does not stop Fortnox sync from working.
func (i *IntegrationsConfig) Validate() error {
	i.Fortnox.applyDefaults(ProviderConfig{
		AuthURL:     "https://apps.fortnox.se/oauth-v1/auth",
		TokenURL:    "https://apps.fortnox.se/oauth-v1/token",
		APIBaseURL:  "https://api.fortnox.se/3",
		Scopes:      []string{"customer", "invoice", "companyinformation"},
		Timeout:     30 * time.Second,
		PageSize:    100,
		MaxPages:    200,
		PageDelay:   250 * time.Millisecond,
		DetailDelay: 250 * time.Millisecond,
	})
	i.Google.applyDefaults(ProviderConfig{
		AuthURL:    "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL:   "https://oauth2.googleapis.com/token",
		APIBaseURL: "https://searchconsole.googleapis.com/webmasters/v3",
		Scopes:     []string{"https://www.googleapis.com/auth/webmasters.readonly"},
		Timeout:    30 * time.Second,
		PageSize:   1000,
		MaxPages:   25,
	})
	if i.StateTTL <= 0 {
		i.StateTTL = 10 * time.Minute
	}
	if i.SearchConsole.RowLimit <= 0 {
		i.SearchConsole.RowLimit = 1000
	}
	if i.SearchConsole.RowLimit > 25000 {
		return fmt.Errorf("search_console.row_limit cannot exceed 25000")
	}
	if i.Fortnox.PageSize > 500 {
		return fmt.Errorf("fortnox.page_size cannot exceed 500")
	}
	return nil
}

// Provider returns the configuration for a named service.
func (i *IntegrationsConfig) Provider(service string) (ProviderConfig, bool) {
	switch service {
	case "fortnox":
		return i.Fortnox, true
	case "google":
		return i.Google, true
	default:
		return ProviderConfig{}, false
	}
}

// RequireState reports the state secret as missing when unset.
func (i *IntegrationsConfig) RequireState() error {
	if i.StateSecret == "" {
		return &errors.ErrMissingEnv{Names: []string{"integrations.state_secret"}}
	}
	return nil
}

func (p *ProviderConfig) applyDefaults(d ProviderConfig) {
	if p.AuthURL == "" {
		p.AuthURL = d.AuthURL
	}
	if p.TokenURL == "" {
		p.TokenURL = d.TokenURL
	}
	if p.APIBaseURL == "" {
		p.APIBaseURL = d.APIBaseURL
	}
	if len(p.Scopes) == 0 {
		p.Scopes = d.Scopes
	}
	if p.Timeout <= 0 {
		p.Timeout = d.Timeout
	}
	if p.PageSize <= 0 {
		p.PageSize = d.PageSize
	}
	if p.MaxPages <= 0 {
		p.MaxPages = d.MaxPages
	}
	if p.PageDelay < 0 {
		p.PageDelay = 0
	} else if p.PageDelay == 0 {
		p.PageDelay = d.PageDelay
	}
	if p.DetailDelay < 0 {
		p.DetailDelay = 0
	} else if p.DetailDelay == 0 {
		p.DetailDelay = d.DetailDelay
	}
	p.APIBaseURL = strings.TrimRight(p.APIBaseURL, "/")
}

// Require returns *errors.ErrMissingEnv naming every empty OAuth client setting.
func (p ProviderConfig) Require(service string) error {
	var missing []string
	if p.ClientID == "" {
		missing = append(missing, service+".client_id")
	}
	if p.ClientSecret == "" {
		missing = append(missing, service+".client_secret")
	}
	if p.RedirectURI == "" {
		missing = append(missing, service+".redirect_uri")
	}
	if len(missing) > 0 {
		return &errors.ErrMissingEnv{Names: missing}
	}
	return nil
}

// Validate validates blog configuration.
func (b *BlogConfig) Validate() error {
	if b.PathPrefix == "" {
		b.PathPrefix = "/blog/"
	}
	if !strings.HasSuffix(b.PathPrefix, "/") {
		b.PathPrefix += "/"
	}
	if b.PublishMode == "" {
		b.PublishMode = "live"
	}
	if b.PublishMode != "live" && b.PublishMode != "test" {
		return fmt.Errorf("publish_mode must be live or test")
	}
	if b.ExcerptLen <= 0 {
		b.ExcerptLen = 160
	}
	return nil
}

// TestMode reports whether published posts are flagged as test posts.
func (b BlogConfig) TestMode() bool {
	return b.PublishMode == "test"
}

// DefaultReportConcurrency bounds parallel report jobs when unset.
const DefaultReportConcurrency = 4

// Validate validates report configuration.
func (r *ReportsConfig) Validate() error {
	if r.Concurrency <= 0 {
		r.Concurrency = DefaultReportConcurrency
	}
	if r.Concurrency > 32 {
		r.Concurrency = 32
	}
	if r.SMTP.Port == 0 {
		r.SMTP.Port = 587
	}
	if r.SMTP.Timeout <= 0 {
		r.SMTP.Timeout = 15 * time.Second
	}
	if r.From == "" {
		r.From = "reports@crmhub.local"
	}
	return nil
}

// RequireCron reports the cron secret as missing when unset.
func (r ReportsConfig) RequireCron() error {
	if r.CronSecret == "" {
		return &errors.ErrMissingEnv{Names: []string{"reports.cron_secret"}}
	}
	return nil
}

// RequireSMTP reports every missing SMTP setting.
func (r ReportsConfig) RequireSMTP() error {
	var missing []string
	if r.SMTP.Host == "" {
		missing = append(missing, "reports.smtp.host")
	}
	if r.SMTP.Username == "" {
		missing = append(missing, "reports.smtp.username")
	}
	if r.SMTP.Password == "" {
		missing = append(missing, "reports.smtp.password")
	}
	if len(missing) > 0 {
		return &errors.ErrMissingEnv{Names: missing}
	}
	return nil
}

func (u *UnsplashConfig) applyDefaults() {
	if u.BaseURL == "" {
		u.BaseURL = "https://api.unsplash.com"
	}
	if u.Timeout <= 0 {
		u.Timeout = 5 * time.Second
	}
}

// Validate validates Telegram configuration.
func (t *TelegramConfig) Validate() error {
	if !t.Enabled {
		return nil
	}
	if t.BotToken == "" {
		return fmt.Errorf("bot_token is required when telegram is enabled")
	}
	if t.ChatID == 0 {
		return fmt.Errorf("chat_id is required when telegram is enabled")
	}
	return nil
}
