// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meterline/meterline/domain/limits"
	"github.com/meterline/meterline/domain/pricing"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig            `yaml:"server"`
	Database DatabaseConfig          `yaml:"database"`
	Billing  BillingConfig           `yaml:"billing"`
	Email    EmailConfig             `yaml:"email"`
	Plans    PlansConfig             `yaml:"plans"`
	Pricing  map[string]ModelPricing `yaml:"pricing"`
	Logging  LoggingConfig           `yaml:"logging"`
	Metrics  MetricsConfig           `yaml:"metrics"`
}

// ServerConfig configures the ops HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig configures the database.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "memory"
	DSN    string `yaml:"dsn"`
}

// BillingConfig configures the payment provider and billing cycle.
type BillingConfig struct {
	Provider          string        `yaml:"provider"` // "none", "stripe", "dummy"
	StripeSecretKey   string        `yaml:"stripe_secret_key,omitempty"`
	StripePublicKey   string        `yaml:"stripe_public_key,omitempty"`
	StripeWebhookKey  string        `yaml:"stripe_webhook_secret,omitempty"`
	PremiumPriceID    string        `yaml:"premium_price_id,omitempty"`
	PlatformFeeCents  int64         `yaml:"platform_fee_cents"`
	BaseURL           string        `yaml:"base_url"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
}

// EmailConfig configures invoice notification email.
type EmailConfig struct {
	Provider string `yaml:"provider"` // "none", "smtp", "mock"
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	From     string `yaml:"from,omitempty"`
	FromName string `yaml:"from_name,omitempty"`
	UseTLS   bool   `yaml:"use_tls"`
}

// PlanLimitsConfig configures the caps for one plan tier. Zero values
// fall back to the built-in defaults for that tier.
type PlanLimitsConfig struct {
	ChatTokensDaily      int64 `yaml:"chat_tokens_daily"`
	ChatTokensMonthly    int64 `yaml:"chat_tokens_monthly"`
	MaxTokensPerRequest  int64 `yaml:"max_tokens_per_request"`
	MaxRequestsPerMinute int   `yaml:"max_requests_per_minute"`
	VoiceRequestsDaily   int64 `yaml:"voice_requests_daily"`
	ChatRequestsDaily    int64 `yaml:"chat_requests_daily"`
}

// PlansConfig configures the two plan tiers.
type PlansConfig struct {
	Free    *PlanLimitsConfig `yaml:"free,omitempty"`
	Premium *PlanLimitsConfig `yaml:"premium,omitempty"`
}

// ModelPricing configures per-model USD rates per million tokens.
type ModelPricing struct {
	InputPerMillion       float64 `yaml:"input_per_million"`
	OutputPerMillion      float64 `yaml:"output_per_million"`
	CachedInputPerMillion float64 `yaml:"cached_input_per_million"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // Enable /metrics endpoint
	Path    string `yaml:"path"`    // Custom path (default: /metrics)
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(&cfg)

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
// This is useful for Docker deployments where no config file is needed.
//
// Environment variables:
//
//	METERLINE_DATABASE_DSN       - Database path (default: meterline.db)
//	METERLINE_SERVER_HOST        - Server host (default: 0.0.0.0)
//	METERLINE_SERVER_PORT        - Server port (default: 8080)
//	METERLINE_BILLING_PROVIDER   - Payment provider: none, stripe, dummy (default: none)
//	METERLINE_STRIPE_SECRET_KEY  - Stripe secret key
//	METERLINE_PREMIUM_PRICE_ID   - Stripe price ID for the premium subscription
//	METERLINE_LOG_LEVEL          - Log level: debug, info, warn, error (default: info)
//	METERLINE_LOG_FORMAT         - Log format: json or console (default: json)
//	METERLINE_METRICS_ENABLED    - Enable /metrics endpoint (default: true)
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback tries to load from file, falls back to environment
// variables. This is the recommended method for Docker deployments.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies METERLINE_* environment variables to the
// config. Environment variables always override file-based values.
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if v := os.Getenv("METERLINE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("METERLINE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	// Database configuration
	if v := os.Getenv("METERLINE_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("METERLINE_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	// Billing configuration
	if v := os.Getenv("METERLINE_BILLING_PROVIDER"); v != "" {
		cfg.Billing.Provider = v
	}
	if v := os.Getenv("METERLINE_STRIPE_SECRET_KEY"); v != "" {
		cfg.Billing.StripeSecretKey = v
	}
	if v := os.Getenv("METERLINE_STRIPE_WEBHOOK_SECRET"); v != "" {
		cfg.Billing.StripeWebhookKey = v
	}
	if v := os.Getenv("METERLINE_PREMIUM_PRICE_ID"); v != "" {
		cfg.Billing.PremiumPriceID = v
	}
	if v := os.Getenv("METERLINE_PLATFORM_FEE_CENTS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Billing.PlatformFeeCents = n
		}
	}
	if v := os.Getenv("METERLINE_BASE_URL"); v != "" {
		cfg.Billing.BaseURL = v
	}
	if v := os.Getenv("METERLINE_RECONCILE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Billing.ReconcileInterval = d
		}
	}

	// Email configuration
	if v := os.Getenv("METERLINE_EMAIL_PROVIDER"); v != "" {
		cfg.Email.Provider = v
	}
	if v := os.Getenv("METERLINE_SMTP_HOST"); v != "" {
		cfg.Email.Host = v
	}
	if v := os.Getenv("METERLINE_SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Email.Port = port
		}
	}
	if v := os.Getenv("METERLINE_SMTP_USERNAME"); v != "" {
		cfg.Email.Username = v
	}
	if v := os.Getenv("METERLINE_SMTP_PASSWORD"); v != "" {
		cfg.Email.Password = v
	}

	// Logging configuration
	if v := os.Getenv("METERLINE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("METERLINE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := os.Getenv("METERLINE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("METERLINE_METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "meterline.db"
	}

	if cfg.Billing.Provider == "" {
		cfg.Billing.Provider = "none"
	}
	if cfg.Billing.PlatformFeeCents == 0 {
		cfg.Billing.PlatformFeeCents = 700
	}
	if cfg.Billing.ReconcileInterval == 0 {
		cfg.Billing.ReconcileInterval = time.Hour
	}

	if cfg.Email.Provider == "" {
		cfg.Email.Provider = "none"
	}
	if cfg.Email.Port == 0 {
		cfg.Email.Port = 587
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	// Default model pricing if none configured
	if len(cfg.Pricing) == 0 {
		cfg.Pricing = map[string]ModelPricing{
			"gpt-4o-mini": {InputPerMillion: 0.15, OutputPerMillion: 0.60, CachedInputPerMillion: 0.075},
			"gpt-4o":      {InputPerMillion: 2.50, OutputPerMillion: 10.00, CachedInputPerMillion: 1.25},
		}
	}
}

func validate(cfg *Config) error {
	validDrivers := map[string]bool{"sqlite": true, "memory": true}
	if !validDrivers[cfg.Database.Driver] {
		return fmt.Errorf("database.driver must be 'sqlite' or 'memory', got %q", cfg.Database.Driver)
	}

	validProviders := map[string]bool{"none": true, "stripe": true, "dummy": true, "test": true}
	if !validProviders[cfg.Billing.Provider] {
		return fmt.Errorf("billing.provider must be one of: none, stripe, dummy")
	}
	if cfg.Billing.Provider == "stripe" {
		if cfg.Billing.StripeSecretKey == "" {
			return fmt.Errorf("billing.stripe_secret_key is required when billing.provider is 'stripe'")
		}
		if cfg.Billing.PremiumPriceID == "" {
			return fmt.Errorf("billing.premium_price_id is required when billing.provider is 'stripe'")
		}
	}
	if cfg.Billing.PlatformFeeCents < 0 {
		return fmt.Errorf("billing.platform_fee_cents must not be negative")
	}

	validEmail := map[string]bool{"none": true, "smtp": true, "mock": true}
	if !validEmail[cfg.Email.Provider] {
		return fmt.Errorf("email.provider must be one of: none, smtp, mock")
	}
	if cfg.Email.Provider == "smtp" && cfg.Email.Host == "" {
		return fmt.Errorf("email.host is required when email.provider is 'smtp'")
	}

	for model, p := range cfg.Pricing {
		if p.InputPerMillion < 0 || p.OutputPerMillion < 0 || p.CachedInputPerMillion < 0 {
			return fmt.Errorf("pricing[%s]: rates must not be negative", model)
		}
	}

	return nil
}

// LimitsRegistry builds the plan limits registry from configured caps,
// falling back to built-in defaults for unset fields.
func (c *Config) LimitsRegistry() limits.Registry {
	free := mergeLimits(limits.DefaultFree(), c.Plans.Free)
	premium := mergeLimits(limits.DefaultPremium(), c.Plans.Premium)
	return limits.NewRegistry(free, premium)
}

func mergeLimits(base limits.Limits, override *PlanLimitsConfig) limits.Limits {
	if override == nil {
		return base
	}
	if override.ChatTokensDaily != 0 {
		base.ChatTokensDaily = override.ChatTokensDaily
	}
	if override.ChatTokensMonthly != 0 {
		base.ChatTokensMonthly = override.ChatTokensMonthly
	}
	if override.MaxTokensPerRequest != 0 {
		base.MaxTokensPerRequest = override.MaxTokensPerRequest
	}
	if override.MaxRequestsPerMinute != 0 {
		base.MaxRequestsPerMinute = override.MaxRequestsPerMinute
	}
	if override.VoiceRequestsDaily != 0 {
		base.VoiceRequestsDaily = override.VoiceRequestsDaily
	}
	if override.ChatRequestsDaily != 0 {
		base.ChatRequestsDaily = override.ChatRequestsDaily
	}
	return base
}

// PricingTable builds the immutable pricing table from configuration.
func (c *Config) PricingTable() pricing.Table {
	rates := make(map[string]pricing.Rate, len(c.Pricing))
	for model, p := range c.Pricing {
		rates[model] = pricing.Rate{
			InputPerMillion:       p.InputPerMillion,
			OutputPerMillion:      p.OutputPerMillion,
			CachedInputPerMillion: p.CachedInputPerMillion,
		}
	}
	return pricing.NewTable(rates)
}
