// Package config provides configuration loading for the API server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Stripe    StripeConfig    `mapstructure:"stripe"`
	Email     EmailConfig     `mapstructure:"email"`
	Storage   StorageConfig   `mapstructure:"storage"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Environment  string        `mapstructure:"environment"` // dev, staging, prod
	// SiteURL is the public origin used in redirects and emails.
	SiteURL        string   `mapstructure:"site_url"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// IsDev reports whether the server runs in development mode.
func (c ServerConfig) IsDev() bool {
	return c.Environment == "" || c.Environment == "dev"
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns the connection string in URL form, as the migrator expects.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	// SessionSecret signs the session cookie.
	SessionSecret string        `mapstructure:"session_secret"`
	SessionExpiry time.Duration `mapstructure:"session_expiry"`
	// TokenSecret signs email verification and password reset tokens.
	TokenSecret       string        `mapstructure:"token_secret"`
	VerifyTokenExpiry time.Duration `mapstructure:"verify_token_expiry"`
	ResetTokenExpiry  time.Duration `mapstructure:"reset_token_expiry"`
	OAuthGitHubID     string        `mapstructure:"oauth_github_id"`
	OAuthGitHubSecret string        `mapstructure:"oauth_github_secret"`
	OAuthGoogleID     string        `mapstructure:"oauth_google_id"`
	OAuthGoogleSecret string        `mapstructure:"oauth_google_secret"`
	OAuthCallbackURL  string        `mapstructure:"oauth_callback_url"`
}

// StripeConfig holds payment provider configuration.
type StripeConfig struct {
	SecretKey       string        `mapstructure:"secret_key"`
	PublishableKey  string        `mapstructure:"publishable_key"`
	WebhookSecret   string        `mapstructure:"webhook_secret"`
	PriceProMonthly string        `mapstructure:"price_pro_monthly"`
	PriceProYearly  string        `mapstructure:"price_pro_yearly"`
	EventLedgerTTL  time.Duration `mapstructure:"event_ledger_ttl"`
}

// EmailConfig holds SMTP configuration for transactional email.
type EmailConfig struct {
	SMTPHost     string `mapstructure:"smtp_host"`
	SMTPPort     int    `mapstructure:"smtp_port"`
	SMTPUser     string `mapstructure:"smtp_user"`
	SMTPPassword string `mapstructure:"smtp_password"`
	FromEmail    string `mapstructure:"from_email"`
	FromName     string `mapstructure:"from_name"`
}

// Enabled reports whether an SMTP relay is configured.
func (c EmailConfig) Enabled() bool {
	return c.SMTPHost != ""
}

// StorageConfig holds S3-compatible object storage configuration.
type StorageConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	MaxAvatarBytes  int64  `mapstructure:"max_avatar_bytes"`
}

// RateLimitConfig holds the Redis-backed limiter settings.
type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	AuthPerMinute     int `mapstructure:"auth_per_minute"`
	BurstSize         int `mapstructure:"burst_size"`
}

// Load reads configuration from files and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/saas")

	v.SetEnvPrefix("SAAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Built-in secrets for local development. Validate rejects them outside dev.
const (
	DevSessionSecret = "dev-session-secret-change-me-please!!"
	DevTokenSecret   = "dev-token-secret-change-me-please!!!!"
)

// Validate rejects settings the server cannot run with. Missing payment or
// email settings are not fatal; the operations that need them fail instead.
func (c *Config) Validate() error {
	if c.Server.SiteURL == "" {
		return errors.New("server.site_url is required")
	}
	if !c.Server.IsDev() {
		if len(c.Auth.SessionSecret) < 32 {
			return errors.New("auth.session_secret must be at least 32 bytes outside dev")
		}
		if len(c.Auth.TokenSecret) < 32 {
			return errors.New("auth.token_secret must be at least 32 bytes outside dev")
		}
		if c.Auth.SessionSecret == DevSessionSecret {
			return errors.New("auth.session_secret must be changed from the dev default outside dev")
		}
		if c.Auth.TokenSecret == DevTokenSecret {
			return errors.New("auth.token_secret must be changed from the dev default outside dev")
		}
	}
	return nil
}

// bindEnv maps the conventional unprefixed variable names onto config keys.
// The first name wins when both are set.
func bindEnv(v *viper.Viper) {
	binds := map[string][]string{
		"server.site_url":           {"SAAS_SERVER_SITE_URL", "SITE_URL"},
		"database.password":         {"SAAS_DATABASE_PASSWORD"},
		"redis.password":            {"SAAS_REDIS_PASSWORD"},
		"auth.session_secret":       {"SAAS_AUTH_SESSION_SECRET", "SESSION_SECRET"},
		"auth.token_secret":         {"SAAS_AUTH_TOKEN_SECRET", "TOKEN_SECRET"},
		"auth.oauth_github_id":      {"SAAS_AUTH_OAUTH_GITHUB_ID", "GITHUB_CLIENT_ID"},
		"auth.oauth_github_secret":  {"SAAS_AUTH_OAUTH_GITHUB_SECRET", "GITHUB_CLIENT_SECRET"},
		"auth.oauth_google_id":      {"SAAS_AUTH_OAUTH_GOOGLE_ID", "GOOGLE_CLIENT_ID"},
		"auth.oauth_google_secret":  {"SAAS_AUTH_OAUTH_GOOGLE_SECRET", "GOOGLE_CLIENT_SECRET"},
		"stripe.secret_key":         {"SAAS_STRIPE_SECRET_KEY", "STRIPE_SECRET_KEY"},
		"stripe.publishable_key":    {"SAAS_STRIPE_PUBLISHABLE_KEY", "STRIPE_PUBLISHABLE_KEY"},
		"stripe.webhook_secret":     {"SAAS_STRIPE_WEBHOOK_SECRET", "STRIPE_WEBHOOK_SECRET"},
		"stripe.price_pro_monthly":  {"SAAS_STRIPE_PRICE_PRO_MONTHLY", "STRIPE_PRICE_PRO_MONTHLY"},
		"stripe.price_pro_yearly":   {"SAAS_STRIPE_PRICE_PRO_YEARLY", "STRIPE_PRICE_PRO_YEARLY"},
		"email.smtp_password":       {"SAAS_EMAIL_SMTP_PASSWORD", "SMTP_PASSWORD"},
		"email.from_email":          {"SAAS_EMAIL_FROM_EMAIL", "EMAIL_FROM"},
		"storage.endpoint":          {"SAAS_STORAGE_ENDPOINT", "R2_ENDPOINT"},
		"storage.bucket":            {"SAAS_STORAGE_BUCKET", "R2_BUCKET_NAME"},
		"storage.access_key_id":     {"SAAS_STORAGE_ACCESS_KEY_ID", "R2_ACCESS_KEY_ID"},
		"storage.secret_access_key": {"SAAS_STORAGE_SECRET_ACCESS_KEY", "R2_SECRET_ACCESS_KEY"},
	}
	for key, names := range binds {
		args := append([]string{key}, names...)
		_ = v.BindEnv(args...)
	}
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.environment", "dev")
	v.SetDefault("server.site_url", "http://localhost:3000")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:*"})

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "saas")
	v.SetDefault("database.password", "saas")
	v.SetDefault("database.database", "saas")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Auth defaults
	v.SetDefault("auth.session_secret", DevSessionSecret)
	v.SetDefault("auth.token_secret", DevTokenSecret)
	v.SetDefault("auth.session_expiry", "168h") // 7 days
	v.SetDefault("auth.verify_token_expiry", "24h")
	v.SetDefault("auth.reset_token_expiry", "1h")
	v.SetDefault("auth.oauth_callback_url", "http://localhost:8080")

	// Stripe defaults
	v.SetDefault("stripe.event_ledger_ttl", "72h")

	// Email defaults
	v.SetDefault("email.smtp_port", 587)
	v.SetDefault("email.from_email", "noreply@example.com")
	v.SetDefault("email.from_name", "SaaS Starter")

	// Storage defaults
	v.SetDefault("storage.region", "auto")
	v.SetDefault("storage.max_avatar_bytes", 5*1024*1024)

	// Rate limit defaults
	v.SetDefault("rate_limit.requests_per_minute", 120)
	v.SetDefault("rate_limit.auth_per_minute", 10)
	v.SetDefault("rate_limit.burst_size", 10)
}
