package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/memberhub/internal/pkg/env"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the runtime configuration of the memberhub service.
type Config struct {
	AppEnv    string
	AppHost   string
	AppPort   string `validate:"required"`
	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=json console"`

	Database  DatabaseConfig
	Cache     CacheConfig
	Billing   BillingConfig
	RateLimit RateLimitConfig
	Archive   ArchiveConfig
}

type DatabaseConfig struct {
	Driver   string `validate:"oneof=mysql postgres"`
	Host     string `validate:"required"`
	Port     string `validate:"required"`
	User     string
	Password string
	Name     string `validate:"required"`
}

type CacheConfig struct {
	Enabled  bool
	Host     string
	Port     int `validate:"gt=0"`
	Password string
	DB       int `validate:"gte=0"`
}

type BillingConfig struct {
	WebhookSecret      string        `validate:"required"`
	SignatureScheme    string        `validate:"oneof=stripe hmac-sha256"`
	SignatureHeader    string        `validate:"required"`
	SignatureTolerance time.Duration `validate:"gt=0"`
	EventTimeout       time.Duration `validate:"gt=0"`
	DedupWindow        time.Duration `validate:"gt=0"`
	// Ledger selects where processed event ids are remembered.
	Ledger        string `validate:"oneof=redis db none"`
	UnknownStatus string `validate:"oneof=active expired"`
}

type RateLimitConfig struct {
	Max    int           `validate:"gt=0"`
	Window time.Duration `validate:"gt=0"`
}

type ArchiveConfig struct {
	Enabled         bool
	Bucket          string `validate:"required_if=Enabled true"`
	Region          string
	Endpoint        string
	Prefix          string
	AccessKeyID     string `validate:"required_if=Enabled true"`
	SecretAccessKey string `validate:"required_if=Enabled true"`
}

// DSN returns the gorm data source name for the configured driver.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "postgres" {
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
			d.Host, d.User, d.Password, d.Name, d.Port)
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// MigrateURL returns the golang-migrate database URL.
func (d DatabaseConfig) MigrateURL() string {
	if d.Driver == "postgres" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", d.User, d.Password, d.Host, d.Port, d.Name)
	}
	return fmt.Sprintf("mysql://%s:%s@tcp(%s:%s)/%s?multiStatements=true", d.User, d.Password, d.Host, d.Port, d.Name)
}

func (c CacheConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "prod")
	v.SetDefault("APP_HOST", "0.0.0.0")
	v.SetDefault("APP_PORT", "4000")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("DB_DRIVER", "mysql")
	v.SetDefault("DB_HOST", "127.0.0.1")
	v.SetDefault("DB_PORT", "")
	v.SetDefault("DB_USER", "")
	v.SetDefault("DB_PASSWORD", "")
	v.SetDefault("DB_NAME", "memberhub")

	v.SetDefault("CACHE_ENABLED", true)
	v.SetDefault("CACHE_HOST", "localhost")
	v.SetDefault("CACHE_PORT", 6379)
	v.SetDefault("CACHE_PASSWORD", "")
	v.SetDefault("CACHE_DB", 0)

	v.SetDefault("STRIPE_WEBHOOK_SECRET", "")
	v.SetDefault("BILLING_SIGNATURE_SCHEME", "stripe")
	v.SetDefault("BILLING_SIGNATURE_HEADER", "Stripe-Signature")
	v.SetDefault("BILLING_SIGNATURE_TOLERANCE", "5m")
	v.SetDefault("BILLING_EVENT_TIMEOUT", "10s")
	v.SetDefault("BILLING_DEDUP_WINDOW", "72h")
	v.SetDefault("BILLING_LEDGER", "redis")
	v.SetDefault("BILLING_UNKNOWN_STATUS", "expired")

	v.SetDefault("WEBHOOK_RATE_LIMIT_MAX", 120)
	v.SetDefault("WEBHOOK_RATE_LIMIT_WINDOW", "1m")

	v.SetDefault("ARCHIVE_S3_ENABLED", false)
	v.SetDefault("ARCHIVE_S3_BUCKET", "")
	v.SetDefault("ARCHIVE_S3_REGION", "us-east-1")
	v.SetDefault("ARCHIVE_S3_ENDPOINT", "")
	v.SetDefault("ARCHIVE_S3_PREFIX", "webhooks")
	v.SetDefault("ARCHIVE_S3_ACCESS_KEY_ID", "")
	v.SetDefault("ARCHIVE_S3_SECRET_ACCESS_KEY", "")
}

// Load reads .env (if any) and the process environment.
func Load() (*Config, error) {
	env.Load()
	v := viper.New()
	v.AutomaticEnv()
	return FromViper(v)
}

// FromViper builds and validates a Config from v.
func FromViper(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	cfg := &Config{
		AppEnv:    v.GetString("APP_ENV"),
		AppHost:   v.GetString("APP_HOST"),
		AppPort:   v.GetString("APP_PORT"),
		LogLevel:  strings.ToLower(v.GetString("LOG_LEVEL")),
		LogFormat: strings.ToLower(v.GetString("LOG_FORMAT")),
		Database:  databaseConfig(v),
		Cache: CacheConfig{
			Enabled:  v.GetBool("CACHE_ENABLED"),
			Host:     v.GetString("CACHE_HOST"),
			Port:     v.GetInt("CACHE_PORT"),
			Password: v.GetString("CACHE_PASSWORD"),
			DB:       v.GetInt("CACHE_DB"),
		},
		Billing: BillingConfig{
			WebhookSecret:      strings.TrimSpace(v.GetString("STRIPE_WEBHOOK_SECRET")),
			SignatureScheme:    strings.ToLower(v.GetString("BILLING_SIGNATURE_SCHEME")),
			SignatureHeader:    v.GetString("BILLING_SIGNATURE_HEADER"),
			SignatureTolerance: v.GetDuration("BILLING_SIGNATURE_TOLERANCE"),
			EventTimeout:       v.GetDuration("BILLING_EVENT_TIMEOUT"),
			DedupWindow:        v.GetDuration("BILLING_DEDUP_WINDOW"),
			Ledger:             strings.ToLower(v.GetString("BILLING_LEDGER")),
			UnknownStatus:      strings.ToLower(v.GetString("BILLING_UNKNOWN_STATUS")),
		},
		RateLimit: RateLimitConfig{
			Max:    v.GetInt("WEBHOOK_RATE_LIMIT_MAX"),
			Window: v.GetDuration("WEBHOOK_RATE_LIMIT_WINDOW"),
		},
		Archive: ArchiveConfig{
			Enabled:         v.GetBool("ARCHIVE_S3_ENABLED"),
			Bucket:          v.GetString("ARCHIVE_S3_BUCKET"),
			Region:          v.GetString("ARCHIVE_S3_REGION"),
			Endpoint:        v.GetString("ARCHIVE_S3_ENDPOINT"),
			Prefix:          v.GetString("ARCHIVE_S3_PREFIX"),
			AccessKeyID:     v.GetString("ARCHIVE_S3_ACCESS_KEY_ID"),
			SecretAccessKey: v.GetString("ARCHIVE_S3_SECRET_ACCESS_KEY"),
		},
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadDatabase reads only the database settings, for tools such as the
// migration command that run without billing secrets.
func LoadDatabase() (DatabaseConfig, error) {
	env.Load()
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	d := databaseConfig(v)
	if err := validator.New().Struct(d); err != nil {
		return DatabaseConfig{}, fmt.Errorf("invalid database configuration: %w", err)
	}
	return d, nil
}

func databaseConfig(v *viper.Viper) DatabaseConfig {
	driver := strings.ToLower(strings.TrimSpace(v.GetString("DB_DRIVER")))
	port := v.GetString("DB_PORT")
	if port == "" {
		port = "3306"
		if driver == "postgres" {
			port = "5432"
		}
	}
	return DatabaseConfig{
		Driver:   driver,
		Host:     v.GetString("DB_HOST"),
		Port:     port,
		User:     v.GetString("DB_USER"),
		Password: v.GetString("DB_PASSWORD"),
		Name:     v.GetString("DB_NAME"),
	}
}

// IsDev reports whether the service runs in development mode.
func (c *Config) IsDev() bool {
	return c.AppEnv == "dev"
}
