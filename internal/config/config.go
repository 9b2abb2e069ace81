package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/utafrali/storefront-cart/internal/storage"
	pkgconfig "github.com/utafrali/storefront-cart/pkg/config"
	"github.com/utafrali/storefront-cart/pkg/database"
)

// Config holds all configuration for the cart service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	HTTPPort int `env:"CART_HTTP_PORT" envDefault:"8003"`

	// Catalog (stock and product lookups)
	CatalogBaseURL    string        `env:"CATALOG_BASE_URL" envDefault:"http://localhost:3333"`
	CatalogTimeout    time.Duration `env:"CATALOG_TIMEOUT" envDefault:"10s"`
	CatalogMaxRetries int           `env:"CATALOG_MAX_RETRIES" envDefault:"2"`
	CatalogRateLimit  float64       `env:"CATALOG_RATE_LIMIT" envDefault:"50"`

	// Storage
	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"redis"`

	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	PostgresHost     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER" envDefault:"ecommerce"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" envDefault:"ecommerce_secret"`
	PostgresDB       string `env:"POSTGRES_DB" envDefault:"ecommerce"`
	PostgresSSLMode  string `env:"POSTGRES_SSLMODE" envDefault:"disable"`

	// Cart
	StorageKey         string        `env:"CART_STORAGE_KEY" envDefault:"@RocketShoes:cart"`
	CartTTL            int           `env:"CART_TTL_HOURS" envDefault:"168"`
	SessionIdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"30m"`

	// Kafka
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Tracing
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load cart config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if u, err := url.Parse(c.CatalogBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid CATALOG_BASE_URL: %q", c.CatalogBaseURL)
	}
	if c.CatalogTimeout <= 0 {
		return fmt.Errorf("CATALOG_TIMEOUT must be positive, got %s", c.CatalogTimeout)
	}
	if c.CatalogMaxRetries < 0 {
		return fmt.Errorf("CATALOG_MAX_RETRIES must not be negative, got %d", c.CatalogMaxRetries)
	}
	if c.CatalogRateLimit < 0 {
		return fmt.Errorf("CATALOG_RATE_LIMIT must not be negative, got %g", c.CatalogRateLimit)
	}
	switch c.StorageDriver {
	case storage.DriverRedis, storage.DriverPostgres, storage.DriverMemory:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q (want redis, postgres or memory)", c.StorageDriver)
	}
	if strings.TrimSpace(c.StorageKey) == "" {
		return fmt.Errorf("CART_STORAGE_KEY is required")
	}
	if c.CartTTL < 0 {
		return fmt.Errorf("CART_TTL_HOURS must not be negative, got %d", c.CartTTL)
	}
	if c.SessionIdleTimeout <= 0 {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT must be positive, got %s", c.SessionIdleTimeout)
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0 and 1, got %g", c.OTELSampleRate)
	}
	return nil
}

// CartTTLDuration returns the Redis expiry for cart snapshots.
func (c *Config) CartTTLDuration() time.Duration {
	return time.Duration(c.CartTTL) * time.Hour
}

// Postgres returns the pool configuration for the postgres storage driver.
func (c *Config) Postgres() database.PostgresConfig {
	pg := database.DefaultPostgresConfig()
	pg.Host = c.PostgresHost
	pg.Port = c.PostgresPort
	pg.User = c.PostgresUser
	pg.Password = c.PostgresPassword
	pg.DBName = c.PostgresDB
	pg.SSLMode = c.PostgresSSLMode
	return pg
}
