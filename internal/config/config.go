package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers for the relational data.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	StoreDriver string `mapstructure:"STORE_DRIVER"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	CORSOrigins     []string `mapstructure:"CORS_ORIGINS"`
	BodyLimit       string   `mapstructure:"BODY_LIMIT"`
	UploadBodyLimit string   `mapstructure:"UPLOAD_BODY_LIMIT"`

	StorageDriver     string `mapstructure:"STORAGE_DRIVER"`
	StorageRoot       string `mapstructure:"STORAGE_ROOT"`
	S3Bucket          string `mapstructure:"S3_BUCKET"`
	S3Region          string `mapstructure:"S3_REGION"`
	S3Endpoint        string `mapstructure:"S3_ENDPOINT"`
	S3PathStyle       bool   `mapstructure:"S3_PATH_STYLE"`
	S3Prefix          string `mapstructure:"S3_PREFIX"`
	S3AccessKeyID     string `mapstructure:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `mapstructure:"S3_SECRET_ACCESS_KEY"`

	EnrichmentEnabled   bool          `mapstructure:"ENRICHMENT_ENABLED"`
	EnrichmentAuto      bool          `mapstructure:"ENRICHMENT_AUTO"`
	EnrichmentWorkers   int           `mapstructure:"ENRICHMENT_WORKERS"`
	EnrichmentQueueSize int           `mapstructure:"ENRICHMENT_QUEUE_SIZE"`
	EnrichmentTimeout   time.Duration `mapstructure:"ENRICHMENT_TIMEOUT"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"STORE_DRIVER", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "BODY_LIMIT", "UPLOAD_BODY_LIMIT",
	"STORAGE_DRIVER", "STORAGE_ROOT",
	"S3_BUCKET", "S3_REGION", "S3_ENDPOINT", "S3_PATH_STYLE", "S3_PREFIX",
	"S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY",
	"ENRICHMENT_ENABLED", "ENRICHMENT_AUTO", "ENRICHMENT_WORKERS",
	"ENRICHMENT_QUEUE_SIZE", "ENRICHMENT_TIMEOUT",
}

// Load reads the environment, falling back to an optional .env file in the
// working directory.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_DRIVER", StorePostgres)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("UPLOAD_BODY_LIMIT", "512M")
	v.SetDefault("STORAGE_DRIVER", "fs")
	v.SetDefault("STORAGE_ROOT", "./data/studies")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("ENRICHMENT_ENABLED", true)
	v.SetDefault("ENRICHMENT_AUTO", false)
	v.SetDefault("ENRICHMENT_WORKERS", 2)
	v.SetDefault("ENRICHMENT_QUEUE_SIZE", 64)
	v.SetDefault("ENRICHMENT_TIMEOUT", "2m")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CORSOrigins = splitList(strings.Join(cfg.CORSOrigins, ","))
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate refuses configurations that cannot serve requests safely.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", StorePostgres)
		}
	case StoreMemory:
		if c.IsProduction() {
			return fmt.Errorf("STORE_DRIVER %q is not allowed in production", StoreMemory)
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StorePostgres, StoreMemory, c.StoreDriver)
	}

	if c.AuthSigningKey == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf("either AUTH_SIGNING_KEY or AUTH_JWKS_URL must be set")
	}
	if c.IsProduction() && c.AuthSigningKey != "" && c.AuthJWKSURL == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is for development; set AUTH_JWKS_URL in production")
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 characters")
	}

	switch c.StorageDriver {
	case "memory":
		if c.IsProduction() {
			return fmt.Errorf("STORAGE_DRIVER memory is not allowed in production")
		}
	case "fs":
		if c.StorageRoot == "" {
			return fmt.Errorf("STORAGE_ROOT is required for the fs storage driver")
		}
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for the s3 storage driver")
		}
	default:
		return fmt.Errorf("STORAGE_DRIVER must be memory, fs or s3, got %q", c.StorageDriver)
	}

	if c.EnrichmentEnabled {
		if c.EnrichmentWorkers < 1 {
			return fmt.Errorf("ENRICHMENT_WORKERS must be at least 1")
		}
		if c.EnrichmentQueueSize < 1 {
			return fmt.Errorf("ENRICHMENT_QUEUE_SIZE must be at least 1")
		}
		if c.EnrichmentTimeout <= 0 {
			return fmt.Errorf("ENRICHMENT_TIMEOUT must be positive")
		}
	}
	return nil
}
