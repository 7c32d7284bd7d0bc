// Package config provides unified configuration loading for pricelistd.
// Supports YAML files, environment variables, and structural defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for pricelistd.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Cache         CacheConfig         `yaml:"cache"`
	ObjectStore   ObjectStoreConfig   `yaml:"object_store"`
	OCR           UpstreamConfig      `yaml:"ocr"`
	VLM           UpstreamConfig      `yaml:"vlm"`
	LLM           UpstreamConfig      `yaml:"llm"`
	Auth          AuthConfig          `yaml:"auth"`
	Ingestion     IngestionConfig     `yaml:"ingestion"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// DatabaseConfig holds database connection settings. Driver is inferred
// from the DATABASE_URL scheme ("sqlite:" or "postgres(ql)://").
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	DSN    string `yaml:"dsn"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// CacheConfig holds cache settings.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// ObjectStoreConfig holds MinIO-compatible object store settings.
type ObjectStoreConfig struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	BucketPDFs      string `yaml:"bucket_pdfs"`
	BucketPages     string `yaml:"bucket_pages"`
	BucketOutput    string `yaml:"bucket_output"`
}

// UpstreamConfig describes one OpenAI-compatible chat-completions upstream
// (OCR, VLM, or LLM). Model is optional for OCR since spec.md's OCR path
// sends an empty-prompt image completion against a single fixed model.
type UpstreamConfig struct {
	ServerURL string        `yaml:"server_url"`
	Model     string        `yaml:"model"`
	Timeout   time.Duration `yaml:"timeout"`
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	JWTSecretKey          string        `yaml:"jwt_secret_key"`
	AccessTokenExpiresIn  time.Duration `yaml:"access_token_expires_in"`
	RefreshTokenExpiresIn time.Duration `yaml:"refresh_token_expires_in"`
}

// IngestionConfig holds ingest pipeline settings (spec.md §4.2, §5).
type IngestionConfig struct {
	OCRWorkerCount  int `yaml:"ocr_worker_count"`
	RenderWorkers   int `yaml:"render_workers"`
	RenderDPI       int `yaml:"render_dpi"`
	RenderLongEdge  int `yaml:"render_long_edge_px"`
	RetryBaseDelay  time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay   time.Duration `yaml:"retry_max_delay"`
	RetryMaxAttempt int           `yaml:"retry_max_attempts"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load reads configuration from a YAML file (if present) and applies
// environment variable overrides on top, then validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			fileCfg := &Config{}
			if err := yaml.Unmarshal(data, fileCfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
			if err := mergo.Merge(fileCfg, cfg); err != nil {
				return nil, fmt.Errorf("merge config defaults: %w", err)
			}
			cfg = fileCfg
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8085,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     60 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             "/tmp/pricelistd.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Cache: CacheConfig{
			Driver:     "memory",
			TTL:        10 * time.Minute,
			MaxEntries: 10000,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
			},
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:     "localhost:9000",
			UseSSL:       false,
			BucketPDFs:   "pdfs",
			BucketPages:  "pages",
			BucketOutput: "output",
		},
		OCR: UpstreamConfig{
			ServerURL: "http://localhost:8000/v1",
			Timeout:   120 * time.Second,
		},
		VLM: UpstreamConfig{
			ServerURL: "http://localhost:8001/v1",
			Model:     "gpt-4o-mini",
			Timeout:   180 * time.Second,
		},
		LLM: UpstreamConfig{
			ServerURL: "http://localhost:8002/v1",
			Model:     "gpt-4o-mini",
			Timeout:   180 * time.Second,
		},
		Auth: AuthConfig{
			AccessTokenExpiresIn:  15 * time.Minute,
			RefreshTokenExpiresIn: 30 * 24 * time.Hour,
		},
		Ingestion: IngestionConfig{
			OCRWorkerCount:  8,
			RenderWorkers:   4,
			RenderDPI:       200,
			RenderLongEdge:  1540,
			RetryBaseDelay:  500 * time.Millisecond,
			RetryMaxDelay:   8 * time.Second,
			RetryMaxAttempt: 4,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "debug",
			LogFormat: "console",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}
	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}
	if c.Ingestion.OCRWorkerCount < 1 {
		return fmt.Errorf("ocr_worker_count must be positive")
	}
	if c.Ingestion.RenderWorkers < 1 {
		return fmt.Errorf("render_workers must be positive")
	}
	if strings.TrimSpace(c.OCR.ServerURL) == "" {
		return fmt.Errorf("ocr server_url must not be empty")
	}
	return nil
}

// IsDevelopment reports whether the service is configured for local dev.
func (c *Config) IsDevelopment() bool {
	return c.Database.Driver == "sqlite"
}

// applyEnvOverrides applies environment variable overrides per spec.md §6.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		switch {
		case strings.HasPrefix(v, "sqlite:"):
			cfg.Database.Driver = "sqlite"
			cfg.Database.DSN = strings.TrimPrefix(v, "sqlite:")
		case strings.HasPrefix(v, "postgres://"), strings.HasPrefix(v, "postgresql://"):
			cfg.Database.Driver = "postgres"
			cfg.Database.DSN = v
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.ObjectStore.Endpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.ObjectStore.AccessKeyID = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.ObjectStore.SecretAccessKey = v
	}
	if v := os.Getenv("MINIO_SECURE"); v != "" {
		cfg.ObjectStore.UseSSL = v == "true" || v == "1"
	}

	if v := os.Getenv("JWT_SECRET_KEY"); v != "" {
		cfg.Auth.JWTSecretKey = v
	}
	if v := os.Getenv("JWT_ACCESS_TOKEN_EXPIRES"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Auth.AccessTokenExpiresIn = d
		}
	}
	if v := os.Getenv("JWT_REFRESH_TOKEN_EXPIRES"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Auth.RefreshTokenExpiresIn = d
		}
	}

	if v := os.Getenv("OCR_SERVER_URL"); v != "" {
		cfg.OCR.ServerURL = v
	}
	if v := os.Getenv("VLM_SERVER_URL"); v != "" {
		cfg.VLM.ServerURL = v
	}
	if v := os.Getenv("VLM_MODEL"); v != "" {
		cfg.VLM.Model = v
	}
	if v := os.Getenv("LLM_SERVER_URL"); v != "" {
		cfg.LLM.ServerURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}

	if v := os.Getenv("OCR_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ingestion.OCRWorkerCount = n
		}
	}
	if v := os.Getenv("RENDER_DPI"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ingestion.RenderDPI = n
		}
	}
	if v := os.Getenv("RENDER_LONG_EDGE_PX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ingestion.RenderLongEdge = n
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
