// Package config loads runtime configuration from defaults, an optional YAML
// file, a .env file and the process environment, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Storage  StorageConfig  `yaml:"storage"`
	OCR      OCRConfig      `yaml:"ocr"`
	Queue    QueueConfig    `yaml:"queue"`
	Cache    CacheConfig    `yaml:"cache"`
	Search   SearchConfig   `yaml:"search"`
	Redis    RedisConfig    `yaml:"redis"`
	LogLevel string         `yaml:"log_level"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Name     string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Retries  int    `yaml:"retries"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type StorageConfig struct {
	MediaRoot string `yaml:"media_root"`
}

type OCRConfig struct {
	Engine       string   `yaml:"engine"` // tesseract or noop
	Languages    []string `yaml:"languages"`
	DefaultLang  string   `yaml:"default_lang"`
	DPI          int      `yaml:"dpi"`
	Workers      int      `yaml:"workers"`
	PageParallel int      `yaml:"page_parallel"`
	MaxAttempts  int      `yaml:"max_attempts"`
}

type QueueConfig struct {
	Driver string `yaml:"driver"` // memory or redis
	Name   string `yaml:"name"`
}

type CacheConfig struct {
	Driver string        `yaml:"driver"` // memory or redis
	TTL    time.Duration `yaml:"ttl"`
}

type SearchConfig struct {
	Engine     string `yaml:"engine"` // postgres, sqlite or elasticsearch
	SQLitePath string `yaml:"sqlite_path"`
	URL        string `yaml:"url"`
	Index      string `yaml:"index"`
	PerPage    int    `yaml:"per_page"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// Load builds the configuration. An empty path skips the YAML file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     60 * time.Second,
			GracefulShutdown: 10 * time.Second,
			AllowedOrigins:   []string{"*"},
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    "5432",
			Name:    "papervault",
			SSLMode: "disable",
			Retries: 5,
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Storage: StorageConfig{
			MediaRoot: "./media",
		},
		OCR: OCRConfig{
			Engine:       "tesseract",
			Languages:    []string{"eng", "deu"},
			DefaultLang:  "eng",
			DPI:          300,
			Workers:      2,
			PageParallel: 4,
			MaxAttempts:  3,
		},
		Queue: QueueConfig{
			Driver: "memory",
			Name:   "ocr",
		},
		Cache: CacheConfig{
			Driver: "memory",
			TTL:    10 * time.Minute,
		},
		Search: SearchConfig{
			Engine:     "postgres",
			SQLitePath: "./media/search.db",
			URL:        "http://127.0.0.1:9200",
			Index:      "papervault",
			PerPage:    30,
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "pv:",
		},
		LogLevel: "info",
	}
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Queue.Driver != "memory" && c.Queue.Driver != "redis" {
		return fmt.Errorf("invalid queue driver: %s", c.Queue.Driver)
	}
	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}
	switch c.Search.Engine {
	case "postgres", "sqlite", "elasticsearch":
	default:
		return fmt.Errorf("invalid search engine: %s", c.Search.Engine)
	}
	if c.OCR.Engine != "tesseract" && c.OCR.Engine != "noop" {
		return fmt.Errorf("invalid ocr engine: %s", c.OCR.Engine)
	}
	if c.OCR.Workers < 1 {
		return fmt.Errorf("ocr.workers must be at least 1")
	}
	if c.OCR.PageParallel < 1 {
		return fmt.Errorf("ocr.page_parallel must be at least 1")
	}
	return nil
}

// DatabaseDSN returns the explicit DSN or one assembled from the discrete fields.
func (c *Config) DatabaseDSN() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	d := c.Database
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func applyEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	str("SERVER_HOST", &cfg.Server.Host)
	num("SERVER_PORT", &cfg.Server.Port)

	str("DATABASE_URL", &cfg.Database.DSN)
	str("user", &cfg.Database.User)
	str("password", &cfg.Database.Password)
	str("host", &cfg.Database.Host)
	str("port", &cfg.Database.Port)
	str("dbname", &cfg.Database.Name)
	str("DB_SSLMODE", &cfg.Database.SSLMode)

	str("JWT_SECRET", &cfg.Auth.JWTSecret)
	if v := os.Getenv("TOKEN_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Auth.TokenTTL = d
		}
	}

	str("MEDIA_ROOT", &cfg.Storage.MediaRoot)

	str("OCR_ENGINE", &cfg.OCR.Engine)
	str("OCR_DEFAULT_LANG", &cfg.OCR.DefaultLang)
	num("OCR_WORKERS", &cfg.OCR.Workers)
	num("OCR_DPI", &cfg.OCR.DPI)
	if v := os.Getenv("OCR_LANGUAGES"); v != "" {
		cfg.OCR.Languages = strings.Split(v, ",")
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.Addr = strings.TrimPrefix(v, "redis://")
		cfg.Queue.Driver = "redis"
		cfg.Cache.Driver = "redis"
	}
	str("QUEUE_DRIVER", &cfg.Queue.Driver)
	str("CACHE_DRIVER", &cfg.Cache.Driver)

	str("SEARCH_ENGINE", &cfg.Search.Engine)
	str("SEARCH_URL", &cfg.Search.URL)
	str("SEARCH_SQLITE_PATH", &cfg.Search.SQLitePath)

	str("LOG_LEVEL", &cfg.LogLevel)
}
