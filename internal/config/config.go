// Package config loads service configuration. Sources, lowest precedence
// first: built-in defaults, an optional YAML file named by CONFIG_FILE, then
// environment variables (a .env file in the working directory is loaded
// into the environment first).
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Pricing  PricingConfig  `yaml:"pricing"`
	Advisor  AdvisorConfig  `yaml:"advisor"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port        string   `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// DatabaseConfig selects the store: Postgres when URL is set, wrapped in a
// Redis cache when RedisURL is also set, in-memory otherwise.
type DatabaseConfig struct {
	URL            string `yaml:"url"`
	MaxConns       int    `yaml:"max_conns"`
	RedisURL       string `yaml:"redis_url"`
	MigrateOnStart bool   `yaml:"migrate_on_start"`
}

type CacheConfig struct {
	TTL      time.Duration `yaml:"ttl"`
	PriceTTL time.Duration `yaml:"price_ttl"`
}

// PricingConfig configures the CoinGecko client.
type PricingConfig struct {
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	Timeout       time.Duration `yaml:"timeout"`
	RatePerSecond float64       `yaml:"rate_per_sec"`
	ListingSize   int           `yaml:"listing_size"`
}

// AdvisorConfig configures AI advice. Without an API key advice requests
// answer with the apology text.
type AdvisorConfig struct {
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "8080",
			CORSOrigins: []string{"*"},
		},
		Database: DatabaseConfig{
			MaxConns: 10,
		},
		Cache: CacheConfig{
			TTL:      30 * time.Second,
			PriceTTL: 60 * time.Second,
		},
		Pricing: PricingConfig{
			BaseURL:       "https://api.coingecko.com/api/v3",
			Timeout:       10 * time.Second,
			RatePerSecond: 0.5,
			ListingSize:   250,
		},
		Advisor: AdvisorConfig{
			Model:   "gemini-2.5-flash",
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig loads configuration from defaults, CONFIG_FILE, .env and the
// environment.
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	if origins := getEnv("CORS_ORIGINS", ""); origins != "" {
		c.Server.CORSOrigins = splitList(origins)
	}

	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	c.Database.MaxConns = getEnvAsInt("DB_MAX_CONNS", c.Database.MaxConns)
	c.Database.RedisURL = getEnv("REDIS_URL", c.Database.RedisURL)
	c.Database.MigrateOnStart = getEnvAsBool("MIGRATE_ON_START", c.Database.MigrateOnStart)

	c.Cache.TTL = getEnvAsDuration("CACHE_TTL", c.Cache.TTL)
	c.Cache.PriceTTL = getEnvAsDuration("PRICE_CACHE_TTL", c.Cache.PriceTTL)

	c.Pricing.BaseURL = getEnv("COINGECKO_BASE_URL", c.Pricing.BaseURL)
	c.Pricing.APIKey = getEnv("COINGECKO_API_KEY", c.Pricing.APIKey)
	c.Pricing.Timeout = getEnvAsDuration("PRICE_TIMEOUT", c.Pricing.Timeout)
	c.Pricing.RatePerSecond = getEnvAsFloat("PRICE_RATE_PER_SEC", c.Pricing.RatePerSecond)
	c.Pricing.ListingSize = getEnvAsInt("MARKET_LISTING_SIZE", c.Pricing.ListingSize)

	c.Advisor.APIKey = getEnv("GEMINI_API_KEY", c.Advisor.APIKey)
	c.Advisor.Model = getEnv("ADVISOR_MODEL", c.Advisor.Model)
	c.Advisor.Timeout = getEnvAsDuration("ADVISOR_TIMEOUT", c.Advisor.Timeout)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("config: port must not be empty")
	}
	if c.Database.MaxConns < 0 {
		return fmt.Errorf("config: max_conns must not be negative")
	}
	if c.Pricing.Timeout <= 0 {
		return fmt.Errorf("config: price timeout must be positive")
	}
	if c.Database.RedisURL != "" && c.Database.URL == "" {
		slog.Warn("REDIS_URL set without DATABASE_URL; portfolio cache disabled")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Logging.Format)
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

// Logger builds the slog logger described by the logging settings.
func (l LoggingConfig) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(l.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("config: unknown log level %q", s)
	}
	return level, nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
