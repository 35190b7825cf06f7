package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/maltedev/reseller-monitor/internal/apperr"
)

type Config struct {
	Search    SearchConfig
	RateLimit RateLimitConfig
	Monitor   MonitorConfig
	Browser   BrowserConfig
	Scraper   ScraperConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Server    ServerConfig
	Output    OutputConfig
	Logging   LoggingConfig
}

type SearchConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	Sort         string
	PageSize     int
	Timeout      time.Duration
}

type RateLimitConfig struct {
	MinInterval     time.Duration
	Burst           int
	MaxAttempts     int
	BackoffBase     time.Duration
	BackoffFactor   float64
	RateLimitBase   time.Duration
	RateLimitFactor float64
	BackoffMax      time.Duration
}

type MonitorConfig struct {
	ProductConfigPath string
	SellerRulesPath   string
	ProductDelay      time.Duration
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	UserAgent      string
}

type ScraperConfig struct {
	SelectorsPath   string
	Timeout         time.Duration
	RateLimitMin    time.Duration
	RateLimitMax    time.Duration
	ConcurrentLimit int
	UserAgent       string
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

type OutputConfig struct {
	Dir     string
	Formats []string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment, after loading a .env file
// if one exists. Missing search credentials are a credential error.
func Load() (*Config, error) {
	cfg, err := LoadWithoutCredentials()
	if err != nil {
		return nil, err
	}
	if err := cfg.validateCredentials(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWithoutCredentials is Load for tools that never call the search API.
func LoadWithoutCredentials() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := FromEnv()
	if err := cfg.validateSettings(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a Config from the current environment without validating it.
func FromEnv() *Config {
	userAgent := getEnvOrDefault("SCRAPER_USER_AGENT", defaultUserAgent)

	return &Config{
		Search: SearchConfig{
			ClientID:     os.Getenv("NAVER_CLIENT_ID"),
			ClientSecret: os.Getenv("NAVER_CLIENT_SECRET"),
			BaseURL:      getEnvOrDefault("NAVER_API_BASE_URL", "https://openapi.naver.com"),
			Sort:         getEnvOrDefault("NAVER_SORT", "sim"),
			PageSize:     getIntOrDefault("NAVER_PAGE_SIZE", 100),
			Timeout:      getDurationOrDefault("NAVER_TIMEOUT", 10*time.Second),
		},
		RateLimit: RateLimitConfig{
			MinInterval:     getDurationOrDefault("RATE_LIMIT_INTERVAL", 100*time.Millisecond),
			Burst:           getIntOrDefault("RATE_LIMIT_BURST", 1),
			MaxAttempts:     getIntOrDefault("RETRY_MAX_ATTEMPTS", 3),
			BackoffBase:     getDurationOrDefault("RETRY_BACKOFF_BASE", 500*time.Millisecond),
			BackoffFactor:   getFloatOrDefault("RETRY_BACKOFF_FACTOR", 2),
			RateLimitBase:   getDurationOrDefault("RETRY_RATE_LIMIT_BASE", 2*time.Second),
			RateLimitFactor: getFloatOrDefault("RETRY_RATE_LIMIT_FACTOR", 4),
			BackoffMax:      getDurationOrDefault("RETRY_BACKOFF_MAX", 30*time.Second),
		},
		Monitor: MonitorConfig{
			ProductConfigPath: getEnvOrDefault("PRODUCT_CONFIG", "config/products.yaml"),
			SellerRulesPath:   getEnvOrDefault("SELLER_RULES_FILE", ""),
			ProductDelay:      getDurationOrDefault("PRODUCT_DELAY", time.Second),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "ko-KR,ko;q=0.9,en;q=0.8"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "Asia/Seoul"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "ko-KR"),
			UserAgent:      userAgent,
		},
		Scraper: ScraperConfig{
			SelectorsPath:   getEnvOrDefault("SELECTORS_FILE", ""),
			Timeout:         getDurationOrDefault("SCRAPER_TIMEOUT", 15*time.Second),
			RateLimitMin:    getDurationOrDefault("SCRAPER_RATE_LIMIT_MIN", time.Second),
			RateLimitMax:    getDurationOrDefault("SCRAPER_RATE_LIMIT_MAX", 3*time.Second),
			ConcurrentLimit: getIntOrDefault("SCRAPER_CONCURRENT_LIMIT", 3),
			UserAgent:       userAgent,
		},
		Database: DatabaseConfig{
			Enabled:  getBoolOrDefault("DB_ENABLED", false),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "reseller_monitor"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Enabled:  getBoolOrDefault("REDIS_ENABLED", false),
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
		},
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 5*time.Minute),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getStringSliceOrDefault("SERVER_ALLOWED_ORIGINS", []string{"*"}),
		},
		Output: OutputConfig{
			Dir:     getEnvOrDefault("OUTPUT_DIR", "data"),
			Formats: getStringSliceOrDefault("OUTPUT_FORMATS", []string{"json", "csv"}),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}
}

func (c *Config) Validate() error {
	if err := c.validateCredentials(); err != nil {
		return err
	}
	return c.validateSettings()
}

func (c *Config) validateCredentials() error {
	if c.Search.ClientID == "" || c.Search.ClientSecret == "" {
		return apperr.Credential("load_config",
			fmt.Errorf("%w: NAVER_CLIENT_ID and NAVER_CLIENT_SECRET must be set", apperr.ErrMissingCredentials))
	}
	return nil
}

func (c *Config) validateSettings() error {
	if c.Search.PageSize < 1 || c.Search.PageSize > 100 {
		return fmt.Errorf("NAVER_PAGE_SIZE must be between 1 and 100")
	}

	if c.RateLimit.MaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1")
	}

	if c.Scraper.ConcurrentLimit < 1 {
		return fmt.Errorf("SCRAPER_CONCURRENT_LIMIT must be at least 1")
	}

	if c.Scraper.RateLimitMin > c.Scraper.RateLimitMax {
		return fmt.Errorf("SCRAPER_RATE_LIMIT_MIN cannot be greater than SCRAPER_RATE_LIMIT_MAX")
	}

	for _, f := range c.Output.Formats {
		switch strings.ToLower(strings.TrimSpace(f)) {
		case "json", "csv", "xlsx":
		default:
			return fmt.Errorf("unsupported output format %q", f)
		}
	}

	return nil
}

// DSN returns the postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
