package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server  ServerConfig
	Egress  EgressConfig
	Browser BrowserConfig
	Scraper ScraperConfig
	Images  ImagesConfig
	Sink    SinkConfig
	Database DatabaseConfig
	Redis   RedisConfig
	Logging LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// EgressConfig describes the two egress routes: a managed browser relay
// reached over CDP and a credentialed forward proxy for a locally
// launched browser.
type EgressConfig struct {
	RelayCDPURL   string
	ProxyServer   string
	ProxyUsername string
	ProxyPassword string
	RobotsTimeout time.Duration
}

type BrowserConfig struct {
	Headless       bool
	NavTimeout     time.Duration
	ReadyTimeout   time.Duration
	NavRetries     int
	ViewportWidth  int
	ViewportHeight int
	UserAgent      string
}

type ScraperConfig struct {
	PageDelayMin time.Duration
	PageDelayMax time.Duration
}

type ImagesConfig struct {
	Dir          string
	Concurrency  int
	FetchTimeout time.Duration
	Retries      int
	RetryDelay   time.Duration
}

type SinkConfig struct {
	ExcelDir string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8001"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 15*time.Minute),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Egress: EgressConfig{
			RelayCDPURL:   os.Getenv("PROXY_URL"),
			ProxyServer:   os.Getenv("PROXY_SERVER"),
			ProxyUsername: os.Getenv("PROXY_USERNAME"),
			ProxyPassword: os.Getenv("PROXY_PASSWORD"),
			RobotsTimeout: getDurationOrDefault("ROBOTS_TIMEOUT", 10*time.Second),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			NavTimeout:     getDurationOrDefault("BROWSER_NAV_TIMEOUT", 180*time.Second),
			ReadyTimeout:   getDurationOrDefault("BROWSER_READY_TIMEOUT", 30*time.Second),
			NavRetries:     getIntOrDefault("BROWSER_NAV_RETRIES", 2),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			UserAgent:      getEnvOrDefault("BROWSER_USER_AGENT", defaultUserAgent),
		},
		Scraper: ScraperConfig{
			PageDelayMin: getDurationOrDefault("SCRAPER_PAGE_DELAY_MIN", 3*time.Second),
			PageDelayMax: getDurationOrDefault("SCRAPER_PAGE_DELAY_MAX", 5*time.Second),
		},
		Images: ImagesConfig{
			Dir:          getEnvOrDefault("IMAGE_DIR", "static/Images"),
			Concurrency:  getIntOrDefault("IMAGE_CONCURRENCY", 8),
			FetchTimeout: getDurationOrDefault("IMAGE_FETCH_TIMEOUT", 60*time.Second),
			Retries:      getIntOrDefault("IMAGE_RETRIES", 3),
			RetryDelay:   getDurationOrDefault("IMAGE_RETRY_DELAY", time.Second),
		},
		Sink: SinkConfig{
			ExcelDir: getEnvOrDefault("EXCEL_DIR", "static/ExcelData"),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "webstudy"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getIntOrDefault("REDIS_DB", 0),
			Stream:   getEnvOrDefault("REDIS_STREAM", "scrape-events"),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Egress.RelayCDPURL == "" && c.Egress.ProxyServer == "" {
		return fmt.Errorf("at least one egress route must be configured (PROXY_URL or PROXY_SERVER)")
	}

	if c.Images.Concurrency < 1 {
		return fmt.Errorf("IMAGE_CONCURRENCY must be at least 1")
	}

	if c.Scraper.PageDelayMin > c.Scraper.PageDelayMax {
		return fmt.Errorf("SCRAPER_PAGE_DELAY_MIN cannot be greater than SCRAPER_PAGE_DELAY_MAX")
	}

	if c.Browser.NavRetries < 0 {
		return fmt.Errorf("BROWSER_NAV_RETRIES cannot be negative")
	}

	return nil
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
