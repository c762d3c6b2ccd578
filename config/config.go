package config

import (
	"os"
	"strconv"
	"time"

	"olxmonitor/pkg/errors"
)

// Config represents the application configuration
type Config struct {
	// Database configuration
	DBDriver string // "sqlite" or "postgres"
	DBDSN    string

	// Crawl target
	BaseURL     string
	CityURL     string
	ListingType string // "sale" or "rent"

	// Crawl behavior
	MaxPages       int
	MinDelay       time.Duration
	MaxDelay       time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	TargetCurrency string

	// District resolution
	DefaultDistrict string

	// Memcache configuration (rate-limit cool-down cache, optional)
	MemcacheAddr   string
	FetchBlockTime time.Duration

	// Redis configuration (progress relay, optional)
	RedisAddr            string
	RedisDB              int
	RedisStream          string
	RedisStreamMaxLength int

	// Progress channel buffer size
	ProgressBuffer int

	// Environment
	Environment string
}

// LoadConfig loads the configuration from environment variables with defaults
func LoadConfig() *Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	streamMaxLen, _ := strconv.Atoi(getEnv("REDIS_STREAM_MAX_LENGTH", "1000"))
	maxPages, _ := strconv.Atoi(getEnv("SCRAPER_MAX_PAGES", "25"))
	minDelay, _ := strconv.Atoi(getEnv("SCRAPER_MIN_DELAY_MS", "4000"))
	maxDelay, _ := strconv.Atoi(getEnv("SCRAPER_MAX_DELAY_MS", "8000"))
	maxRetries, _ := strconv.Atoi(getEnv("SCRAPER_MAX_RETRIES", "3"))
	retryDelay, _ := strconv.Atoi(getEnv("SCRAPER_RETRY_DELAY_SECONDS", "10"))
	blockTime, _ := strconv.Atoi(getEnv("FETCH_BLOCK_SECONDS", "300"))
	progressBuffer, _ := strconv.Atoi(getEnv("PROGRESS_BUFFER", "64"))

	return &Config{
		DBDriver:             getEnv("DB_DRIVER", "sqlite"),
		DBDSN:                getEnv("DB_DSN", "data/olx_offers.sqlite"),
		BaseURL:              getEnv("OLX_BASE_URL", "https://www.olx.ua"),
		CityURL:              getEnv("OLX_CITY_URL", "https://www.olx.ua/d/uk/nedvizhimost/kvartiry/ivano-frankivsk/"),
		ListingType:          getEnv("SCRAPER_LISTING_TYPE", "sale"),
		MaxPages:             maxPages,
		MinDelay:             time.Duration(minDelay) * time.Millisecond,
		MaxDelay:             time.Duration(maxDelay) * time.Millisecond,
		MaxRetries:           maxRetries,
		RetryDelay:           time.Duration(retryDelay) * time.Second,
		TargetCurrency:       getEnv("TARGET_CURRENCY", "USD"),
		DefaultDistrict:      getEnv("DEFAULT_DISTRICT", "Центр"),
		MemcacheAddr:         getEnv("MEMCACHE_ADDR", ""),
		FetchBlockTime:       time.Duration(blockTime) * time.Second,
		RedisAddr:            getEnv("REDIS_ADDR", ""),
		RedisDB:              redisDB,
		RedisStream:          getEnv("REDIS_STREAM", "scrape-progress"),
		RedisStreamMaxLength: streamMaxLen,
		ProgressBuffer:       progressBuffer,
		Environment:          getEnv("OLXMONITOR_ENVIRONMENT", "development"),
	}
}

// Validate checks the configuration for inconsistent values
func (c *Config) Validate() error {
	if c.DBDriver != "sqlite" && c.DBDriver != "postgres" {
		return errors.NewConfiguration("DB_DRIVER must be sqlite or postgres, got "+c.DBDriver, nil)
	}
	if c.DBDSN == "" {
		return errors.NewConfiguration("DB_DSN must not be empty", nil)
	}
	if c.ListingType != "sale" && c.ListingType != "rent" {
		return errors.NewConfiguration("SCRAPER_LISTING_TYPE must be sale or rent, got "+c.ListingType, nil)
	}
	if c.MaxPages < 1 {
		return errors.NewConfiguration("SCRAPER_MAX_PAGES must be at least 1", nil)
	}
	if c.MinDelay < 0 || c.MaxDelay < c.MinDelay {
		return errors.NewConfiguration("delay window invalid: min must be >= 0 and max >= min", nil)
	}
	if c.MaxRetries < 1 {
		return errors.NewConfiguration("SCRAPER_MAX_RETRIES must be at least 1", nil)
	}
	if c.TargetCurrency == "" {
		return errors.NewConfiguration("TARGET_CURRENCY must not be empty", nil)
	}
	return nil
}

// SearchURL builds the paginated search URL for the configured listing type.
// The session appends the page parameter.
func (c *Config) SearchURL() string {
	url := c.CityURL
	switch c.ListingType {
	case "rent":
		url += "arenda/"
	case "sale":
		url += "prodazha/"
	}
	return url + "?currency=" + c.TargetCurrency
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
