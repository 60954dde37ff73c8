package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const configPathEnv = "BDS_CONFIG"

// Config holds all application configuration loaded from environment
// variables, optionally overlaid by a YAML file named in BDS_CONFIG.
type Config struct {
	Store    StoreConfig  `yaml:"store"`
	Crawl    CrawlConfig  `yaml:"crawl"`
	Server   ServerConfig `yaml:"server"`
	DataDir  string       `yaml:"dataDir"`
	Author   string       `yaml:"author"`
	LogLevel string       `yaml:"logLevel"`
}

// StoreConfig describes the four logical stores. Empty per-store DSNs fall
// back to DSN, so a single database can host every layer.
type StoreConfig struct {
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	StagingDSN   string `yaml:"stagingDsn"`
	WarehouseDSN string `yaml:"warehouseDsn"`
	ControlDSN   string `yaml:"controlDsn"`
	MartDSN      string `yaml:"martDsn"`
	MaxRetries   int    `yaml:"maxRetries"`
}

// CrawlConfig controls the listing crawler.
type CrawlConfig struct {
	BaseURL        string `yaml:"baseUrl"`
	Pages          int    `yaml:"pages"`
	RateLimitMs    int    `yaml:"rateLimitMs"`
	MaxConcurrency int    `yaml:"maxConcurrency"`
	MaxRetries     int    `yaml:"maxRetries"`
	ChromeBin      string `yaml:"chromeBin"`
	TimeoutSec     int    `yaml:"timeoutSec"`
}

// ServerConfig controls the HTTP API and the built-in scheduler.
type ServerConfig struct {
	Addr             string `yaml:"addr"`
	ScheduleInterval string `yaml:"scheduleInterval"`
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	cfg := &Config{
		Store: StoreConfig{
			Driver:       getEnv("STORE_DRIVER", "postgres"),
			DSN:          getEnv("DATABASE_DSN", defaultPostgresDSN()),
			StagingDSN:   getEnv("STAGING_DSN", ""),
			WarehouseDSN: getEnv("WAREHOUSE_DSN", ""),
			ControlDSN:   getEnv("CONTROL_DSN", ""),
			MartDSN:      getEnv("MART_DSN", ""),
			MaxRetries:   getEnvInt("STORE_MAX_RETRIES", 5),
		},
		Crawl: CrawlConfig{
			BaseURL:        getEnv("CRAWL_BASE_URL", "https://alonhadat.com.vn/can-ban-nha-dat/ho-chi-minh"),
			Pages:          getEnvInt("CRAWL_PAGES", 10),
			RateLimitMs:    getEnvInt("RATE_LIMIT_MS", 1500),
			MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 2),
			MaxRetries:     getEnvInt("MAX_RETRIES", 3),
			ChromeBin:      getEnv("CHROME_BIN", ""),
			TimeoutSec:     getEnvInt("CRAWL_TIMEOUT_SEC", 60),
		},
		Server: ServerConfig{
			Addr:             getEnv("HTTP_ADDR", ":8080"),
			ScheduleInterval: getEnv("SCHEDULE_INTERVAL", "24h"),
		},
		DataDir:  getEnv("DATA_DIR", "./data"),
		Author:   getEnv("BATCH_AUTHOR", "System"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if path := os.Getenv(configPathEnv); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			log.Printf("[config] cannot apply %s: %v (keeping env values)", path, err)
		}
	}

	return cfg
}

// DSNFor returns the DSN of one logical store, falling back to the primary.
func (s StoreConfig) DSNFor(store string) string {
	var dsn string
	switch store {
	case "staging":
		dsn = s.StagingDSN
	case "warehouse":
		dsn = s.WarehouseDSN
	case "control":
		dsn = s.ControlDSN
	case "mart":
		dsn = s.MartDSN
	}
	if dsn == "" {
		return s.DSN
	}
	return dsn
}

// Interval parses ScheduleInterval; invalid or non-positive values yield 24h.
func (s ServerConfig) Interval() time.Duration {
	d, err := time.ParseDuration(s.ScheduleInterval)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// Timeout is the per-page browser timeout.
func (c CrawlConfig) Timeout() time.Duration {
	if c.TimeoutSec <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TimeoutSec) * time.Second
}

func (c *Config) overlayFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var file Config
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return err
	}
	c.merge(file)
	return nil
}

func (c *Config) merge(o Config) {
	setString(&c.Store.Driver, o.Store.Driver)
	setString(&c.Store.DSN, o.Store.DSN)
	setString(&c.Store.StagingDSN, o.Store.StagingDSN)
	setString(&c.Store.WarehouseDSN, o.Store.WarehouseDSN)
	setString(&c.Store.ControlDSN, o.Store.ControlDSN)
	setString(&c.Store.MartDSN, o.Store.MartDSN)
	setInt(&c.Store.MaxRetries, o.Store.MaxRetries)

	setString(&c.Crawl.BaseURL, o.Crawl.BaseURL)
	setInt(&c.Crawl.Pages, o.Crawl.Pages)
	setInt(&c.Crawl.RateLimitMs, o.Crawl.RateLimitMs)
	setInt(&c.Crawl.MaxConcurrency, o.Crawl.MaxConcurrency)
	setInt(&c.Crawl.MaxRetries, o.Crawl.MaxRetries)
	setString(&c.Crawl.ChromeBin, o.Crawl.ChromeBin)
	setInt(&c.Crawl.TimeoutSec, o.Crawl.TimeoutSec)

	setString(&c.Server.Addr, o.Server.Addr)
	setString(&c.Server.ScheduleInterval, o.Server.ScheduleInterval)

	setString(&c.DataDir, o.DataDir)
	setString(&c.Author, o.Author)
	setString(&c.LogLevel, o.LogLevel)
}

func defaultPostgresDSN() string {
	return "host=" + getEnv("POSTGRES_HOST", "localhost") +
		" port=" + getEnv("POSTGRES_PORT", "5432") +
		" user=" + getEnv("POSTGRES_USER", "bds") +
		" password=" + getEnv("POSTGRES_PASSWORD", "bds123") +
		" dbname=" + getEnv("POSTGRES_DB", "bds_warehouse") +
		" sslmode=" + getEnv("POSTGRES_SSLMODE", "disable")
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}
