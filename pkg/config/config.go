package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Database
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// Batch pipeline
	Batch BatchConfig

	// External APIs
	DataGoKr DataGoKrConfig

	// Logging
	LogLevel  string
	LogFormat string

	// Monitoring
	MetricsEnabled bool
	MetricsPort    string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// BatchConfig tunes the ingest/aggregate jobs.
// YAML 오버레이 파일로 덮어쓸 수 있음 (BATCH_CONFIG_FILE)
type BatchConfig struct {
	Store               string        `yaml:"store"` // postgres, memory
	ImportChunkSize     int           `yaml:"import_chunk_size"`
	AggregateChunkSize  int           `yaml:"aggregate_chunk_size"`
	Workers             int           `yaml:"workers"`
	QueueSize           int           `yaml:"queue_size"`
	ValidationPolicy    string        `yaml:"validation_policy"` // abort_chunk, skip_item
	AggMethodEquity     string        `yaml:"agg_method_equity"`
	AggMethodIndex      string        `yaml:"agg_method_index"`
	Timezone            string        `yaml:"timezone"`
	FingerprintTTL      time.Duration `yaml:"fingerprint_ttl"`
	TriggerRateLimit    int           `yaml:"trigger_rate_limit"` // per minute, 0 = unlimited
	MonthlySchedule     string        `yaml:"monthly_schedule"`
	DailyImportSchedule string        `yaml:"daily_import_schedule"`
}

// DataGoKrConfig holds the public data portal (공공데이터포털) stock price API configuration
type DataGoKrConfig struct {
	BaseURL    string
	ServiceKey string
	RPS        int
	PageSize   int
}

// Load reads configuration from environment variables
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Port: getEnv("PORT", "8080"),
		Env:  getEnv("ENV", "development"),

		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},

		Batch: BatchConfig{
			Store:               getEnv("BATCH_STORE", "postgres"),
			ImportChunkSize:     getEnvAsInt("BATCH_IMPORT_CHUNK_SIZE", 10),
			AggregateChunkSize:  getEnvAsInt("BATCH_AGGREGATE_CHUNK_SIZE", 100),
			Workers:             getEnvAsInt("BATCH_WORKERS", 4),
			QueueSize:           getEnvAsInt("BATCH_QUEUE_SIZE", 64),
			ValidationPolicy:    getEnv("BATCH_VALIDATION_POLICY", "abort_chunk"),
			AggMethodEquity:     getEnv("BATCH_AGG_METHOD_EQUITY", "first_last_close"),
			AggMethodIndex:      getEnv("BATCH_AGG_METHOD_INDEX", "first_last_close"),
			Timezone:            getEnv("BATCH_TIMEZONE", "Asia/Seoul"),
			FingerprintTTL:      getEnvAsDuration("BATCH_FINGERPRINT_TTL", "6h"),
			TriggerRateLimit:    getEnvAsInt("BATCH_TRIGGER_RATE_LIMIT", 30),
			MonthlySchedule:     getEnv("BATCH_MONTHLY_SCHEDULE", "0 0 2 1 * *"),
			DailyImportSchedule: getEnv("BATCH_DAILY_IMPORT_SCHEDULE", "0 0 18 * * MON-FRI"),
		},

		DataGoKr: DataGoKrConfig{
			BaseURL:    getEnv("DATAGOKR_BASE_URL", "https://apis.data.go.kr/1160100/service/GetStockSecuritiesInfoService"),
			ServiceKey: getEnv("DATAGOKR_SERVICE_KEY", ""),
			RPS:        getEnvAsInt("DATAGOKR_RPS", 5),
			PageSize:   getEnvAsInt("DATAGOKR_PAGE_SIZE", 1000),
		},

		LogLevel:  getEnv("LOG_LEVEL", "debug"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		MetricsPort:    getEnv("METRICS_PORT", "9090"),
	}

	if path := getEnv("BATCH_CONFIG_FILE", ""); path != "" {
		if err := cfg.Batch.overlay(path); err != nil {
			return nil, fmt.Errorf("load batch config file: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Location returns the batch timezone, falling back to UTC
func (b BatchConfig) Location() *time.Location {
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// overlay decodes a YAML file on top of the env-derived values.
// KnownFields(true): 오타/미사용 필드는 즉시 실패
func (b *BatchConfig) overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(b); err != nil {
		return err
	}
	return nil
}

// validate checks if required configuration values are set
func (c *Config) validate() error {
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	switch c.Batch.Store {
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when BATCH_STORE=postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("BATCH_STORE must be one of: postgres, memory")
	}

	if c.Batch.ValidationPolicy != "abort_chunk" && c.Batch.ValidationPolicy != "skip_item" {
		return fmt.Errorf("BATCH_VALIDATION_POLICY must be one of: abort_chunk, skip_item")
	}

	if c.Batch.ImportChunkSize <= 0 || c.Batch.AggregateChunkSize <= 0 {
		return fmt.Errorf("batch chunk sizes must be positive")
	}

	if c.Batch.Workers <= 0 {
		return fmt.Errorf("BATCH_WORKERS must be positive")
	}

	for _, m := range []string{c.Batch.AggMethodEquity, c.Batch.AggMethodIndex} {
		if m != "first_last_close" && m != "open_close_extremes" {
			return fmt.Errorf("unknown aggregation method %q", m)
		}
	}

	return nil
}

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{".env"}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
