package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	HTTPAddr string
	LogLevel string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Broker BrokerConfig
	Redis  RedisConfig
	Email  EmailConfig
	Ingest IngestConfig
}

// BrokerConfig controls the RabbitMQ connection. When Enabled is false or the
// URL is empty the application falls back to the no-op queue and ingestion
// proceeds without queued side effects.
type BrokerConfig struct {
	Enabled        bool
	URL            string
	DialTimeout    time.Duration
	PublishTimeout time.Duration
	Prefetch       int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// EmailConfig selects the active provider and carries per-provider throughput
// settings. Rates is max sends per RateWindow; Workers is consumer parallelism.
type EmailConfig struct {
	Provider string
	From     string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string

	RelayAPIKey      string
	RelayBaseURL     string
	EnterpriseAPIKey string
	APIKey           string
	APIBaseURL       string

	RateWindow time.Duration
	Rates      map[string]int
	Workers    map[string]int
}

type IngestConfig struct {
	StorageDir   string
	DropDir      string
	PollInterval time.Duration
	TempDir      string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "docflow"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		LogLevel:    getenv("LOG_LEVEL", "info"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "docflow"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),

		Broker: BrokerConfig{
			Enabled:        getenvBool("BROKER_ENABLED", true),
			URL:            getenv("RABBITMQ_URL", ""),
			DialTimeout:    getenvDuration("BROKER_DIAL_TIMEOUT", 10*time.Second),
			PublishTimeout: getenvDuration("BROKER_PUBLISH_TIMEOUT", 30*time.Second),
			Prefetch:       getenvInt("BROKER_PREFETCH", 10),
		},
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Email: EmailConfig{
			Provider: strings.ToLower(getenv("EMAIL_PROVIDER", "smtp")),
			From:     getenv("EMAIL_FROM", "noreply@docflow.local"),

			SMTPHost:     getenv("SMTP_HOST", "localhost"),
			SMTPPort:     getenvInt("SMTP_PORT", 587),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),

			RelayAPIKey:      getenv("RELAY_API_KEY", ""),
			RelayBaseURL:     getenv("RELAY_BASE_URL", ""),
			EnterpriseAPIKey: getenv("ENTERPRISE_API_KEY", ""),
			APIKey:           getenv("EMAIL_API_KEY", ""),
			APIBaseURL:       getenv("EMAIL_API_BASE_URL", ""),

			RateWindow: getenvDuration("EMAIL_RATE_WINDOW", time.Second),
			Rates: map[string]int{
				"smtp":       getenvInt("EMAIL_RATE_SMTP", 5),
				"relay":      getenvInt("EMAIL_RATE_RELAY", 50),
				"enterprise": getenvInt("EMAIL_RATE_ENTERPRISE", 2),
				"api":        getenvInt("EMAIL_RATE_API", 20),
			},
			Workers: map[string]int{
				"smtp":       getenvInt("EMAIL_WORKERS_SMTP", 2),
				"relay":      getenvInt("EMAIL_WORKERS_RELAY", 10),
				"enterprise": getenvInt("EMAIL_WORKERS_ENTERPRISE", 1),
				"api":        getenvInt("EMAIL_WORKERS_API", 5),
			},
		},
		Ingest: IngestConfig{
			StorageDir:   getenv("INGEST_STORAGE_DIR", "./data/files"),
			DropDir:      getenv("INGEST_DROP_DIR", ""),
			PollInterval: getenvDuration("INGEST_POLL_INTERVAL", time.Minute),
			TempDir:      getenv("INGEST_TEMP_DIR", os.TempDir()),
		},
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
