package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Store drivers accepted by STORE_DRIVER.
const (
	DriverMongo  = "mongo"
	DriverSQLite = "sqlite"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	StoreDriver     string
	MongoURI        string
	MongoDatabase   string
	MongoCollection string
	SQLitePath      string

	KafkaBrokers       []string
	KafkaAnnounceTopic string
	AnnounceEnabled    bool
	AnnouncePMOffset   time.Duration

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	APIRateLimit    float64
	APIRateBurst    int

	BannerCacheTTL time.Duration
	// TablesPath overrides the embedded season tables when set.
	TablesPath string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	pmOffset, err := parseDuration("ANNOUNCE_PM_OFFSET", "12h")
	if err != nil {
		return nil, err
	}
	if pmOffset <= 0 || pmOffset >= 24*time.Hour {
		return nil, errors.New("ANNOUNCE_PM_OFFSET must be between 0 and 24h")
	}

	bannerTTL, err := parseDuration("BANNER_CACHE_TTL", "24h")
	if err != nil {
		return nil, err
	}

	announceEnabled, err := strconv.ParseBool(sharedcfg.EnvOrDefault("ANNOUNCE_ENABLED", "true"))
	if err != nil {
		return nil, errors.New("invalid ANNOUNCE_ENABLED")
	}

	rateLimit, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("API_RATE_LIMIT", "5"), 64)
	if err != nil || rateLimit <= 0 {
		return nil, errors.New("invalid API_RATE_LIMIT")
	}
	rateBurst, err := strconv.Atoi(sharedcfg.EnvOrDefault("API_RATE_BURST", "10"))
	if err != nil || rateBurst < 1 {
		return nil, errors.New("invalid API_RATE_BURST")
	}

	cfg := &Config{
		StoreDriver:     strings.ToLower(sharedcfg.EnvOrDefault("STORE_DRIVER", DriverMongo)),
		MongoURI:        sharedcfg.EnvOrDefault("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:   sharedcfg.EnvOrDefault("MONGO_DATABASE", "tinglebot"),
		MongoCollection: sharedcfg.EnvOrDefault("MONGO_COLLECTION", "weathers"),
		SQLitePath:      sharedcfg.EnvOrDefault("SQLITE_PATH", "weather.db"),

		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaAnnounceTopic: sharedcfg.EnvOrDefault("KAFKA_ANNOUNCE_TOPIC", "weather-announcements"),
		AnnounceEnabled:    announceEnabled,
		AnnouncePMOffset:   pmOffset,

		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		APIRateLimit:    rateLimit,
		APIRateBurst:    rateBurst,

		BannerCacheTTL: bannerTTL,
		TablesPath:     sharedcfg.EnvOrDefault("WEATHER_TABLES_PATH", ""),
	}

	switch cfg.StoreDriver {
	case DriverMongo:
		if cfg.MongoURI == "" {
			return nil, errors.New("MONGO_URI is required")
		}
	case DriverSQLite:
		if cfg.SQLitePath == "" {
			return nil, errors.New("SQLITE_PATH is required")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	if cfg.AnnounceEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required when announcements are enabled")
		}
		if cfg.KafkaAnnounceTopic == "" {
			return nil, errors.New("KAFKA_ANNOUNCE_TOPIC is required when announcements are enabled")
		}
	}

	return cfg, nil
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}
