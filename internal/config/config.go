package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// City is an upstream query target.
type City struct {
	Lat float64
	Lon float64
}

// DefaultCities is the fixed city table the pipeline curates. Unknown cities
// are rejected per call, never fetched.
var DefaultCities = map[string]City{
	"Nairobi": {Lat: -1.286389, Lon: 36.817223},
	"Mombasa": {Lat: -4.043477, Lon: 39.668206},
}

// Config holds all service settings, populated from environment variables.
// The three binaries share one config surface; each reads the slice it needs.
type Config struct {
	Cities      map[string]City
	APIBaseURL  string
	APITimeout  time.Duration
	APITimezone string

	PollInterval time.Duration
	BackfillDays int

	MongoURI          string
	MongoDatabase     string
	RawCollection     string
	CuratedCollection string
	OffsetCollection  string
	MongoConnTimeout  time.Duration

	KafkaBrokers    []string
	KafkaTopic      string
	KafkaGroupID    string
	DeadLetterTopic string

	CassandraHosts        []string
	CassandraKeyspace     string
	CassandraTable        string
	CassandraConnRetries  int
	CassandraConnDelay    time.Duration
	CassandraConnTimeout  time.Duration
	CassandraWriteTimeout time.Duration

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults
// where unset.
func Load() (*Config, error) {
	pollInterval, err := parseDuration("POLL_INTERVAL", "1h")
	if err != nil {
		return nil, err
	}

	backfillDays, err := parseInt("BACKFILL_DAYS", 5)
	if err != nil {
		return nil, err
	}

	apiTimeout, err := parseDuration("API_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}

	mongoConnTimeout, err := parseDuration("MONGODB_CONNECT_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}

	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}

	connRetries, err := parseInt("CASSANDRA_CONNECT_RETRIES", 12)
	if err != nil {
		return nil, err
	}

	connDelay, err := parseDuration("CASSANDRA_CONNECT_DELAY", "5s")
	if err != nil {
		return nil, err
	}

	connTimeout, err := parseDuration("CASSANDRA_CONNECT_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}

	writeTimeout, err := parseDuration("CASSANDRA_WRITE_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Cities:      DefaultCities,
		APIBaseURL:  envOrDefault("API_BASE_URL", "https://air-quality-api.open-meteo.com/v1/air-quality"),
		APITimeout:  apiTimeout,
		APITimezone: envOrDefault("API_TIMEZONE", "Africa/Nairobi"),

		PollInterval: pollInterval,
		BackfillDays: backfillDays,

		MongoURI:          envOrDefault("MONGODB_URI", "mongodb://mongo:27017"),
		MongoDatabase:     envOrDefault("DB_NAME", "air_quality"),
		RawCollection:     envOrDefault("RAW_COLLECTION", "raw_air_quality"),
		CuratedCollection: envOrDefault("CURATED_COLLECTION", "curated_air_quality"),
		OffsetCollection:  envOrDefault("OFFSET_COLLECTION", "stream_offsets"),
		MongoConnTimeout:  mongoConnTimeout,

		KafkaBrokers:    splitAndTrim(envOrDefault("KAFKA_BROKERS", "kafka:9092")),
		KafkaTopic:      envOrDefault("KAFKA_TOPIC", "air_quality_events"),
		KafkaGroupID:    envOrDefault("KAFKA_CONSUMER_GROUP", "air-quality-storage"),
		DeadLetterTopic: envOrDefault("DEAD_LETTER_TOPIC", "air_quality_dead_letter"),

		CassandraHosts:        splitAndTrim(envOrDefault("CASSANDRA_HOSTS", "cassandra")),
		CassandraKeyspace:     envOrDefault("CASSANDRA_KEYSPACE", "air_quality_keyspace"),
		CassandraTable:        envOrDefault("CASSANDRA_TABLE", "air_quality_by_city_date"),
		CassandraConnRetries:  connRetries,
		CassandraConnDelay:    connDelay,
		CassandraConnTimeout:  connTimeout,
		CassandraWriteTimeout: writeTimeout,

		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_TOPIC is required")
	}
	if len(cfg.CassandraHosts) == 0 {
		return nil, errors.New("CASSANDRA_HOSTS is required")
	}
	if cfg.BackfillDays < 0 {
		return nil, errors.New("BACKFILL_DAYS must not be negative")
	}
	if cfg.CassandraConnRetries < 1 {
		return nil, errors.New("CASSANDRA_CONNECT_RETRIES must be at least 1")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseDuration(key, def string) (time.Duration, error) {
	s := envOrDefault(key, def)
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}

func parseInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return n, nil
}
