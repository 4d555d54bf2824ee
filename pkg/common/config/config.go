package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Artifacts
	ArtifactDir        string
	OutputDir          string
	PipelineConfigPath string

	// Run registry (Postgres)
	RunRegistryEnabled bool
	PostgresHost       string
	PostgresPort       string
	PostgresUser       string
	PostgresPassword   string
	PostgresDB         string
	PostgresSSLMode    string

	// Feature importance cache (Redis)
	ImportanceCacheEnabled bool
	RedisHost              string
	RedisPort              string
	RedisPassword          string
	RedisDB                int
	ImportanceCacheKey     string
	ImportanceCacheTTL     time.Duration

	// Model events (Kafka)
	EventsEnabled bool
	KafkaBrokers  []string
	KafkaGroupID  string
	KafkaTopic    string
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8000"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 1024*1024)),

		ArtifactDir:        getEnv("HALO_ARTIFACT_DIR", "./api"),
		OutputDir:          getEnv("HALO_OUTPUT_DIR", "./api/outputs"),
		PipelineConfigPath: getEnv("HALO_PIPELINE_CONFIG", ""),

		RunRegistryEnabled: getBoolEnv("RUN_REGISTRY_ENABLED", false),
		PostgresHost:       getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:       getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:       getEnv("POSTGRES_USER", "halo"),
		PostgresPassword:   getEnv("POSTGRES_PASSWORD", "halo"),
		PostgresDB:         getEnv("POSTGRES_DB", "halo"),
		PostgresSSLMode:    getEnv("POSTGRES_SSLMODE", "disable"),

		ImportanceCacheEnabled: getBoolEnv("IMPORTANCE_CACHE_ENABLED", false),
		RedisHost:              getEnv("REDIS_HOST", "localhost"),
		RedisPort:              getEnv("REDIS_PORT", "6379"),
		RedisPassword:          getEnv("REDIS_PASSWORD", ""),
		RedisDB:                getIntEnv("REDIS_DB", 0),
		ImportanceCacheKey:     getEnv("IMPORTANCE_CACHE_KEY", "halo:feature_importance"),
		ImportanceCacheTTL:     getDuration("IMPORTANCE_CACHE_TTL", 0),

		EventsEnabled: getBoolEnv("EVENTS_ENABLED", false),
		KafkaBrokers:  getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:  getEnv("KAFKA_GROUP_ID", "halo-serving"),
		KafkaTopic:    getEnv("KAFKA_TOPIC", "halo.models"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
