package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	Port int
	Env  string

	// CORS
	AllowedOrigins []string

	// Model
	ModelPath string

	// Training defaults (trainer CLI and default-model synthesis)
	TrainTrees       int
	TrainMaxDepth    int
	TrainMinLeafSize int
	TrainSeed        int64

	// Rule thresholds
	AccuracyThreshold      float64
	HeadshotRatioThreshold float64
	AimSnapIntervalMS      float64

	// Result sink (optional; disabled when no storage URL is set)
	SuspectScoreThreshold float64
	WorkerCount           int
	QueueSize             int
	BatchSize             int
	FlushInterval         time.Duration

	// Storage URLs; all optional
	PostgresURL   string
	ClickHouseURL string
	RedisURL      string
}

// Load loads configuration from environment variables. Storage URLs are
// optional: without them the service runs analysis-only and the result sink
// stays disabled.
func Load() (*Config, error) {
	cfg := &Config{
		Port: getEnvInt("PORT", 8090),
		Env:  getEnv("ENV", "development"),

		ModelPath: getEnv("MODEL_PATH", "models/cheat_model.bin"),

		TrainTrees:       getEnvInt("TRAIN_TREES", 100),
		TrainMaxDepth:    getEnvInt("TRAIN_MAX_DEPTH", 10),
		TrainMinLeafSize: getEnvInt("TRAIN_MIN_LEAF_SIZE", 2),
		TrainSeed:        int64(getEnvInt("TRAIN_SEED", 1)),

		AccuracyThreshold:      getEnvFloat("RULE_ACCURACY_THRESHOLD", 0.80),
		HeadshotRatioThreshold: getEnvFloat("RULE_HEADSHOT_RATIO_THRESHOLD", 0.70),
		AimSnapIntervalMS:      getEnvFloat("RULE_AIMSNAP_INTERVAL_MS", 30),

		SuspectScoreThreshold: getEnvFloat("SUSPECT_SCORE_THRESHOLD", 0.80),
		WorkerCount:           getEnvInt("WORKER_COUNT", 4),
		QueueSize:             getEnvInt("QUEUE_SIZE", 10000),
		BatchSize:             getEnvInt("BATCH_SIZE", 500),
		FlushInterval:         getEnvDuration("FLUSH_INTERVAL", 1*time.Second),

		PostgresURL:   getEnv("POSTGRES_URL", ""),
		ClickHouseURL: getEnv("CLICKHOUSE_URL", ""),
		RedisURL:      getEnv("REDIS_URL", ""),
	}

	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("MODEL_PATH must not be empty")
	}
	if cfg.AccuracyThreshold <= 0 || cfg.AccuracyThreshold > 1 {
		return nil, fmt.Errorf("RULE_ACCURACY_THRESHOLD must be in (0,1], got %v", cfg.AccuracyThreshold)
	}
	if cfg.HeadshotRatioThreshold <= 0 || cfg.HeadshotRatioThreshold > 1 {
		return nil, fmt.Errorf("RULE_HEADSHOT_RATIO_THRESHOLD must be in (0,1], got %v", cfg.HeadshotRatioThreshold)
	}

	// CORS
	origins := getEnv("ALLOWED_ORIGINS", "http://localhost:3000")
	rawOrigins := strings.Split(origins, ",")
	for _, o := range rawOrigins {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
		}
	}

	return cfg, nil
}

// SinkEnabled reports whether any result-persistence backend is configured.
func (c *Config) SinkEnabled() bool {
	return c.ClickHouseURL != "" || c.RedisURL != "" || c.PostgresURL != ""
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
