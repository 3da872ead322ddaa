// Package config assembles the runtime configuration: tier defaults,
// an optional YAML file, then KESTREL_* environment overrides, in that
// order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Load builds the configuration. A .env file is read if present; path
// names an optional YAML config file ("" falls back to KESTREL_CONFIG).
func Load(path string) (*domain.Config, error) {
	_ = godotenv.Load()

	cfg := domain.DefaultConfig()
	if strings.EqualFold(getEnv("KESTREL_TIER", string(cfg.Tier)), string(domain.TierPro)) {
		cfg = domain.ProConfig()
	}

	if path == "" {
		path = os.Getenv("KESTREL_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv layers KESTREL_* environment variables over cfg.
func applyEnv(cfg *domain.Config) {
	cfg.Server.Host = getEnv("KESTREL_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("KESTREL_PORT", cfg.Server.Port)

	cfg.Admin.ID = getEnv("KESTREL_ADMIN_ID", cfg.Admin.ID)
	cfg.Admin.Token = getEnv("KESTREL_ADMIN_TOKEN", cfg.Admin.Token)

	cfg.AIOracleURL = getEnv("KESTREL_AI_ORACLE_URL", cfg.AIOracleURL)

	if v := os.Getenv("KESTREL_MONITORING_ENABLED"); v != "" {
		cfg.MonitoringEnabled = v == "true"
	}

	cfg.Repository.Driver = getEnv("KESTREL_DB_DRIVER", cfg.Repository.Driver)
	cfg.Repository.SQLitePath = getEnv("KESTREL_SQLITE_PATH", cfg.Repository.SQLitePath)
	cfg.Repository.PostgresHost = getEnv("KESTREL_POSTGRES_HOST", cfg.Repository.PostgresHost)
	cfg.Repository.PostgresPort = getEnvInt("KESTREL_POSTGRES_PORT", cfg.Repository.PostgresPort)
	cfg.Repository.PostgresDB = getEnv("KESTREL_POSTGRES_DB", cfg.Repository.PostgresDB)
	cfg.Repository.PostgresUser = getEnv("KESTREL_POSTGRES_USER", cfg.Repository.PostgresUser)
	cfg.Repository.PostgresPassword = getEnv("KESTREL_POSTGRES_PASSWORD", cfg.Repository.PostgresPassword)

	cfg.Cache.Type = getEnv("KESTREL_CACHE_TYPE", cfg.Cache.Type)
	cfg.Cache.RedisAddr = getEnv("KESTREL_REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = getEnv("KESTREL_REDIS_PASSWORD", cfg.Cache.RedisPassword)

	cfg.EventBus.Type = getEnv("KESTREL_BUS_TYPE", cfg.EventBus.Type)
	if v := os.Getenv("KESTREL_KAFKA_BROKERS"); v != "" {
		cfg.EventBus.KafkaBrokers = splitList(v)
	}
	cfg.EventBus.KafkaGroupID = getEnv("KESTREL_KAFKA_GROUP_ID", cfg.EventBus.KafkaGroupID)

	if v := os.Getenv("KESTREL_RATE_LIMIT_ENABLED"); v != "" {
		cfg.RateLimit.Enabled = v == "true"
	}
	cfg.RateLimit.RequestsPerIP = getEnvInt("KESTREL_RATE_LIMIT_REQUESTS", cfg.RateLimit.RequestsPerIP)
	cfg.RateLimit.WindowSecs = getEnvInt("KESTREL_RATE_LIMIT_WINDOW_SECS", cfg.RateLimit.WindowSecs)

	cfg.Logging.Level = getEnv("KESTREL_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("KESTREL_LOG_FORMAT", cfg.Logging.Format)

	if v := os.Getenv("KESTREL_TRACING_ENABLED"); v != "" {
		cfg.Tracing.Enabled = v == "true"
	}
	cfg.Tracing.Endpoint = getEnv("KESTREL_TRACING_ENDPOINT", cfg.Tracing.Endpoint)
}

// Validate checks the assembled configuration.
func Validate(cfg *domain.Config) error {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", cfg.Server.Port)
	}
	if cfg.Admin.ID == "" {
		return fmt.Errorf("admin id is required")
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		return fmt.Errorf("thresholds: %w", err)
	}
	if err := cfg.AIBlend.Validate(); err != nil {
		return fmt.Errorf("ai blend: %w", err)
	}
	if cfg.AIBlend.Enabled && cfg.AIOracleURL == "" {
		return fmt.Errorf("ai_oracle_url is required when the AI blend is enabled")
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres", "":
	default:
		return fmt.Errorf("unsupported repository driver %q", cfg.Repository.Driver)
	}
	switch cfg.EventBus.Type {
	case "channel", "":
	case "kafka":
		if len(cfg.EventBus.KafkaBrokers) == 0 {
			return fmt.Errorf("kafka brokers are required for the kafka event bus")
		}
	default:
		return fmt.Errorf("unsupported event bus type %q", cfg.EventBus.Type)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
