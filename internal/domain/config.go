package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server"`

	// Tier determines feature availability
	Tier Tier `yaml:"tier"`

	// Admin identity and the API token that authenticates it.
	Admin AdminConfig `yaml:"admin"`

	// Initial scoring policy; admin-mutable at runtime.
	Thresholds RiskThresholds `yaml:"thresholds"`
	AIBlend    AIBlendConfig  `yaml:"ai_blend"`

	// MonitoringEnabled is the global circuit breaker; when false the
	// composite entry point is a pure no-op.
	MonitoringEnabled bool `yaml:"monitoring_enabled"`

	// AIOracleURL is the endpoint of the external assessment oracle
	// (only consulted when the AI blend is enabled).
	AIOracleURL string `yaml:"ai_oracle_url"`

	// Component configurations
	Repository RepositoryConfig `yaml:"repository"`
	Cache      CacheConfig      `yaml:"cache"`
	EventBus   EventBusConfig   `yaml:"event_bus"`

	// Ingest rate limiting (per client IP, backed by cache counters).
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Observability
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

// AdminConfig identifies the single authorized administrator.
type AdminConfig struct {
	// ID is the administrator identity admin-gated calls compare
	// against.
	ID string `yaml:"id"`

	// Token authenticates the administrator at the HTTP boundary
	// (X-Admin-Token header).
	Token string `yaml:"token"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"read_timeout"`  // seconds
	WriteTimeout int    `yaml:"write_timeout"` // seconds
}

// RateLimitConfig holds ingest rate limiting settings.
type RateLimitConfig struct {
	Enabled       bool `yaml:"enabled"`
	RequestsPerIP int  `yaml:"requests_per_ip"` // per window
	WindowSecs    int  `yaml:"window_secs"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ServiceName  string `yaml:"service_name"`
	ExporterType string `yaml:"exporter_type"` // stdout, otlp, jaeger
	Endpoint     string `yaml:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + Kafka + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Admin: AdminConfig{
			ID: "admin",
		},
		Thresholds:        DefaultThresholds(),
		AIBlend:           DefaultAIBlendConfig(),
		MonitoringEnabled: true,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		RateLimit: RateLimitConfig{
			Enabled:       false,
			RequestsPerIP: 100,
			WindowSecs:    60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier:
// PostgreSQL + Redis two-phase cache + Kafka event bus.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:         "kafka",
		KafkaBrokers: []string{"localhost:9092"},
		KafkaGroupID: "kestrel",
	}
	cfg.RateLimit.Enabled = true
	cfg.Tracing.Enabled = true
	return cfg
}
