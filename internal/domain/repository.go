// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// RegistryList distinguishes the two admin-mutable address sets.
type RegistryList string

const (
	ListBlacklist RegistryList = "blacklist"
	ListWhitelist RegistryList = "whitelist"
)

// PolicyKind keys the persisted singleton policy documents.
type PolicyKind string

const (
	PolicyThresholds PolicyKind = "thresholds"
	PolicyAIBlend    PolicyKind = "ai_blend"
)

// Repository defines the interface for data persistence. The hot path
// treats it as best-effort (log and continue); admin state (registry,
// policies, heuristic rules) treats it as authoritative.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	GetTransactionsByAddress(ctx context.Context, address string, since time.Time) ([]*Transaction, error)

	// Address aggregate snapshots (restart recovery for the history store)
	UpsertAddressRecord(ctx context.Context, rec *AddressRecord) error
	GetAddressRecord(ctx context.Context, address string) (*AddressRecord, error)
	ListAddressRecords(ctx context.Context) ([]*AddressRecord, error)

	// Emitted events
	SaveAlert(ctx context.Context, alert *Alert) error
	ListAlerts(ctx context.Context, since time.Time, limit int) ([]*Alert, error)
	SaveFinding(ctx context.Context, finding *PatternFinding) error
	ListFindingsByAddress(ctx context.Context, address string, limit int) ([]*PatternFinding, error)

	// Registry membership
	AddRegistryEntries(ctx context.Context, list RegistryList, addresses []string) error
	RemoveRegistryEntries(ctx context.Context, list RegistryList, addresses []string) error
	ListRegistryEntries(ctx context.Context, list RegistryList) ([]string, error)

	// Heuristic rule configuration
	SaveHeuristicRule(ctx context.Context, rule *HeuristicRule) error
	GetHeuristicRule(ctx context.Context, ruleID string) (*HeuristicRule, error)
	ListHeuristicRules(ctx context.Context) ([]*HeuristicRule, error)
	DeleteHeuristicRule(ctx context.Context, ruleID string) error

	// Policy singletons (thresholds, AI blend config) stored as JSON
	SavePolicy(ctx context.Context, kind PolicyKind, payload []byte) error
	GetPolicy(ctx context.Context, kind PolicyKind) ([]byte, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgres_host"`
	PostgresPort     int    `yaml:"postgres_port"`
	PostgresUser     string `yaml:"postgres_user"`
	PostgresPassword string `yaml:"postgres_password"`
	PostgresDB       string `yaml:"postgres_db"`
	PostgresSSLMode  string `yaml:"postgres_ssl_mode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}
