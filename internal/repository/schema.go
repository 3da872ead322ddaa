package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    sender TEXT NOT NULL,
    recipient TEXT NOT NULL,
    amount BIGINT NOT NULL,
    category TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_transactions_sender ON transactions(sender);
CREATE INDEX IF NOT EXISTS idx_transactions_recipient ON transactions(recipient);
CREATE INDEX IF NOT EXISTS idx_transactions_timestamp ON transactions(timestamp);
`

const schemaAddressRecords = `
CREATE TABLE IF NOT EXISTS address_records (
    address TEXT PRIMARY KEY,
    transaction_count BIGINT NOT NULL DEFAULT 0,
    total_volume BIGINT NOT NULL DEFAULT 0,
    last_transaction_time TIMESTAMP,
    rapid_transaction_count BIGINT NOT NULL DEFAULT 0,
    failed_transaction_count BIGINT NOT NULL DEFAULT 0,
    contract_interaction_count BIGINT NOT NULL DEFAULT 0,
    round_amount_count BIGINT NOT NULL DEFAULT 0,
    risk_score INTEGER NOT NULL DEFAULT 0,
    suspicious_patterns TEXT,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_address_records_risk ON address_records(risk_score);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    transaction_ref TEXT NOT NULL,
    sender TEXT NOT NULL,
    recipient TEXT NOT NULL,
    amount BIGINT NOT NULL,
    risk_score INTEGER NOT NULL,
    severity TEXT NOT NULL,
    kind TEXT NOT NULL,
    message TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_timestamp ON alerts(timestamp);
CREATE INDEX IF NOT EXISTS idx_alerts_severity ON alerts(severity);
`

const schemaFindings = `
CREATE TABLE IF NOT EXISTS findings (
    id TEXT PRIMARY KEY,
    address TEXT NOT NULL,
    kind TEXT NOT NULL,
    severity TEXT NOT NULL,
    description TEXT NOT NULL,
    evidence_ids TEXT,
    score_contribution INTEGER NOT NULL DEFAULT 0,
    detected_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_findings_address ON findings(address);
CREATE INDEX IF NOT EXISTS idx_findings_kind ON findings(kind);
CREATE INDEX IF NOT EXISTS idx_findings_detected ON findings(detected_at);
`

const schemaRegistryEntries = `
CREATE TABLE IF NOT EXISTS registry_entries (
    list TEXT NOT NULL,
    address TEXT NOT NULL,
    added_at TIMESTAMP NOT NULL,
    PRIMARY KEY (list, address)
);

CREATE INDEX IF NOT EXISTS idx_registry_entries_list ON registry_entries(list);
`

const schemaHeuristicRules = `
CREATE TABLE IF NOT EXISTS heuristic_rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    severity TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_heuristic_rules_enabled ON heuristic_rules(enabled);
`

const schemaPolicies = `
CREATE TABLE IF NOT EXISTS policies (
    kind TEXT PRIMARY KEY,
    payload TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaAddressRecords,
		schemaAlerts,
		schemaFindings,
		schemaRegistryEntries,
		schemaHeuristicRules,
		schemaPolicies,
	}
}
