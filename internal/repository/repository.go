// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers. Counter columns are
// stored as signed BIGINT; values past MaxInt64 are pinned on write.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a transaction.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx == nil || tx.ID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	metadata, _ := json.Marshal(tx.Metadata)

	query := `
		INSERT INTO transactions (
			id, sender, recipient, amount, category,
			timestamp, created_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.Sender, tx.Recipient,
		toSigned(tx.Amount), string(tx.Category),
		tx.Timestamp, tx.CreatedAt, string(metadata),
	)
	return err
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	if txID == "" {
		return nil, fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	query := `
		SELECT id, sender, recipient, amount, category,
			   timestamp, created_at, metadata
		FROM transactions
		WHERE id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), txID)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return tx, err
}

// GetTransactionsByAddress retrieves transactions involving an address
// as sender or recipient, newest first.
func (r *SQLRepository) GetTransactionsByAddress(ctx context.Context, address string, since time.Time) ([]*domain.Transaction, error) {
	if address == "" {
		return nil, fmt.Errorf("%w: address is required", ErrInvalidInput)
	}

	query := `
		SELECT id, sender, recipient, amount, category,
			   timestamp, created_at, metadata
		FROM transactions
		WHERE (sender = ? OR recipient = ?)
		  AND timestamp >= ?
		ORDER BY timestamp DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), address, address, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var amount int64
	var category, metadata string

	if err := row.Scan(
		&tx.ID, &tx.Sender, &tx.Recipient,
		&amount, &category,
		&tx.Timestamp, &tx.CreatedAt, &metadata,
	); err != nil {
		return nil, err
	}

	tx.Amount = fromSigned(amount)
	tx.Category = domain.Category(category)
	if metadata != "" {
		json.Unmarshal([]byte(metadata), &tx.Metadata)
	}

	return &tx, nil
}

// UpsertAddressRecord stores or replaces an address aggregate snapshot.
func (r *SQLRepository) UpsertAddressRecord(ctx context.Context, rec *domain.AddressRecord) error {
	if rec == nil || rec.Address == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidInput)
	}

	patterns, _ := json.Marshal(rec.SuspiciousPatterns)

	query := `
		INSERT INTO address_records (
			address, transaction_count, total_volume, last_transaction_time,
			rapid_transaction_count, failed_transaction_count,
			contract_interaction_count, round_amount_count,
			risk_score, suspicious_patterns, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			transaction_count = excluded.transaction_count,
			total_volume = excluded.total_volume,
			last_transaction_time = excluded.last_transaction_time,
			rapid_transaction_count = excluded.rapid_transaction_count,
			failed_transaction_count = excluded.failed_transaction_count,
			contract_interaction_count = excluded.contract_interaction_count,
			round_amount_count = excluded.round_amount_count,
			risk_score = excluded.risk_score,
			suspicious_patterns = excluded.suspicious_patterns,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rec.Address,
		toSigned(rec.TransactionCount), toSigned(rec.TotalVolume),
		rec.LastTransactionTime,
		toSigned(rec.RapidTransactionCount), toSigned(rec.FailedTransactionCount),
		toSigned(rec.ContractInteractionCount), toSigned(rec.RoundAmountCount),
		rec.RiskScore, string(patterns), time.Now().UTC(),
	)
	return err
}

// GetAddressRecord retrieves an address aggregate snapshot.
func (r *SQLRepository) GetAddressRecord(ctx context.Context, address string) (*domain.AddressRecord, error) {
	if address == "" {
		return nil, fmt.Errorf("%w: address is required", ErrInvalidInput)
	}

	query := `
		SELECT address, transaction_count, total_volume, last_transaction_time,
			   rapid_transaction_count, failed_transaction_count,
			   contract_interaction_count, round_amount_count,
			   risk_score, suspicious_patterns, updated_at
		FROM address_records
		WHERE address = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), address)
	rec, err := scanAddressRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// ListAddressRecords retrieves all address aggregate snapshots.
func (r *SQLRepository) ListAddressRecords(ctx context.Context) ([]*domain.AddressRecord, error) {
	query := `
		SELECT address, transaction_count, total_volume, last_transaction_time,
			   rapid_transaction_count, failed_transaction_count,
			   contract_interaction_count, round_amount_count,
			   risk_score, suspicious_patterns, updated_at
		FROM address_records
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.AddressRecord
	for rows.Next() {
		rec, err := scanAddressRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

func scanAddressRecord(row rowScanner) (*domain.AddressRecord, error) {
	var rec domain.AddressRecord
	var txCount, volume, rapid, failed, contract, round int64
	var lastTx sql.NullTime
	var patterns sql.NullString

	if err := row.Scan(
		&rec.Address, &txCount, &volume, &lastTx,
		&rapid, &failed, &contract, &round,
		&rec.RiskScore, &patterns, &rec.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rec.TransactionCount = fromSigned(txCount)
	rec.TotalVolume = fromSigned(volume)
	rec.RapidTransactionCount = fromSigned(rapid)
	rec.FailedTransactionCount = fromSigned(failed)
	rec.ContractInteractionCount = fromSigned(contract)
	rec.RoundAmountCount = fromSigned(round)
	if lastTx.Valid {
		rec.LastTransactionTime = lastTx.Time
	}
	if patterns.Valid && patterns.String != "" {
		json.Unmarshal([]byte(patterns.String), &rec.SuspiciousPatterns)
	}

	return &rec, nil
}

// SaveAlert stores an emitted alert.
func (r *SQLRepository) SaveAlert(ctx context.Context, alert *domain.Alert) error {
	if alert == nil || alert.ID == "" {
		return fmt.Errorf("%w: alert id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO alerts (
			id, transaction_ref, sender, recipient, amount,
			risk_score, severity, kind, message, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		alert.ID, alert.TransactionRef, alert.Sender, alert.Recipient,
		toSigned(alert.Amount), alert.RiskScore,
		string(alert.Severity), string(alert.Kind),
		alert.Message, alert.Timestamp,
	)
	return err
}

// ListAlerts retrieves alerts emitted at or after since, newest first.
func (r *SQLRepository) ListAlerts(ctx context.Context, since time.Time, limit int) ([]*domain.Alert, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, transaction_ref, sender, recipient, amount,
			   risk_score, severity, kind, message, timestamp
		FROM alerts
		WHERE timestamp >= ?
		ORDER BY timestamp DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		var a domain.Alert
		var amount int64
		var severity, kind string

		if err := rows.Scan(
			&a.ID, &a.TransactionRef, &a.Sender, &a.Recipient, &amount,
			&a.RiskScore, &severity, &kind, &a.Message, &a.Timestamp,
		); err != nil {
			return nil, err
		}

		a.Amount = fromSigned(amount)
		a.Severity = domain.Severity(severity)
		a.Kind = domain.AlertKind(kind)
		alerts = append(alerts, &a)
	}

	return alerts, rows.Err()
}

// SaveFinding stores a pattern finding.
func (r *SQLRepository) SaveFinding(ctx context.Context, finding *domain.PatternFinding) error {
	if finding == nil || finding.ID == "" {
		return fmt.Errorf("%w: finding id is required", ErrInvalidInput)
	}

	evidence, _ := json.Marshal(finding.EvidenceIDs)

	query := `
		INSERT INTO findings (
			id, address, kind, severity, description,
			evidence_ids, score_contribution, detected_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		finding.ID, finding.Address,
		string(finding.Kind), string(finding.Severity),
		finding.Description, string(evidence),
		finding.ScoreContribution, finding.DetectedAt,
	)
	return err
}

// ListFindingsByAddress retrieves findings for an address, newest first.
func (r *SQLRepository) ListFindingsByAddress(ctx context.Context, address string, limit int) ([]*domain.PatternFinding, error) {
	if address == "" {
		return nil, fmt.Errorf("%w: address is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, address, kind, severity, description,
			   evidence_ids, score_contribution, detected_at
		FROM findings
		WHERE address = ?
		ORDER BY detected_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), address, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var findings []*domain.PatternFinding
	for rows.Next() {
		var f domain.PatternFinding
		var kind, severity string
		var evidence sql.NullString

		if err := rows.Scan(
			&f.ID, &f.Address, &kind, &severity, &f.Description,
			&evidence, &f.ScoreContribution, &f.DetectedAt,
		); err != nil {
			return nil, err
		}

		f.Kind = domain.PatternKind(kind)
		f.Severity = domain.Severity(severity)
		if evidence.Valid && evidence.String != "" {
			json.Unmarshal([]byte(evidence.String), &f.EvidenceIDs)
		}
		findings = append(findings, &f)
	}

	return findings, rows.Err()
}

// AddRegistryEntries inserts addresses into a registry list.
// Duplicates are ignored.
func (r *SQLRepository) AddRegistryEntries(ctx context.Context, list domain.RegistryList, addresses []string) error {
	if len(addresses) == 0 {
		return nil
	}

	query := `
		INSERT INTO registry_entries (list, address, added_at)
		VALUES (?, ?, ?)
		ON CONFLICT(list, address) DO NOTHING
	`

	now := time.Now().UTC()
	for _, addr := range addresses {
		if _, err := r.db.ExecContext(ctx, r.rebind(query), string(list), addr, now); err != nil {
			return err
		}
	}
	return nil
}

// RemoveRegistryEntries removes addresses from a registry list.
func (r *SQLRepository) RemoveRegistryEntries(ctx context.Context, list domain.RegistryList, addresses []string) error {
	if len(addresses) == 0 {
		return nil
	}

	query := `DELETE FROM registry_entries WHERE list = ? AND address = ?`

	for _, addr := range addresses {
		if _, err := r.db.ExecContext(ctx, r.rebind(query), string(list), addr); err != nil {
			return err
		}
	}
	return nil
}

// ListRegistryEntries retrieves all addresses in a registry list.
func (r *SQLRepository) ListRegistryEntries(ctx context.Context, list domain.RegistryList) ([]string, error) {
	query := `SELECT address FROM registry_entries WHERE list = ? ORDER BY address`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), string(list))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var addresses []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		addresses = append(addresses, addr)
	}

	return addresses, rows.Err()
}

// SaveHeuristicRule stores a heuristic rule configuration.
func (r *SQLRepository) SaveHeuristicRule(ctx context.Context, rule *domain.HeuristicRule) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO heuristic_rules (
			id, name, description, expression, severity, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			severity = excluded.severity,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Expression,
		string(rule.Severity), enabled, now, now,
	)
	return err
}

// GetHeuristicRule retrieves a heuristic rule by ID.
func (r *SQLRepository) GetHeuristicRule(ctx context.Context, ruleID string) (*domain.HeuristicRule, error) {
	if ruleID == "" {
		return nil, fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	query := `
		SELECT id, name, description, expression, severity, enabled, created_at, updated_at
		FROM heuristic_rules
		WHERE id = ?
	`

	var rule domain.HeuristicRule
	var severity string
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), ruleID).Scan(
		&rule.ID, &rule.Name, &rule.Description, &rule.Expression,
		&severity, &enabled, &rule.CreatedAt, &rule.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rule.Severity = domain.Severity(severity)
	rule.Enabled = enabled == 1

	return &rule, nil
}

// ListHeuristicRules retrieves all heuristic rules.
func (r *SQLRepository) ListHeuristicRules(ctx context.Context) ([]*domain.HeuristicRule, error) {
	query := `
		SELECT id, name, description, expression, severity, enabled, created_at, updated_at
		FROM heuristic_rules
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.HeuristicRule
	for rows.Next() {
		var rule domain.HeuristicRule
		var severity string
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.Name, &rule.Description, &rule.Expression,
			&severity, &enabled, &rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, err
		}

		rule.Severity = domain.Severity(severity)
		rule.Enabled = enabled == 1
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// DeleteHeuristicRule removes a heuristic rule.
func (r *SQLRepository) DeleteHeuristicRule(ctx context.Context, ruleID string) error {
	if ruleID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	query := `DELETE FROM heuristic_rules WHERE id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SavePolicy stores a policy document as JSON.
func (r *SQLRepository) SavePolicy(ctx context.Context, kind domain.PolicyKind, payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: payload is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO policies (kind, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(kind) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query), string(kind), string(payload), time.Now().UTC())
	return err
}

// GetPolicy retrieves a policy document.
func (r *SQLRepository) GetPolicy(ctx context.Context, kind domain.PolicyKind) ([]byte, error) {
	query := `SELECT payload FROM policies WHERE kind = ?`

	var payload string
	err := r.db.QueryRowContext(ctx, r.rebind(query), string(kind)).Scan(&payload)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return []byte(payload), nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

// toSigned pins values above MaxInt64 so they fit a BIGINT column.
func toSigned(v uint64) int64 {
	if v > 1<<63-1 {
		return 1<<63 - 1
	}
	return int64(v)
}

func fromSigned(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}
