package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// tsLayout is fixed-width so timestamps compare correctly as text.
const tsLayout = "2006-01-02T15:04:05.000000Z"

// SQLiteStore implements Store and VaultStore using modernc.org/sqlite
// (pure-Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens or creates a SQLite database at the given DSN.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000; PRAGMA foreign_keys=ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	// An in-memory database exists per connection, so it must stay on one.
	if strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
	}
	db.SetConnMaxLifetime(time.Hour)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS audit_log (
			request_id TEXT PRIMARY KEY,
			timestamp TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			caller_id TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL,
			provider_used TEXT NOT NULL DEFAULT '',
			model_used TEXT NOT NULL DEFAULT '',
			error_class TEXT NOT NULL DEFAULT '',
			tokens_used INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			fallback_used INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_tenant ON audit_log(tenant_id, timestamp)`,
		`CREATE TABLE IF NOT EXISTS audit_attempts (
			request_id TEXT NOT NULL REFERENCES audit_log(request_id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			timestamp TEXT NOT NULL,
			provider_id TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			success INTEGER NOT NULL DEFAULT 0,
			error_class TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			latency_ms INTEGER NOT NULL DEFAULT 0,
			tokens_used INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (request_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_attempts_provider ON audit_attempts(provider_id, timestamp)`,
		`CREATE TABLE IF NOT EXISTS vault_blob (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			salt BLOB NOT NULL,
			data TEXT NOT NULL DEFAULT '{}'
		)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Audit log

func (s *SQLiteStore) AppendAudit(ctx context.Context, rec AuditRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO audit_log (request_id, timestamp, tenant_id, caller_id, outcome, provider_used, model_used,
		 error_class, tokens_used, cost_usd, latency_ms, fallback_used)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(request_id) DO NOTHING`,
		rec.RequestID, formatTS(rec.Timestamp), rec.TenantID, rec.CallerID, rec.Outcome, rec.ProviderUsed,
		rec.ModelUsed, rec.ErrorClass, rec.TokensUsed, rec.CostUSD, rec.LatencyMs, rec.FallbackUsed)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	// A retried append of an already stored record is a no-op.
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil
	}

	for i, a := range rec.Attempts {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO audit_attempts (request_id, seq, timestamp, provider_id, model, success, error_class,
			 detail, latency_ms, tokens_used, cost_usd)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.RequestID, i+1, formatTS(a.Timestamp), a.ProviderID, a.Model, a.Success, a.ErrorClass,
			a.Detail, a.LatencyMs, a.TokensUsed, a.CostUSD)
		if err != nil {
			return fmt.Errorf("insert attempt %d: %w", i+1, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetAudit(ctx context.Context, requestID string) (*AuditRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT request_id, timestamp, tenant_id, caller_id, outcome, provider_used, model_used, error_class,
		 tokens_used, cost_usd, latency_ms, fallback_used
		 FROM audit_log WHERE request_id = ?`, requestID)
	rec, err := scanAudit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, timestamp, provider_id, model, success, error_class, detail, latency_ms, tokens_used, cost_usd
		 FROM audit_attempts WHERE request_id = ? ORDER BY seq`, requestID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var a AttemptRow
		var ts string
		if err := rows.Scan(&a.Seq, &ts, &a.ProviderID, &a.Model, &a.Success, &a.ErrorClass, &a.Detail,
			&a.LatencyMs, &a.TokensUsed, &a.CostUSD); err != nil {
			return nil, err
		}
		a.Timestamp = parseTS(ts)
		rec.Attempts = append(rec.Attempts, a)
	}
	return &rec, rows.Err()
}

func (s *SQLiteStore) ListAudit(ctx context.Context, filter AuditFilter, limit, offset int) ([]AuditRecord, error) {
	q := `SELECT request_id, timestamp, tenant_id, caller_id, outcome, provider_used, model_used, error_class,
		 tokens_used, cost_usd, latency_ms, fallback_used
		 FROM audit_log WHERE 1=1`
	var args []any
	if filter.TenantID != "" {
		q += ` AND tenant_id = ?`
		args = append(args, filter.TenantID)
	}
	if filter.Outcome != "" {
		q += ` AND outcome = ?`
		args = append(args, filter.Outcome)
	}
	q += ` ORDER BY timestamp DESC LIMIT ? OFFSET ?`
	args = append(args, listLimit(limit), offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []AuditRecord
	for rows.Next() {
		rec, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SummarizeUsage(ctx context.Context, tenantID string, since time.Time) ([]UsageSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.provider_id, COUNT(*), COALESCE(SUM(a.success), 0), COALESCE(SUM(a.tokens_used), 0),
		 COALESCE(SUM(a.cost_usd), 0)
		 FROM audit_attempts a JOIN audit_log l ON l.request_id = a.request_id
		 WHERE l.tenant_id = ? AND a.timestamp >= ?
		 GROUP BY a.provider_id ORDER BY a.provider_id`,
		tenantID, formatTS(since))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []UsageSummary
	for rows.Next() {
		var u UsageSummary
		if err := rows.Scan(&u.ProviderID, &u.Attempts, &u.Successes, &u.Tokens, &u.CostUSD); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Vault persistence

func (s *SQLiteStore) SaveVaultBlob(ctx context.Context, salt []byte, data map[string]string) error {
	j, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal vault data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO vault_blob (id, salt, data) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET salt=excluded.salt, data=excluded.data`,
		salt, string(j))
	return err
}

func (s *SQLiteStore) LoadVaultBlob(ctx context.Context) ([]byte, map[string]string, error) {
	var salt []byte
	var dataStr string
	err := s.db.QueryRowContext(ctx, `SELECT salt, data FROM vault_blob WHERE id = 1`).Scan(&salt, &dataStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	var data map[string]string
	if err := json.Unmarshal([]byte(dataStr), &data); err != nil {
		return nil, nil, fmt.Errorf("unmarshal vault data: %w", err)
	}
	return salt, data, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAudit(sc scanner) (AuditRecord, error) {
	var rec AuditRecord
	var ts string
	err := sc.Scan(&rec.RequestID, &ts, &rec.TenantID, &rec.CallerID, &rec.Outcome, &rec.ProviderUsed,
		&rec.ModelUsed, &rec.ErrorClass, &rec.TokensUsed, &rec.CostUSD, &rec.LatencyMs, &rec.FallbackUsed)
	if err != nil {
		return AuditRecord{}, err
	}
	rec.Timestamp = parseTS(ts)
	return rec, nil
}

func formatTS(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) time.Time {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
