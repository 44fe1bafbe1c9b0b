package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the subset of pgx used by PostgresStore. *pgxpool.Pool satisfies it.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore implements Store on PostgreSQL. Attempts are kept in a JSONB
// column so each record is a single-row insert.
type PostgresStore struct {
	db    DB
	close func()
}

// NewPostgres connects a pool to dsn.
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: pool, close: pool.Close}, nil
}

// NewPostgresWithDB wraps an existing connection or pool.
func NewPostgresWithDB(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS audit_log (
			request_id TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL,
			tenant_id TEXT NOT NULL,
			caller_id TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL,
			provider_used TEXT NOT NULL DEFAULT '',
			model_used TEXT NOT NULL DEFAULT '',
			error_class TEXT NOT NULL DEFAULT '',
			tokens_used INTEGER NOT NULL DEFAULT 0,
			cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
			latency_ms BIGINT NOT NULL DEFAULT 0,
			fallback_used BOOLEAN NOT NULL DEFAULT FALSE,
			attempts JSONB NOT NULL DEFAULT '[]'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_tenant_created ON audit_log(tenant_id, created_at DESC)`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}

func (s *PostgresStore) AppendAudit(ctx context.Context, rec AuditRecord) error {
	attempts := make([]AttemptRow, len(rec.Attempts))
	for i, a := range rec.Attempts {
		a.Seq = i + 1
		attempts[i] = a
	}
	j, err := json.Marshal(attempts)
	if err != nil {
		return fmt.Errorf("marshal attempts: %w", err)
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	query := `
		INSERT INTO audit_log (request_id, created_at, tenant_id, caller_id, outcome, provider_used, model_used,
			error_class, tokens_used, cost_usd, latency_ms, fallback_used, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::jsonb)
		ON CONFLICT (request_id) DO NOTHING
	`
	_, err = s.db.Exec(ctx, query,
		rec.RequestID, ts.UTC(), rec.TenantID, rec.CallerID, rec.Outcome, rec.ProviderUsed, rec.ModelUsed,
		rec.ErrorClass, rec.TokensUsed, rec.CostUSD, rec.LatencyMs, rec.FallbackUsed, string(j),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAudit(ctx context.Context, requestID string) (*AuditRecord, error) {
	query := `
		SELECT request_id, created_at, tenant_id, caller_id, outcome, provider_used, model_used, error_class,
			tokens_used, cost_usd, latency_ms, fallback_used, attempts
		FROM audit_log WHERE request_id = $1
	`
	var rec AuditRecord
	var attempts []byte
	err := s.db.QueryRow(ctx, query, requestID).Scan(
		&rec.RequestID, &rec.Timestamp, &rec.TenantID, &rec.CallerID, &rec.Outcome, &rec.ProviderUsed,
		&rec.ModelUsed, &rec.ErrorClass, &rec.TokensUsed, &rec.CostUSD, &rec.LatencyMs, &rec.FallbackUsed, &attempts,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit record: %w", err)
	}
	if len(attempts) > 0 {
		if err := json.Unmarshal(attempts, &rec.Attempts); err != nil {
			return nil, fmt.Errorf("decode attempts: %w", err)
		}
	}
	return &rec, nil
}

func (s *PostgresStore) ListAudit(ctx context.Context, filter AuditFilter, limit, offset int) ([]AuditRecord, error) {
	query := `
		SELECT request_id, created_at, tenant_id, caller_id, outcome, provider_used, model_used, error_class,
			tokens_used, cost_usd, latency_ms, fallback_used
		FROM audit_log
		WHERE ($1 = '' OR tenant_id = $1) AND ($2 = '' OR outcome = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := s.db.Query(ctx, query, filter.TenantID, filter.Outcome, listLimit(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var rec AuditRecord
		if err := rows.Scan(
			&rec.RequestID, &rec.Timestamp, &rec.TenantID, &rec.CallerID, &rec.Outcome, &rec.ProviderUsed,
			&rec.ModelUsed, &rec.ErrorClass, &rec.TokensUsed, &rec.CostUSD, &rec.LatencyMs, &rec.FallbackUsed,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SummarizeUsage(ctx context.Context, tenantID string, since time.Time) ([]UsageSummary, error) {
	query := `
		SELECT a->>'provider_id' AS provider,
			COUNT(*),
			COUNT(*) FILTER (WHERE (a->>'success')::boolean),
			COALESCE(SUM((a->>'tokens_used')::bigint), 0),
			COALESCE(SUM((a->>'cost_usd')::double precision), 0)
		FROM audit_log l, jsonb_array_elements(l.attempts) a
		WHERE l.tenant_id = $1 AND (a->>'timestamp')::timestamptz >= $2
		GROUP BY provider
		ORDER BY provider
	`
	rows, err := s.db.Query(ctx, query, tenantID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to summarize usage: %w", err)
	}
	defer rows.Close()

	var out []UsageSummary
	for rows.Next() {
		var u UsageSummary
		if err := rows.Scan(&u.ProviderID, &u.Attempts, &u.Successes, &u.Tokens, &u.CostUSD); err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage: %w", err)
	}
	return out, nil
}
