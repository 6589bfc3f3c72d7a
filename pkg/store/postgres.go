package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/moatsec/moat/pkg/quota"
	"github.com/moatsec/moat/pkg/threat"
)

// schema is applied idempotently at startup. The scoring core owns these
// tables only as a write target; reporting surfaces query them elsewhere.
const schema = `
CREATE TABLE IF NOT EXISTS verdicts (
	id            TEXT PRIMARY KEY,
	identity      TEXT NOT NULL,
	score         DOUBLE PRECISION NOT NULL,
	level         TEXT NOT NULL,
	explanation   TEXT NOT NULL,
	indicators    JSONB NOT NULL,
	ai_powered    BOOLEAN NOT NULL,
	fallback      TEXT NOT NULL DEFAULT '',
	cache_hit     BOOLEAN NOT NULL,
	generated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_records (
	id          TEXT PRIMARY KEY,
	identity    TEXT NOT NULL,
	provider    TEXT NOT NULL,
	model       TEXT NOT NULL,
	tokens_in   BIGINT NOT NULL,
	tokens_out  BIGINT NOT NULL,
	cost_usd    DOUBLE PRECISION NOT NULL,
	cache_hit   BOOLEAN NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_verdicts_identity ON verdicts (identity, generated_at);
CREATE INDEX IF NOT EXISTS idx_usage_identity ON usage_records (identity, recorded_at);
`

// Postgres persists verdicts and usage records through a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects, verifies the connection and applies the schema.
func NewPostgres(ctx context.Context, url string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() { p.pool.Close() }

// SaveVerdict inserts one immutable verdict row.
func (p *Postgres) SaveVerdict(ctx context.Context, identity string, v threat.Verdict) error {
	indicators, err := json.Marshal(v.Indicators)
	if err != nil {
		return fmt.Errorf("marshal indicators: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO verdicts
			(id, identity, score, level, explanation, indicators,
			 ai_powered, fallback, cache_hit, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		v.ID, identity, v.Score, string(v.Level), v.Explanation, indicators,
		v.Meta.AIPowered, string(v.Meta.FallbackReason), v.Meta.CacheHit, v.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("insert verdict: %w", err)
	}
	return nil
}

// SaveUsage appends one usage record; it satisfies quota.RecordSink.
func (p *Postgres) SaveUsage(ctx context.Context, rec quota.Record) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO usage_records
			(id, identity, provider, model, tokens_in, tokens_out,
			 cost_usd, cache_hit, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.Identity, rec.Provider, rec.Model, rec.TokensIn, rec.TokensOut,
		rec.CostUSD, rec.CacheHit, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}
