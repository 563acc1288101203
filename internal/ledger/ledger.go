// Package ledger manages the PostgreSQL usage ledger and post-performance
// telemetry. Usage records are append-only: the write path is a two-tier
// strategy (preferred stored-procedure bulk upsert, direct-insert fallback),
// both tiers idempotent on the record's UUID so a retry never double-counts.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openpostops/postgate/pkg/models"
)

// Ledger wraps the PostgreSQL connection pool and provides the data
// access layer for usage records and post attribution.
type Ledger struct {
	Pool *pgxpool.Pool
}

// New creates a new ledger connection pool.
func New(dsn string) (*Ledger, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing ledger config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging ledger database: %w", err)
	}

	return &Ledger{Pool: pool}, nil
}

// Close shuts down the connection pool.
func (l *Ledger) Close() {
	l.Pool.Close()
}

// Migrate runs schema migrations. An advisory lock prevents concurrent
// replicas from racing on DDL statements.
func (l *Ledger) Migrate(ctx context.Context) error {
	conn, err := l.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection for migration: %w", err)
	}
	defer conn.Release()

	// Application-specific lock ID to avoid collisions with other apps
	// on the same PostgreSQL instance.
	const migrationLockID int64 = 0x5047_5401 // "PGT" prefix + 01
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("acquiring migration lock: %w", err)
	}
	defer conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID)

	schema := `
	CREATE TABLE IF NOT EXISTS usage_records (
		id                TEXT PRIMARY KEY,
		model             TEXT NOT NULL,
		intent            TEXT NOT NULL DEFAULT '',
		prompt_tokens     BIGINT NOT NULL DEFAULT 0,
		completion_tokens BIGINT NOT NULL DEFAULT 0,
		total_tokens      BIGINT NOT NULL DEFAULT 0,
		cost_usd          DOUBLE PRECISION NOT NULL DEFAULT 0,
		raw_response_meta JSONB,
		timestamp         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS post_attribution (
		post_id          TEXT PRIMARY KEY,
		topic            TEXT NOT NULL DEFAULT '',
		hook_pattern     TEXT NOT NULL DEFAULT '',
		generator_used   TEXT NOT NULL DEFAULT '',
		impressions      BIGINT NOT NULL DEFAULT 0,
		engagement_rate  DOUBLE PRECISION NOT NULL DEFAULT 0,
		followers_gained BIGINT NOT NULL DEFAULT 0,
		post_succeeded   BOOLEAN NOT NULL DEFAULT TRUE,
		posted_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_usage_records_timestamp ON usage_records(timestamp);
	CREATE INDEX IF NOT EXISTS idx_usage_records_model ON usage_records(model);
	CREATE INDEX IF NOT EXISTS idx_post_attribution_posted_at ON post_attribution(posted_at);

	CREATE OR REPLACE FUNCTION record_usage_bulk(records JSONB) RETURNS INTEGER AS $fn$
	DECLARE
		inserted INTEGER;
	BEGIN
		INSERT INTO usage_records (
			id, model, intent, prompt_tokens, completion_tokens,
			total_tokens, cost_usd, raw_response_meta, timestamp
		)
		SELECT
			r->>'id', r->>'model', COALESCE(r->>'intent', ''),
			COALESCE((r->>'prompt_tokens')::BIGINT, 0),
			COALESCE((r->>'completion_tokens')::BIGINT, 0),
			COALESCE((r->>'total_tokens')::BIGINT, 0),
			COALESCE((r->>'cost_usd')::DOUBLE PRECISION, 0),
			r->'raw_response_meta',
			COALESCE((r->>'timestamp')::TIMESTAMPTZ, NOW())
		FROM jsonb_array_elements(records) AS r
		ON CONFLICT (id) DO NOTHING;
		GET DIAGNOSTICS inserted = ROW_COUNT;
		RETURN inserted;
	END;
	$fn$ LANGUAGE plpgsql;
	`

	if _, err := conn.Exec(ctx, schema); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// RecordUsage persists a usage record. The preferred path is the
// record_usage_bulk stored procedure; on any failure it falls back to a
// direct insert into the same logical table. Both tiers are idempotent on
// the record ID, so either path is safe to retry.
func (l *Ledger) RecordUsage(ctx context.Context, rec *models.UsageRecord) error {
	payload, err := json.Marshal([]*models.UsageRecord{rec})
	if err != nil {
		return fmt.Errorf("marshaling usage record %s: %w", rec.ID, err)
	}

	_, bulkErr := l.Pool.Exec(ctx, `SELECT record_usage_bulk($1::jsonb)`, payload)
	if bulkErr == nil {
		return nil
	}
	log.Printf("ledger: bulk upsert failed for %s (%v), falling back to direct insert", rec.ID, bulkErr)

	_, err = l.Pool.Exec(ctx, `
		INSERT INTO usage_records (
			id, model, intent, prompt_tokens, completion_tokens,
			total_tokens, cost_usd, raw_response_meta, timestamp
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO NOTHING
	`, rec.ID, rec.Model, rec.Intent, rec.PromptTokens, rec.CompletionTokens,
		rec.TotalTokens, rec.CostUSD, rec.RawResponseMeta, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("inserting usage record %s (bulk path also failed: %v): %w", rec.ID, bulkErr, err)
	}
	return nil
}

// InsertAttribution writes the attribution stub row for a freshly
// published post. Engagement metrics arrive later from the collector and
// update the same row, so the insert is idempotent on post_id.
func (l *Ledger) InsertAttribution(ctx context.Context, a *models.PostAttribution) error {
	_, err := l.Pool.Exec(ctx, `
		INSERT INTO post_attribution (
			post_id, topic, hook_pattern, generator_used,
			impressions, engagement_rate, followers_gained, posted_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (post_id) DO NOTHING
	`, a.PostID, a.Topic, a.HookPattern, a.GeneratorUsed,
		a.Impressions, a.EngagementRate, a.FollowersGained, a.PostedAt)
	if err != nil {
		return fmt.Errorf("inserting attribution for %s: %w", a.PostID, err)
	}
	return nil
}

// RecordPostFailure marks a failed publish attempt in the telemetry table
// so the rate controller can observe the recent post error rate.
func (l *Ledger) RecordPostFailure(ctx context.Context, postID string, at time.Time) error {
	_, err := l.Pool.Exec(ctx, `
		INSERT INTO post_attribution (post_id, post_succeeded, posted_at)
		VALUES ($1, FALSE, $2)
		ON CONFLICT (post_id) DO NOTHING
	`, postID, at)
	if err != nil {
		return fmt.Errorf("recording post failure for %s: %w", postID, err)
	}
	return nil
}

// RollingEngagement returns the average engagement rate over the given
// window, counting only successful posts.
func (l *Ledger) RollingEngagement(ctx context.Context, window time.Duration) (float64, error) {
	var er float64
	err := l.Pool.QueryRow(ctx, `
		SELECT COALESCE(AVG(engagement_rate), 0)
		FROM post_attribution
		WHERE post_succeeded AND posted_at > NOW() - $1::interval
	`, window.String()).Scan(&er)
	if err != nil {
		return 0, fmt.Errorf("querying rolling engagement: %w", err)
	}
	return er, nil
}

// OutcomeFreshness counts posts with observed engagement (impressions
// recorded) vs. stale posts still awaiting metrics, over the last 7 days.
func (l *Ledger) OutcomeFreshness(ctx context.Context) (models.OutcomeFreshness, error) {
	var f models.OutcomeFreshness
	err := l.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE impressions > 0),
			COUNT(*) FILTER (WHERE impressions = 0)
		FROM post_attribution
		WHERE post_succeeded AND posted_at > NOW() - INTERVAL '7 days'
	`).Scan(&f.Good, &f.Stale)
	if err != nil {
		return f, fmt.Errorf("querying outcome freshness: %w", err)
	}
	return f, nil
}

// PostErrorRate returns the share of failed publish attempts over the
// last 24 hours, in [0,1]. Zero attempts yields zero.
func (l *Ledger) PostErrorRate(ctx context.Context) (float64, error) {
	var failed, total int64
	err := l.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE NOT post_succeeded),
			COUNT(*)
		FROM post_attribution
		WHERE posted_at > NOW() - INTERVAL '24 hours'
	`).Scan(&failed, &total)
	if err != nil {
		return 0, fmt.Errorf("querying post error rate: %w", err)
	}
	if total == 0 {
		return 0, nil
	}
	return float64(failed) / float64(total), nil
}

// RecentUsage returns the most recent N usage records, newest first.
func (l *Ledger) RecentUsage(ctx context.Context, limit int) ([]models.UsageRecord, error) {
	rows, err := l.Pool.Query(ctx, `
		SELECT id, model, intent, prompt_tokens, completion_tokens,
		       total_tokens, cost_usd, raw_response_meta, timestamp
		FROM usage_records ORDER BY timestamp DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent usage: %w", err)
	}
	defer rows.Close()

	var results []models.UsageRecord
	for rows.Next() {
		var r models.UsageRecord
		if err := rows.Scan(
			&r.ID, &r.Model, &r.Intent, &r.PromptTokens, &r.CompletionTokens,
			&r.TotalTokens, &r.CostUSD, &r.RawResponseMeta, &r.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scanning usage record: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
