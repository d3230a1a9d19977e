package postgres

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/prxatt/kiro-ai-gateway/internal/domain"
)

// UsageRepo implements domain.UsageStore as an append-only ledger.
type UsageRepo struct{ Pool PgxPool }

// NewUsageRepo constructs a UsageRepo with the given pool.
func NewUsageRepo(p PgxPool) *UsageRepo { return &UsageRepo{Pool: p} }

// LogUsage appends one ledger row. The record's ID is generated when empty.
func (r *UsageRepo) LogUsage(ctx domain.Context, rec domain.UsageRecord) error {
	tracer := otel.Tracer("repo.usage")
	ctx, span := tracer.Start(ctx, "usage.Log")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "ai_usage"),
	)
	id := rec.ID
	if id == "" {
		id = ulid.Make().String()
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	q := `INSERT INTO ai_usage
	      (id, user_id, model, feature, input_tokens, output_tokens, cost_cents, latency_ms, cache_hit, created_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err := r.Pool.Exec(ctx, q, id, rec.UserID, rec.Model, string(rec.Feature),
		rec.InputTokens, rec.OutputTokens, rec.CostCents, rec.LatencyMS, rec.CacheHit, created)
	if err != nil {
		return fmt.Errorf("op=usage.log: %w", err)
	}
	return nil
}

// SumCostCents aggregates a user's spend since the given instant.
func (r *UsageRepo) SumCostCents(ctx domain.Context, userID string, since time.Time) (int, error) {
	tracer := otel.Tracer("repo.usage")
	ctx, span := tracer.Start(ctx, "usage.SumCost")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "ai_usage"),
	)
	q := `SELECT COALESCE(SUM(cost_cents), 0) FROM ai_usage WHERE user_id=$1 AND created_at >= $2`
	var total int
	if err := r.Pool.QueryRow(ctx, q, userID, since).Scan(&total); err != nil {
		return 0, fmt.Errorf("op=usage.sum: %w", err)
	}
	return total, nil
}

// SumCostCentsForModel aggregates a user's spend on one model since the
// given instant, feeding the per-provider free-credit accounting.
func (r *UsageRepo) SumCostCentsForModel(ctx domain.Context, userID, model string, since time.Time) (int, error) {
	tracer := otel.Tracer("repo.usage")
	ctx, span := tracer.Start(ctx, "usage.SumCostForModel")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "ai_usage"),
	)
	q := `SELECT COALESCE(SUM(cost_cents), 0) FROM ai_usage WHERE user_id=$1 AND model=$2 AND created_at >= $3`
	var total int
	if err := r.Pool.QueryRow(ctx, q, userID, model, since).Scan(&total); err != nil {
		return 0, fmt.Errorf("op=usage.sum_model: %w", err)
	}
	return total, nil
}
