package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/prxatt/kiro-ai-gateway/internal/domain"
)

// ProfileRepo implements domain.ProfileStore. The daily counter resets at
// UTC midnight: a count recorded for a previous UTC day reads as zero and is
// rewound on the next consume.
type ProfileRepo struct{ Pool PgxPool }

// NewProfileRepo constructs a ProfileRepo with the given pool.
func NewProfileRepo(p PgxPool) *ProfileRepo { return &ProfileRepo{Pool: p} }

// GetProfile loads a user's tier and current-day request count.
func (r *ProfileRepo) GetProfile(ctx domain.Context, userID string) (domain.Profile, error) {
	tracer := otel.Tracer("repo.profiles")
	ctx, span := tracer.Start(ctx, "profiles.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "profiles"),
	)
	q := `SELECT tier, daily_count, count_date FROM profiles WHERE user_id=$1`
	var (
		tier      string
		count     int
		countDate time.Time
	)
	if err := r.Pool.QueryRow(ctx, q, userID).Scan(&tier, &count, &countDate); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Profile{}, fmt.Errorf("%w: profile %s", domain.ErrNotFound, userID)
		}
		return domain.Profile{}, fmt.Errorf("op=profiles.get: %w", err)
	}
	if countDate.UTC().Format("2006-01-02") != utcToday() {
		count = 0
	}
	return domain.Profile{Tier: domain.Tier(tier), DailyCount: count}, nil
}

// TryConsumeDaily atomically claims one request slot for the current UTC day.
// The conditional update is a single statement, so at most limit admissions
// succeed per day regardless of concurrent callers. It returns the
// post-increment count on success.
func (r *ProfileRepo) TryConsumeDaily(ctx domain.Context, userID string, limit int) (bool, int, error) {
	tracer := otel.Tracer("repo.profiles")
	ctx, span := tracer.Start(ctx, "profiles.TryConsumeDaily")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "profiles"),
	)
	today := utcToday()
	q := `UPDATE profiles
	      SET daily_count = CASE WHEN count_date = $2::date THEN daily_count + 1 ELSE 1 END,
	          count_date  = $2::date
	      WHERE user_id = $1
	        AND (CASE WHEN count_date = $2::date THEN daily_count ELSE 0 END) < $3
	      RETURNING daily_count`
	var count int
	err := r.Pool.QueryRow(ctx, q, userID, today, limit).Scan(&count)
	if err == nil {
		return true, count, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, 0, fmt.Errorf("op=profiles.consume: %w", err)
	}
	// No row updated: either the user does not exist or the limit is hit.
	p, gerr := r.GetProfile(ctx, userID)
	if gerr != nil {
		return false, 0, gerr
	}
	return false, p.DailyCount, nil
}

func utcToday() string {
	return time.Now().UTC().Format("2006-01-02")
}
