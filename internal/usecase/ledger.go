package usecase

import (
	"context"
	"time"

	"log/slog"

	"github.com/cenkalti/backoff/v4"

	"github.com/prxatt/kiro-ai-gateway/internal/adapter/observability"
	"github.com/prxatt/kiro-ai-gateway/internal/domain"
)

// Ledger appends usage records, best effort. Every completed request, cache
// hit or real call, produces exactly one record. A failed append never fails
// the request: the first attempt is synchronous and a failure hands the
// record to a background retry loop.
type Ledger struct {
	usage domain.UsageStore
	pub   domain.UsagePublisher

	retryMaxElapsed time.Duration
}

// NewLedger builds a Ledger. pub may be nil when event streaming is disabled.
func NewLedger(usage domain.UsageStore, pub domain.UsagePublisher) *Ledger {
	return &Ledger{usage: usage, pub: pub, retryMaxElapsed: 30 * time.Second}
}

// Record appends one usage record and streams it to the usage topic.
func (l *Ledger) Record(ctx domain.Context, rec domain.UsageRecord) {
	log := observability.LoggerFromContext(ctx)

	if err := l.usage.LogUsage(ctx, rec); err != nil {
		observability.UsageLogFailuresTotal.Inc()
		log.Warn("usage append failed, retrying in background",
			slog.String("user_id", rec.UserID),
			slog.String("model", rec.Model),
			slog.Any("error", err))
		go l.retryAppend(rec)
	}

	if l.pub != nil {
		if err := l.pub.PublishUsage(ctx, rec); err != nil {
			log.Warn("usage publish failed",
				slog.String("user_id", rec.UserID), slog.Any("error", err))
		}
	}
}

// retryAppend retries a failed ledger append with exponential backoff,
// detached from the request context.
func (l *Ledger) retryAppend(rec domain.UsageRecord) {
	expo := backoff.NewExponentialBackOff()
	expo.MaxElapsedTime = l.retryMaxElapsed

	ctx, cancel := context.WithTimeout(context.Background(), l.retryMaxElapsed)
	defer cancel()

	op := func() error { return l.usage.LogUsage(ctx, rec) }
	if err := backoff.Retry(op, backoff.WithContext(expo, ctx)); err != nil {
		observability.UsageLogFailuresTotal.Inc()
		slog.Error("usage record dropped after retries",
			slog.String("user_id", rec.UserID),
			slog.String("model", rec.Model),
			slog.Any("error", err))
	}
}
