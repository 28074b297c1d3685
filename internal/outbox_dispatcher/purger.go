package outbox_dispatcher

import (
	"context"
	"log/slog"
	"time"
)

// ExpiredRecordPurger deletes idempotency records past their retention window.
type ExpiredRecordPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Reaper runs the idempotency purge on a fixed interval.
type Reaper struct {
	purger   ExpiredRecordPurger
	interval time.Duration
	logger   *slog.Logger
}

func NewReaper(purger ExpiredRecordPurger, interval time.Duration, logger *slog.Logger) *Reaper {
	return &Reaper{purger: purger, interval: interval, logger: logger}
}

func (r *Reaper) Start(ctx context.Context) {
	r.logger.Info("Starting idempotency reaper", "interval", r.interval.String())
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Idempotency reaper stopping")
			return
		case <-ticker.C:
			r.purgeOnce(ctx)
		}
	}
}

func (r *Reaper) purgeOnce(ctx context.Context) {
	n, err := r.purger.PurgeExpired(ctx)
	if err != nil {
		r.logger.Error("Failed to purge expired idempotency records", "error", err)
		return
	}
	if n > 0 {
		r.logger.Info("Purged expired idempotency records", "count", n)
	}
}
