package pairing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// DefaultCleanupSchedule runs CleanupExpired every five minutes.
const DefaultCleanupSchedule = "*/5 * * * *"

// RunCleanup calls CleanupExpired on the cron schedule expr until ctx is done.
// Expiry is already applied lazily on every read; this only keeps the
// statistics and the snapshot file tidy.
func (r *Registry) RunCleanup(ctx context.Context, expr string) error {
	if expr == "" {
		expr = DefaultCleanupSchedule
	}
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("invalid cron expression: %s", expr)
	}

	for {
		next, err := gronx.NextTickAfter(expr, r.now(), false)
		if err != nil {
			return fmt.Errorf("pairing cleanup: next tick for %q: %w", expr, err)
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		if n := r.CleanupExpired(); n > 0 {
			slog.Debug("pairing cleanup tick", "expired", n)
		}
	}
}
