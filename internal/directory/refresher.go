// ABOUTME: Cooldown and in-flight guarded directory refresh from the REST snapshot
// ABOUTME: Refreshes requested during the cooldown collapse into one trailing refresh

package directory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/2389/coven-desk/internal/desk"
	"github.com/2389/coven-desk/internal/telemetry"
	"github.com/2389/coven-desk/internal/timing"
)

// DefaultCooldown is the minimum interval between directory fetches.
const DefaultCooldown = time.Second

// Fetcher loads a directory snapshot.
type Fetcher func(ctx context.Context) ([]desk.Group, error)

// Notifier receives user-visible failures.
type Notifier interface {
	ReportError(message string)
}

// Refresher repopulates a Directory from a Fetcher.
type Refresher struct {
	dir      *Directory
	fetch    Fetcher
	limiter  *rate.Limiter
	flight   singleflight.Group
	trailing timing.Task
	notifier Notifier
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewRefresher creates a refresher. A cooldown of zero disables rate control.
func NewRefresher(dir *Directory, fetch Fetcher, cooldown time.Duration, notifier Notifier, metrics *telemetry.Metrics, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if cooldown > 0 {
		limit = rate.Every(cooldown)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Refresher{
		dir:      dir,
		fetch:    fetch,
		limiter:  rate.NewLimiter(limit, 1),
		notifier: notifier,
		metrics:  metrics,
		logger:   logger.With("component", "refresher"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Refresh fetches and populates the directory. It reports false without
// fetching when the call landed inside the cooldown; a trailing refresh is
// then scheduled for the end of the cooldown. Concurrent calls share one
// fetch.
func (r *Refresher) Refresh(ctx context.Context) (bool, error) {
	if r.ctx.Err() != nil {
		return false, nil
	}

	res := r.limiter.Reserve()
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		if !r.trailing.Pending() {
			r.trailing.Schedule(delay, func() {
				if _, err := r.Refresh(r.ctx); err != nil {
					r.logger.Debug("trailing refresh failed", "error", err)
				}
			})
		}
		r.metrics.Refresh(ctx, "deferred")
		return false, nil
	}

	_, err, shared := r.flight.Do("groups", func() (any, error) {
		groups, err := r.fetch(ctx)
		if err != nil {
			return nil, err
		}
		r.dir.Populate(groups)
		return nil, nil
	})
	if shared {
		r.metrics.Refresh(ctx, "shared")
	}
	if err != nil {
		r.metrics.Refresh(ctx, "error")
		r.logger.Error("failed to refresh directory", "error", err)
		if r.notifier != nil {
			r.notifier.ReportError("Failed to refresh sessions")
		}
		return false, fmt.Errorf("%w: refreshing directory: %v", desk.ErrNetwork, err)
	}

	r.metrics.Refresh(ctx, "ok")
	return true, nil
}

// Close cancels any trailing refresh. Later Refresh calls are no-ops.
func (r *Refresher) Close() {
	r.cancel()
	r.trailing.Cancel()
}
