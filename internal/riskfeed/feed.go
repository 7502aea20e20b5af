// Package riskfeed holds the top-N wildfire risk points for the active identity.
package riskfeed

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	sharedretry "github.com/couchcryptid/storm-data-shared/retry"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/firewatch-sync/internal/domain"
	"github.com/couchcryptid/firewatch-sync/internal/observability"
)

const initialBackoff = 200 * time.Millisecond

// Endpoint is the remote risk point service.
type Endpoint interface {
	TopRiskPoints(ctx context.Context, limit int) ([]domain.RiskPoint, error)
}

// MarkerSink renders risk points as map markers.
type MarkerSink interface {
	SetMarkers(points []domain.RiskPoint)
}

// Feed fetches, ranks and holds risk points. A failed fetch never clears the
// held set.
type Feed struct {
	endpoint Endpoint
	sink     MarkerSink
	notifier domain.Notifier
	metrics  *observability.Metrics
	logger   *slog.Logger
	limit    int
	interval time.Duration
	clock    clockwork.Clock

	mu        sync.Mutex
	identity  domain.Identity
	gen       uint64 // bumped on every activation
	points    []domain.RiskPoint
	fetchedAt time.Time
}

// New creates a feed holding at most limit points. interval configures Run;
// zero disables periodic refresh.
func New(endpoint Endpoint, sink MarkerSink, notifier domain.Notifier, metrics *observability.Metrics, logger *slog.Logger, limit int, interval time.Duration) *Feed {
	if limit <= 0 {
		limit = domain.DefaultRiskLimit
	}
	return &Feed{
		endpoint: endpoint,
		sink:     sink,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		limit:    limit,
		interval: interval,
		clock:    clockwork.NewRealClock(),
	}
}

// SetClock swaps the time source used by Run.
func (f *Feed) SetClock(c clockwork.Clock) {
	f.clock = c
}

// Activate makes identity the feed's owner. Responses to fetches dispatched
// before the call are discarded.
func (f *Feed) Activate(identity domain.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identity = identity
	f.gen++
}

// Fetch replaces the held set with the top points, sorted by probability
// descending. On failure the error is reported and the held set is kept. A
// fetch for an identity other than the active one is dropped without a call,
// as is a response that arrives after a later activation.
func (f *Feed) Fetch(ctx context.Context, identity domain.Identity) ([]domain.RiskPoint, error) {
	f.mu.Lock()
	if f.identity.IsZero() {
		f.mu.Unlock()
		return nil, domain.ErrNoIdentity
	}
	if identity != f.identity {
		defer f.mu.Unlock()
		f.metrics.RiskFetches.WithLabelValues("discarded").Inc()
		f.logger.Debug("risk fetch for inactive identity dropped", "identity", identity, "active", f.identity)
		return slices.Clone(f.points), nil
	}
	gen := f.gen
	f.mu.Unlock()

	fetched, err := f.endpoint.TopRiskPoints(ctx, f.limit)

	f.mu.Lock()
	defer f.mu.Unlock()

	if gen != f.gen {
		f.metrics.RiskFetches.WithLabelValues("discarded").Inc()
		f.logger.Debug("stale risk response discarded", "identity", identity)
		return slices.Clone(f.points), nil
	}
	if err != nil {
		f.metrics.RiskFetches.WithLabelValues("error").Inc()
		f.logger.Warn("risk fetch failed, keeping previous points", "error", err, "held", len(f.points))
		domain.ReportError(ctx, f.notifier, "fetch risk points", identity, err)
		return nil, err
	}

	f.points = domain.RankRiskPoints(fetched, f.limit)
	f.fetchedAt = domain.Now()
	f.sink.SetMarkers(f.points)
	f.metrics.RiskFetches.WithLabelValues("success").Inc()
	f.metrics.RiskPoints.Set(float64(len(f.points)))
	return slices.Clone(f.points), nil
}

// Points returns the held set.
func (f *Feed) Points() []domain.RiskPoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.points)
}

// FetchedAt returns when the held set was last replaced.
func (f *Feed) FetchedAt() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchedAt
}

// Run refreshes the held set every interval for the active identity until
// the context is cancelled. Consecutive failures retry with exponential
// backoff capped at the interval.
func (f *Feed) Run(ctx context.Context) error {
	if f.interval <= 0 {
		f.logger.Info("risk refresh disabled")
		<-ctx.Done()
		return nil
	}
	f.logger.Info("risk refresh started", "interval", f.interval)

	backoff := initialBackoff
	wait := f.interval
	for {
		if !f.sleep(ctx, wait) {
			f.logger.Info("risk refresh stopping", "reason", ctx.Err())
			return nil
		}

		f.mu.Lock()
		identity := f.identity
		f.mu.Unlock()
		if identity.IsZero() {
			wait = f.interval
			continue
		}

		if _, err := f.Fetch(ctx, identity); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			wait = min(backoff, f.interval)
			backoff = sharedretry.NextBackoff(backoff, f.interval)
			continue
		}
		backoff = initialBackoff
		wait = f.interval
	}
}

func (f *Feed) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := f.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
