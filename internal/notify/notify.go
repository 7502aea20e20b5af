// Package notify delivers user notifications: one structured log line each,
// a bounded inbox for the UI, and fan-out across sinks.
package notify

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/couchcryptid/firewatch-sync/internal/domain"
	"github.com/couchcryptid/firewatch-sync/internal/observability"
)

// Log writes each notification as a log line and counts it.
type Log struct {
	logger  *slog.Logger
	metrics *observability.Metrics
}

func NewLog(logger *slog.Logger, metrics *observability.Metrics) *Log {
	return &Log{logger: logger, metrics: metrics}
}

func (l *Log) Notify(ctx context.Context, n domain.Notification) {
	l.metrics.Notifications.WithLabelValues(string(n.Level), n.Kind).Inc()

	level := slog.LevelInfo
	if n.Level == domain.LevelError {
		level = slog.LevelError
	}
	l.logger.Log(ctx, level, "user notification",
		"operation", n.Operation,
		"kind", n.Kind,
		"identity", n.Identity,
		"message", n.Message,
	)
}

// Inbox keeps the most recent notifications, oldest first.
type Inbox struct {
	mu    sync.Mutex
	size  int
	items []domain.Notification
}

// NewInbox creates an inbox retaining at most size notifications.
func NewInbox(size int) *Inbox {
	if size < 1 {
		size = 1
	}
	return &Inbox{size: size}
}

func (b *Inbox) Notify(_ context.Context, n domain.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, n)
	if over := len(b.items) - b.size; over > 0 {
		b.items = slices.Delete(b.items, 0, over)
	}
}

// List returns a copy of the retained notifications.
func (b *Inbox) List() []domain.Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.items)
}

// Multi fans a notification out to every sink in order.
type Multi []domain.Notifier

func (m Multi) Notify(ctx context.Context, n domain.Notification) {
	for _, sink := range m {
		if sink != nil {
			sink.Notify(ctx, n)
		}
	}
}
