// Package identity resolves and persists the active user identity.
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/couchcryptid/firewatch-sync/internal/domain"
	"github.com/couchcryptid/firewatch-sync/internal/observability"
)

// SlotStore persists named client-state slots.
type SlotStore interface {
	Get(ctx context.Context, name string) (string, bool, error)
	Put(ctx context.Context, name, value string) error
}

// Activator is told about every identity that becomes active.
type Activator interface {
	Activate(ctx context.Context, identity domain.Identity) error
}

// Resolver owns the active identity.
type Resolver struct {
	slots     SlotStore
	activator Activator
	metrics   *observability.Metrics
	logger    *slog.Logger

	// switchMu serializes persist, set and activate so the slot, the active
	// identity and the activator always agree on the last switch.
	switchMu sync.Mutex

	mu     sync.RWMutex
	active domain.Identity
}

func NewResolver(slots SlotStore, activator Activator, metrics *observability.Metrics, logger *slog.Logger) *Resolver {
	return &Resolver{
		slots:     slots,
		activator: activator,
		metrics:   metrics,
		logger:    logger,
	}
}

// Active returns the active identity, or the zero value before any activation.
func (r *Resolver) Active() domain.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Load activates the persisted identity, if any. An empty slot is not an error.
func (r *Resolver) Load(ctx context.Context) (domain.Identity, error) {
	raw, ok, err := r.slots.Get(ctx, domain.IdentitySlot)
	if err != nil {
		return "", fmt.Errorf("load identity: %w", err)
	}
	if !ok {
		r.logger.Info("no persisted identity")
		return "", nil
	}
	id, err := domain.NormalizeIdentity(raw)
	if err != nil {
		r.logger.Warn("ignoring invalid persisted identity", "error", err)
		return "", nil
	}

	r.switchMu.Lock()
	defer r.switchMu.Unlock()
	return id, r.activateLocked(ctx, id)
}

// Submit validates, persists and activates raw.
func (r *Resolver) Submit(ctx context.Context, raw string) (domain.Identity, error) {
	id, err := domain.NormalizeIdentity(raw)
	if err != nil {
		return "", err
	}

	r.switchMu.Lock()
	defer r.switchMu.Unlock()
	if err := r.slots.Put(ctx, domain.IdentitySlot, id.String()); err != nil {
		return "", fmt.Errorf("persist identity: %w", err)
	}
	return id, r.activateLocked(ctx, id)
}

// activateLocked runs with switchMu held.
func (r *Resolver) activateLocked(ctx context.Context, id domain.Identity) error {
	r.mu.Lock()
	r.active = id
	r.mu.Unlock()

	r.metrics.IdentityActivations.Inc()
	r.logger.Info("identity activated", "identity", id)
	if err := r.activator.Activate(ctx, id); err != nil {
		return fmt.Errorf("activate %s: %w", id, err)
	}
	return nil
}
