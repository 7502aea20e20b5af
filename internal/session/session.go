// Package session fans an identity activation out to the region engine and
// the risk feed.
package session

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/firewatch-sync/internal/domain"
)

// Engine is the region side of an activation.
type Engine interface {
	BeginResync(identity domain.Identity) (func(context.Context) error, error)
}

// Feed is the risk side of an activation.
type Feed interface {
	Activate(identity domain.Identity)
	Fetch(ctx context.Context, identity domain.Identity) ([]domain.RiskPoint, error)
}

// Session implements identity.Activator.
type Session struct {
	engine   Engine
	feed     Feed
	notifier domain.Notifier
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(engine Engine, feed Feed, notifier domain.Notifier, logger *slog.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		engine:   engine,
		feed:     feed,
		notifier: notifier,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Activate switches both collaborators to identity before returning, then
// loads regions and risk points concurrently in the background. Remote
// failures are reported by the collaborators themselves.
func (s *Session) Activate(ctx context.Context, identity domain.Identity) error {
	finish, err := s.engine.BeginResync(identity)
	if err != nil {
		return err
	}
	s.feed.Activate(identity)
	domain.ReportInfo(ctx, s.notifier, "activate identity", identity, "signed in as "+identity.String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		var g errgroup.Group
		g.Go(func() error { return finish(s.ctx) })
		g.Go(func() error {
			_, err := s.feed.Fetch(s.ctx, identity)
			return err
		})
		if err := g.Wait(); err != nil {
			s.logger.Warn("activation incomplete", "identity", identity, "error", err)
			return
		}
		s.logger.Info("activation complete", "identity", identity)
	}()
	return nil
}

// Wait blocks until background activation work has finished.
func (s *Session) Wait() {
	s.wg.Wait()
}

// Close cancels background work and waits for it.
func (s *Session) Close() {
	s.cancel()
	s.wg.Wait()
}
