package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/couchcryptid/firewatch-sync/internal/domain"
	"github.com/couchcryptid/firewatch-sync/internal/notify"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type mockEngine struct {
	mu       sync.Mutex
	begun    []domain.Identity
	finished []domain.Identity
	gate     chan struct{}
	err      error
}

func (e *mockEngine) BeginResync(id domain.Identity) (func(context.Context) error, error) {
	if id.IsZero() {
		return nil, domain.ErrNoIdentity
	}
	e.mu.Lock()
	e.begun = append(e.begun, id)
	e.mu.Unlock()
	return func(ctx context.Context) error {
		if e.gate != nil {
			select {
			case <-e.gate:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		e.finished = append(e.finished, id)
		return e.err
	}, nil
}

type mockFeed struct {
	mu        sync.Mutex
	activated []domain.Identity
	fetched   []domain.Identity
	err       error
}

func (f *mockFeed) Activate(id domain.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activated = append(f.activated, id)
}

func (f *mockFeed) Fetch(_ context.Context, id domain.Identity) ([]domain.RiskPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, id)
	return nil, f.err
}

func newSession(t *testing.T, engine *mockEngine, feed *mockFeed) (*Session, *notify.Inbox) {
	t.Helper()
	inbox := notify.NewInbox(10)
	s := New(engine, feed, inbox, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(s.Close)
	return s, inbox
}

func TestActivate_FansOut(t *testing.T) {
	engine, feed := &mockEngine{}, &mockFeed{}
	s, inbox := newSession(t, engine, feed)

	require.NoError(t, s.Activate(context.Background(), "a@x.com"))
	s.Wait()

	assert.Equal(t, []domain.Identity{"a@x.com"}, engine.begun)
	assert.Equal(t, []domain.Identity{"a@x.com"}, engine.finished)
	assert.Equal(t, []domain.Identity{"a@x.com"}, feed.activated)
	assert.Equal(t, []domain.Identity{"a@x.com"}, feed.fetched)

	notes := inbox.List()
	require.Len(t, notes, 1)
	assert.Equal(t, domain.LevelInfo, notes[0].Level)
	assert.Equal(t, "signed in as a@x.com", notes[0].Message)
}

func TestActivate_SwitchHappensBeforeReturn(t *testing.T) {
	engine := &mockEngine{gate: make(chan struct{})}
	feed := &mockFeed{}
	s, _ := newSession(t, engine, feed)

	require.NoError(t, s.Activate(context.Background(), "a@x.com"))

	engine.mu.Lock()
	assert.Equal(t, []domain.Identity{"a@x.com"}, engine.begun)
	assert.Empty(t, engine.finished)
	engine.mu.Unlock()
	feed.mu.Lock()
	assert.Equal(t, []domain.Identity{"a@x.com"}, feed.activated)
	feed.mu.Unlock()

	close(engine.gate)
	s.Wait()
	assert.Equal(t, []domain.Identity{"a@x.com"}, engine.finished)
}

func TestActivate_FailuresDoNotBlockEachOther(t *testing.T) {
	engine := &mockEngine{err: errors.New("list failed")}
	feed := &mockFeed{err: errors.New("risk failed")}
	s, _ := newSession(t, engine, feed)

	require.NoError(t, s.Activate(context.Background(), "a@x.com"))
	s.Wait()

	assert.Len(t, engine.finished, 1)
	assert.Len(t, feed.fetched, 1)
}

func TestActivate_ZeroIdentity(t *testing.T) {
	engine, feed := &mockEngine{}, &mockFeed{}
	s, inbox := newSession(t, engine, feed)

	err := s.Activate(context.Background(), "")
	require.ErrorIs(t, err, domain.ErrNoIdentity)
	assert.Empty(t, feed.activated)
	assert.Empty(t, inbox.List())
}

func TestClose_CancelsBackgroundWork(t *testing.T) {
	engine := &mockEngine{gate: make(chan struct{})}
	s, _ := newSession(t, engine, &mockFeed{})

	require.NoError(t, s.Activate(context.Background(), "a@x.com"))
	s.Close()
	assert.Empty(t, engine.finished)
}
