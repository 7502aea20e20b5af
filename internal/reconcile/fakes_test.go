package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"testing"

	"github.com/paulmach/orb"

	"github.com/couchcryptid/firewatch-sync/internal/adapter/layers"
	"github.com/couchcryptid/firewatch-sync/internal/domain"
	"github.com/couchcryptid/firewatch-sync/internal/observability"
)

type storeCall struct {
	Op       string
	ID       string
	Identity domain.Identity
}

// fakeStore is an in-memory region store with gates to hold calls open.
type fakeStore struct {
	mu      sync.Mutex
	regions map[domain.Identity][]domain.Region
	nextID  int
	calls   []storeCall

	listGates  map[domain.Identity]chan struct{}
	listErr    error
	started    chan struct{} // one signal per Create call, before commit
	committed  chan struct{} // one signal per successful commit
	commitGate chan struct{}
	replyGate  chan struct{}
	createErr  error
	updateGate chan struct{}
	updateErrs []error
	deleteGate chan struct{}
	deleteErrs map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		regions:    make(map[domain.Identity][]domain.Region),
		listGates:  make(map[domain.Identity]chan struct{}),
		started:    make(chan struct{}, 16),
		committed:  make(chan struct{}, 16),
		deleteErrs: make(map[string]error),
	}
}

func (s *fakeStore) seed(identity domain.Identity, ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, id := range ids {
		s.regions[identity] = append(s.regions[identity], domain.Region{
			ID:       id,
			Owner:    identity,
			Name:     "Region " + id,
			Geometry: square(float64(i)),
		})
	}
}

func (s *fakeStore) List(_ context.Context, identity domain.Identity) ([]domain.Region, error) {
	s.mu.Lock()
	s.calls = append(s.calls, storeCall{Op: "list", Identity: identity})
	gate := s.listGates[identity]
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]domain.Region, 0, len(s.regions[identity]))
	for _, r := range s.regions[identity] {
		r.Key = domain.RegionKey(r.ID)
		r.Status = domain.StatusConfirmed
		out = append(out, r.Clone())
	}
	return out, nil
}

func (s *fakeStore) Create(_ context.Context, identity domain.Identity, name string, g orb.Geometry) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, storeCall{Op: "create", Identity: identity})
	commitGate, createErr := s.commitGate, s.createErr
	s.mu.Unlock()

	s.started <- struct{}{}
	if commitGate != nil {
		<-commitGate
	}
	if createErr != nil {
		return "", createErr
	}

	s.mu.Lock()
	s.nextID++
	id := strconv.Itoa(100 + s.nextID)
	s.regions[identity] = append(s.regions[identity], domain.Region{ID: id, Owner: identity, Name: name, Geometry: orb.Clone(g)})
	replyGate := s.replyGate
	s.mu.Unlock()

	s.committed <- struct{}{}
	if replyGate != nil {
		<-replyGate
	}
	return id, nil
}

func (s *fakeStore) Update(_ context.Context, id string, identity domain.Identity, name string, g orb.Geometry) error {
	s.mu.Lock()
	s.calls = append(s.calls, storeCall{Op: "update", ID: id, Identity: identity})
	gate := s.updateGate
	var err error
	if len(s.updateErrs) > 0 {
		err = s.updateErrs[0]
		s.updateErrs = s.updateErrs[1:]
	}
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.regions[identity] {
		if r.ID == id {
			s.regions[identity][i].Name = name
			s.regions[identity][i].Geometry = orb.Clone(g)
		}
	}
	return nil
}

func (s *fakeStore) geometryOf(identity domain.Identity, id string) orb.Geometry {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.regions[identity] {
		if r.ID == id {
			return r.Geometry
		}
	}
	return nil
}

func (s *fakeStore) Delete(_ context.Context, id string, identity domain.Identity) error {
	s.mu.Lock()
	s.calls = append(s.calls, storeCall{Op: "delete", ID: id, Identity: identity})
	gate := s.deleteGate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.deleteErrs[id]; err != nil {
		return err
	}
	before := len(s.regions[identity])
	s.regions[identity] = slices.DeleteFunc(s.regions[identity], func(r domain.Region) bool { return r.ID == id })
	if len(s.regions[identity]) == before {
		return &domain.ServerError{Op: "delete region " + id, StatusCode: 404, Body: "not found"}
	}
	return nil
}

func (s *fakeStore) callsOf(op string) []storeCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storeCall
	for _, c := range s.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (s *fakeStore) opSequence() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.calls))
	for _, c := range s.calls {
		if c.Op != "list" {
			out = append(out, c.Op)
		}
	}
	return out
}

type recordingNotifier struct {
	mu    sync.Mutex
	items []domain.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n domain.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

func (r *recordingNotifier) errors() []domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Notification
	for _, n := range r.items {
		if n.Level == domain.LevelError {
			out = append(out, n)
		}
	}
	return out
}

type harness struct {
	store   *fakeStore
	table   *layers.Table
	notes   *recordingNotifier
	metrics *observability.Metrics
	engine  *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:   newFakeStore(),
		table:   layers.NewTable(layers.DefaultAssets("/static")),
		notes:   &recordingNotifier{},
		metrics: observability.NewMetricsForTesting(),
	}
	h.engine = NewEngine(h.store, h.table, h.notes, h.metrics, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(h.engine.Close)
	return h
}

func (h *harness) handle(t *testing.T, key domain.RegionKey) domain.RenderHandle {
	t.Helper()
	hd, ok := h.engine.Handle(key)
	if !ok {
		t.Fatalf("no handle for %s", key)
	}
	return hd
}

func ids(regions []domain.Region) []string {
	out := make([]string, len(regions))
	for i, r := range regions {
		out[i] = r.ID
	}
	return out
}

func square(offset float64) orb.Polygon {
	return orb.Polygon{{{offset, 0}, {offset + 1, 0}, {offset + 1, 1}, {offset, 1}, {offset, 0}}}
}

var errBoom = errors.New("boom")
