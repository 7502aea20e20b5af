// Package reconcile keeps the locally held region set consistent with the
// remote per-identity region store.
//
// Local mutations apply synchronously when a user action is accepted; the
// matching store call runs in the background on a per-region FIFO queue.
// Every background call carries the identity active when it was accepted, and
// its response is dropped if the identity has changed since. Failed calls run
// a compensating inverse so local state reconverges with the store.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/paulmach/orb"

	"github.com/couchcryptid/firewatch-sync/internal/domain"
	"github.com/couchcryptid/firewatch-sync/internal/observability"
)

// RegionStore is the remote region service.
type RegionStore interface {
	List(ctx context.Context, identity domain.Identity) ([]domain.Region, error)
	Create(ctx context.Context, identity domain.Identity, name string, g orb.Geometry) (string, error)
	Update(ctx context.Context, id string, identity domain.Identity, name string, g orb.Geometry) error
	Delete(ctx context.Context, id string, identity domain.Identity) error
}

// Renderer draws region layers. It allocates a handle when given an empty one.
type Renderer interface {
	AddRegion(r domain.Region, handle domain.RenderHandle) domain.RenderHandle
	UpdateRegion(handle domain.RenderHandle, r domain.Region)
	RemoveRegion(handle domain.RenderHandle)
}

// Created reports where an accepted region lives locally.
type Created struct {
	Key    domain.RegionKey    `json:"key"`
	Handle domain.RenderHandle `json:"handle"`
}

// entry is one locally held region. Background jobs keep a pointer to their
// entry; an entry is held while regions[entry.region.Key] == entry.
type entry struct {
	region domain.Region
	handle domain.RenderHandle
	qkey   domain.RegionKey // stable across pending -> confirmed
	remote orb.Geometry     // last geometry the store acknowledged
	queued int              // updates accepted before the store assigned an id

	// deleted marks a user delete; a pending create completing afterwards
	// must not be confirmed.
	deleted bool
}

// Engine owns the local region mapping and the key <-> render handle table.
type Engine struct {
	store    RegionStore
	renderer Renderer
	notifier domain.Notifier
	metrics  *observability.Metrics
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	identity domain.Identity
	regions  map[domain.RegionKey]*entry
	handles  map[domain.RenderHandle]domain.RegionKey

	// Only the latest resync generation applies its list result.
	resyncGen  uint64
	resyncing  bool
	deletedIDs map[string]struct{} // ids deleted since the in-flight resync began
	lastResync error

	// Remote work not yet acknowledged, by store id. A resync filters deletes
	// out of its list and lays pending edits over the listed geometry.
	deleting map[string]struct{}
	edits    map[string]*pendingEdit

	qmu    sync.Mutex
	queues map[domain.RegionKey][]func(context.Context)
}

// pendingEdit is the newest accepted geometry of a region with n updates
// still queued or in flight.
type pendingEdit struct {
	geometry orb.Geometry
	n        int
}

// NewEngine creates an engine with no active identity.
func NewEngine(store RegionStore, renderer Renderer, notifier domain.Notifier, metrics *observability.Metrics, logger *slog.Logger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:    store,
		renderer: renderer,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		regions:  make(map[domain.RegionKey]*entry),
		handles:  make(map[domain.RenderHandle]domain.RegionKey),
		deleting: make(map[string]struct{}),
		edits:    make(map[string]*pendingEdit),
		queues:   make(map[domain.RegionKey][]func(context.Context)),
	}
}

// Identity returns the identity whose regions are held.
func (e *Engine) Identity() domain.Identity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.identity
}

// Regions returns a snapshot of the local set sorted by key.
func (e *Engine) Regions() []domain.Region {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]domain.Region, 0, len(e.regions))
	for _, ent := range e.regions {
		out = append(out, ent.region.Clone())
	}
	slices.SortFunc(out, func(a, b domain.Region) int {
		return strings.Compare(string(a.Key), string(b.Key))
	})
	return out
}

// Handle returns the render handle bound to key.
func (e *Engine) Handle(key domain.RegionKey) (domain.RenderHandle, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.regions[key]
	if !ok {
		return "", false
	}
	return ent.handle, true
}

// Lookup returns the region bound to handle.
func (e *Engine) Lookup(handle domain.RenderHandle) (domain.Region, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.lookupLocked(handle)
	if !ok {
		return domain.Region{}, false
	}
	return ent.region.Clone(), true
}

// Wait blocks until all background store calls have completed.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Close cancels in-flight store calls and waits for background work.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

// --- resync ---

// Resync switches to identity, clears the local set and its layers, and
// replaces it with the store's list. It returns once the list is applied.
func (e *Engine) Resync(ctx context.Context, identity domain.Identity) error {
	gen, err := e.beginResync(identity)
	if err != nil {
		return err
	}
	return e.finishResync(ctx, gen, identity)
}

// BeginResync performs the identity switch and clear, and returns the list
// step for the caller to run. A newer resync makes the step a no-op.
func (e *Engine) BeginResync(identity domain.Identity) (func(context.Context) error, error) {
	gen, err := e.beginResync(identity)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		return e.finishResync(ctx, gen, identity)
	}, nil
}

// ResyncAsync is Resync with the store call in the background. The identity
// switch and clear happen before it returns.
func (e *Engine) ResyncAsync(identity domain.Identity) error {
	gen, err := e.beginResync(identity)
	if err != nil {
		return err
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		_ = e.finishResync(e.ctx, gen, identity)
	}()
	return nil
}

func (e *Engine) beginResync(identity domain.Identity) (uint64, error) {
	if identity.IsZero() {
		return 0, domain.ErrNoIdentity
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.identity != identity {
		e.logger.Info("identity switched", "from", e.identity, "to", identity)
	}
	e.identity = identity
	e.resyncGen++
	e.resyncing = true
	e.deletedIDs = maps.Clone(e.deleting)

	for key, ent := range e.regions {
		e.renderer.RemoveRegion(ent.handle)
		delete(e.regions, key)
	}
	clear(e.handles)
	e.metrics.LocalRegions.Set(0)
	return e.resyncGen, nil
}

func (e *Engine) finishResync(ctx context.Context, gen uint64, identity domain.Identity) error {
	listed, err := e.store.List(ctx, identity)

	e.mu.Lock()
	defer e.mu.Unlock()

	if gen != e.resyncGen {
		e.metrics.StaleResponses.Inc()
		e.metrics.RegionOps.WithLabelValues("resync", "discarded").Inc()
		e.logger.Debug("superseded resync discarded", "identity", identity)
		return nil
	}
	e.resyncing = false
	deleted := e.deletedIDs
	e.deletedIDs = nil
	e.lastResync = err

	if err != nil {
		e.metrics.RegionOps.WithLabelValues("resync", "error").Inc()
		e.logger.Error("resync failed", "identity", identity, "error", err)
		domain.ReportError(ctx, e.notifier, "resync regions", identity, err)
		return fmt.Errorf("resync %s: %w", identity, err)
	}

	added := 0
	for _, r := range listed {
		if r.ID == "" || r.Owner != identity {
			continue
		}
		if _, gone := deleted[r.ID]; gone {
			continue
		}
		if _, gone := e.deleting[r.ID]; gone {
			continue
		}
		if _, ok := e.regions[domain.RegionKey(r.ID)]; ok {
			continue
		}
		e.rebindLocked(r)
		added++
	}

	e.metrics.RegionOps.WithLabelValues("resync", "success").Inc()
	e.metrics.LocalRegions.Set(float64(len(e.regions)))
	e.logger.Info("resync complete", "identity", identity, "regions", added)
	return nil
}

// LastResyncError returns the error of the most recently applied resync.
func (e *Engine) LastResyncError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastResync
}

// insertConfirmedLocked binds a confirmed region to a fresh handle.
func (e *Engine) insertConfirmedLocked(r domain.Region) *entry {
	key := domain.RegionKey(r.ID)
	r.Key = key
	r.Status = domain.StatusConfirmed
	r = r.Clone()
	ent := &entry{
		region: r,
		qkey:   key,
		remote: r.Geometry,
	}
	ent.handle = e.renderer.AddRegion(r, "")
	e.regions[key] = ent
	e.handles[ent.handle] = key
	return ent
}

// rebindLocked inserts a listed region, keeping any edit the store has not
// acknowledged yet on screen.
func (e *Engine) rebindLocked(r domain.Region) {
	ent := e.insertConfirmedLocked(r)
	if pe, ok := e.edits[r.ID]; ok {
		ent.region.Geometry = orb.Clone(pe.geometry)
		e.renderer.UpdateRegion(ent.handle, ent.region)
	}
}

// --- create ---

// OnCreate inserts a pending region and returns without waiting for the store.
// When draft.Handle is set the existing layer is adopted.
func (e *Engine) OnCreate(draft domain.Draft) (Created, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.createLocked(draft)
}

// OnUpload parses a GeoJSON document and creates one region per polygon.
// Malformed content changes nothing.
func (e *Engine) OnUpload(text string) ([]Created, error) {
	drafts, err := domain.ParseUpload(text)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.identity.IsZero() {
		return nil, domain.ErrNoIdentity
	}

	out := make([]Created, 0, len(drafts))
	for _, d := range drafts {
		c, err := e.createLocked(d)
		if err != nil {
			return out, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (e *Engine) createLocked(draft domain.Draft) (Created, error) {
	if e.identity.IsZero() {
		return Created{}, domain.ErrNoIdentity
	}
	if err := domain.ValidateGeometry(draft.Geometry); err != nil {
		return Created{}, err
	}
	if draft.Handle != "" {
		if _, taken := e.handles[draft.Handle]; taken {
			return Created{}, &domain.ValidationError{Field: "handle", Reason: "already bound to a region"}
		}
	}

	name := strings.TrimSpace(draft.Name)
	if name == "" {
		name = domain.DefaultRegionName
	}

	key := domain.NewPendingKey()
	ent := &entry{
		region: domain.Region{
			Key:      key,
			Owner:    e.identity,
			Name:     name,
			Geometry: orb.Clone(draft.Geometry),
			Status:   domain.StatusPending,
		},
		qkey: key,
	}
	ent.handle = e.renderer.AddRegion(ent.region, draft.Handle)
	e.regions[key] = ent
	e.handles[ent.handle] = key
	e.metrics.LocalRegions.Set(float64(len(e.regions)))

	identity := e.identity
	geometry := orb.Clone(draft.Geometry)
	e.enqueue(ent.qkey, func(ctx context.Context) {
		e.runCreate(ctx, ent, identity, name, geometry)
	})

	e.logger.Debug("region created locally", "key", key, "handle", ent.handle)
	return Created{Key: key, Handle: ent.handle}, nil
}

func (e *Engine) runCreate(ctx context.Context, ent *entry, identity domain.Identity, name string, g orb.Geometry) {
	id, err := e.store.Create(ctx, identity, name, g)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err == nil {
		// Queued jobs for this entry read the id even if the entry is gone.
		ent.region.ID = id
		ent.remote = g
		if ent.queued > 0 {
			e.edits[id] = &pendingEdit{geometry: orb.Clone(ent.region.Geometry), n: ent.queued}
			ent.queued = 0
		}
		if ent.deleted {
			e.deleting[id] = struct{}{}
			if e.resyncing {
				e.deletedIDs[id] = struct{}{}
			}
		}
	}

	if e.identity != identity {
		e.discardLocked("create")
		return
	}

	if err != nil {
		if e.heldLocked(ent) {
			e.removeLocked(ent)
			e.metrics.RegionOps.WithLabelValues("create", "compensated").Inc()
		} else {
			e.metrics.RegionOps.WithLabelValues("create", "error").Inc()
		}
		domain.ReportError(ctx, e.notifier, "create region", identity, err)
		return
	}

	e.metrics.RegionOps.WithLabelValues("create", "success").Inc()
	confirmedKey := domain.RegionKey(id)

	switch {
	case ent.deleted:
		// The queued delete removes it from the store.
	case e.heldLocked(ent):
		if dup, ok := e.regions[confirmedKey]; ok {
			// A resync listed it first.
			if ent.region.Geometry != nil {
				dup.region.Geometry = orb.Clone(ent.region.Geometry)
				e.renderer.UpdateRegion(dup.handle, dup.region)
			}
			e.removeLocked(ent)
			break
		}
		delete(e.regions, ent.region.Key)
		ent.region.Key = confirmedKey
		ent.region.Status = domain.StatusConfirmed
		e.regions[confirmedKey] = ent
		e.handles[ent.handle] = confirmedKey
		e.renderer.UpdateRegion(ent.handle, ent.region)
	default:
		// Dropped by a resync that did not see the id yet.
		_, present := e.regions[confirmedKey]
		_, gone := e.deletedIDs[id]
		if !present && !gone {
			e.rebindLocked(domain.Region{
				ID:       id,
				Owner:    identity,
				Name:     name,
				Geometry: g,
			})
		}
	}
	e.metrics.LocalRegions.Set(float64(len(e.regions)))
}

// --- edit ---

// OnEdit replaces the geometry of the region at handle and queues the update.
// If the update fails and no later edit was accepted, the geometry last
// acknowledged by the store is restored.
func (e *Engine) OnEdit(handle domain.RenderHandle, g orb.Geometry) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.identity.IsZero() {
		return domain.ErrNoIdentity
	}
	ent, ok := e.lookupLocked(handle)
	if !ok {
		return fmt.Errorf("edit %s: %w", handle, domain.ErrUnknownRegion)
	}
	if err := domain.ValidateGeometry(g); err != nil {
		return err
	}

	ent.region.Geometry = orb.Clone(g)
	e.renderer.UpdateRegion(ent.handle, ent.region)
	if id := ent.region.ID; id != "" {
		pe, ok := e.edits[id]
		if !ok {
			pe = &pendingEdit{}
			e.edits[id] = pe
		}
		pe.geometry = orb.Clone(g)
		pe.n++
	} else {
		ent.queued++
	}

	identity := e.identity
	name := ent.region.Name
	geometry := orb.Clone(g)
	e.enqueue(ent.qkey, func(ctx context.Context) {
		e.runUpdate(ctx, ent, identity, name, geometry)
	})
	return nil
}

func (e *Engine) runUpdate(ctx context.Context, ent *entry, identity domain.Identity, name string, g orb.Geometry) {
	e.mu.Lock()
	id := ent.region.ID
	e.mu.Unlock()
	if id == "" {
		// Create failed; its inverse already removed the region.
		return
	}

	err := e.store.Update(ctx, id, identity, name, g)

	e.mu.Lock()
	defer e.mu.Unlock()

	last := e.settleEditLocked(id)
	cur, held := e.boundLocked(ent, id)
	if err == nil {
		ent.remote = g
		if held {
			cur.remote = g
		}
	}
	if e.identity != identity {
		e.discardLocked("update")
		return
	}
	if err == nil {
		e.metrics.RegionOps.WithLabelValues("update", "success").Inc()
		return
	}

	// A later accepted edit wins over this inverse.
	if held && last && cur.remote != nil {
		cur.region.Geometry = orb.Clone(cur.remote)
		e.renderer.UpdateRegion(cur.handle, cur.region)
		e.metrics.RegionOps.WithLabelValues("update", "compensated").Inc()
	} else {
		e.metrics.RegionOps.WithLabelValues("update", "error").Inc()
	}
	domain.ReportError(ctx, e.notifier, "update region", identity, err)
}

// --- delete ---

// OnDelete removes every distinct region referenced by handles and issues one
// store delete per region. Handles that do not resolve are skipped; a batch
// where none resolve is ErrUnknownRegion. Failures across the batch are
// reported once, and the regions whose delete failed are restored.
func (e *Engine) OnDelete(handles []domain.RenderHandle) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.identity.IsZero() {
		return domain.ErrNoIdentity
	}

	var batch []*entry
	seen := make(map[*entry]struct{}, len(handles))
	for _, h := range handles {
		ent, ok := e.lookupLocked(h)
		if !ok {
			e.logger.Warn("delete references unknown handle", "handle", h)
			continue
		}
		if _, dup := seen[ent]; dup {
			continue
		}
		seen[ent] = struct{}{}
		batch = append(batch, ent)
	}
	if len(batch) == 0 {
		return fmt.Errorf("delete: %w", domain.ErrUnknownRegion)
	}

	identity := e.identity
	results := make([]chan error, len(batch))
	for i, ent := range batch {
		e.removeLocked(ent)
		ent.deleted = true
		ent.region.Status = domain.StatusDeleting
		if id := ent.region.ID; id != "" {
			e.deleting[id] = struct{}{}
			if e.resyncing {
				e.deletedIDs[id] = struct{}{}
			}
		}

		done := make(chan error, 1)
		results[i] = done
		e.enqueue(ent.qkey, func(ctx context.Context) {
			done <- e.runDelete(ctx, ent, identity)
		})
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.awaitDeletes(batch, results, identity)
	}()
	return nil
}

func (e *Engine) runDelete(ctx context.Context, ent *entry, identity domain.Identity) error {
	e.mu.Lock()
	id := ent.region.ID
	e.mu.Unlock()
	if id == "" {
		// The create never reached the store.
		return nil
	}
	return e.store.Delete(ctx, id, identity)
}

func (e *Engine) awaitDeletes(batch []*entry, results []chan error, identity domain.Identity) {
	errs := make([]error, len(batch))
	for i, ch := range results {
		errs[i] = <-ch
	}
	joined := errors.Join(errs...)

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, ent := range batch {
		delete(e.deleting, ent.region.ID)
	}
	if e.identity != identity {
		e.discardLocked("delete")
		return
	}
	if joined == nil {
		e.metrics.RegionOps.WithLabelValues("delete", "success").Add(float64(len(batch)))
		return
	}

	for i, ent := range batch {
		if errs[i] == nil {
			continue
		}
		e.metrics.RegionOps.WithLabelValues("delete", "compensated").Inc()
		if ent.region.ID == "" {
			continue
		}
		if _, present := e.regions[domain.RegionKey(ent.region.ID)]; present {
			continue
		}
		if e.deletedIDs != nil {
			delete(e.deletedIDs, ent.region.ID)
		}
		restored := ent.region
		if ent.remote != nil {
			restored.Geometry = ent.remote
		}
		e.insertConfirmedLocked(restored)
	}
	e.metrics.LocalRegions.Set(float64(len(e.regions)))
	domain.ReportError(e.ctx, e.notifier, "delete regions", identity, joined)
}

// --- helpers (callers hold e.mu) ---

func (e *Engine) lookupLocked(handle domain.RenderHandle) (*entry, bool) {
	key, ok := e.handles[handle]
	if !ok {
		return nil, false
	}
	ent, ok := e.regions[key]
	return ent, ok
}

// boundLocked returns the entry currently holding id: ent itself, or the
// entry a resync bound to the same id.
func (e *Engine) boundLocked(ent *entry, id string) (*entry, bool) {
	if e.heldLocked(ent) {
		return ent, true
	}
	cur, ok := e.regions[domain.RegionKey(id)]
	return cur, ok
}

// settleEditLocked retires one update of id and reports whether it was the
// last one outstanding.
func (e *Engine) settleEditLocked(id string) bool {
	pe, ok := e.edits[id]
	if !ok {
		return true
	}
	pe.n--
	if pe.n > 0 {
		return false
	}
	delete(e.edits, id)
	return true
}

func (e *Engine) heldLocked(ent *entry) bool {
	cur, ok := e.regions[ent.region.Key]
	return ok && cur == ent
}

func (e *Engine) removeLocked(ent *entry) {
	delete(e.regions, ent.region.Key)
	delete(e.handles, ent.handle)
	e.renderer.RemoveRegion(ent.handle)
	e.metrics.LocalRegions.Set(float64(len(e.regions)))
}

func (e *Engine) discardLocked(op string) {
	e.metrics.StaleResponses.Inc()
	e.metrics.RegionOps.WithLabelValues(op, "discarded").Inc()
	e.logger.Debug("stale response discarded", "op", op, "identity", e.identity)
}

// --- per-region queue ---

// enqueue appends job to the FIFO of qkey, starting a drainer if idle. Jobs
// for one region run in acceptance order; different regions run concurrently.
func (e *Engine) enqueue(qkey domain.RegionKey, job func(context.Context)) {
	e.qmu.Lock()
	defer e.qmu.Unlock()

	pending, running := e.queues[qkey]
	e.queues[qkey] = append(pending, job)
	if running {
		return
	}
	e.wg.Add(1)
	go e.drain(qkey)
}

func (e *Engine) drain(qkey domain.RegionKey) {
	defer e.wg.Done()
	for {
		e.qmu.Lock()
		jobs := e.queues[qkey]
		if len(jobs) == 0 {
			delete(e.queues, qkey)
			e.qmu.Unlock()
			return
		}
		job := jobs[0]
		e.queues[qkey] = jobs[1:]
		e.qmu.Unlock()

		job(e.ctx)
	}
}
