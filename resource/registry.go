// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package resource

import (
	"container/heap"
	"context"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// Default registry settings
const (
	DefaultWorkers       = 4
	DefaultQueueSize     = 64
	DefaultRetainedLimit = 1024
)

type slot struct {
	gen    uint32
	entity Entity
}

type slotRef struct {
	index uint32
	gen   uint32
}

// FallbackPurpose selects which fallback SetFallback registers.
type FallbackPurpose uint8

// Fallback purposes
const (
	// FallbackMissing replaces entities that failed to load.
	FallbackMissing FallbackPurpose = iota

	// FallbackLoading stands in while an entity is still streaming.
	// When none is set, the missing fallback is used instead.
	FallbackLoading
)

type fallbackKey struct {
	kind    string
	purpose FallbackPurpose
}

var registries atomic.Uint64

// Registry is the single authority mapping identifiers to live entities.
// It is an explicit object rather than a global so that subsystems and
// tests can run isolated registries side by side.
type Registry struct {
	serial    uint64
	log       logrus.FieldLogger
	source    Source
	now       func() time.Time
	workers   int
	queueSize int
	retained  int

	mu        sync.RWMutex
	slots     []slot
	free      []uint32
	byID      map[ID]uint32
	released  *lru.Cache[uint32, uint32]
	doomed    []slotRef
	fallbacks map[fallbackKey]Handle
	closed    bool

	qmu     sync.Mutex
	queue   requestQueue
	unloads []*unloadRequest
	seq     uint64

	jobs chan Entity
	wg   sync.WaitGroup
	stop chan struct{}

	maintainer atomic.Int64

	events bus
}

// NewRegistry creates a registry and starts its worker pool.
func NewRegistry(options ...RegistryOption) *Registry {
	r := &Registry{
		serial:    registries.Add(1),
		log:       logrus.StandardLogger(),
		now:       time.Now,
		workers:   DefaultWorkers,
		queueSize: DefaultQueueSize,
		retained:  DefaultRetainedLimit,
		byID:      make(map[ID]uint32),
		fallbacks: make(map[fallbackKey]Handle),
		stop:      make(chan struct{}),
	}
	for _, option := range options {
		option(r)
	}

	released, err := lru.New[uint32, uint32](r.retained)
	if err != nil {
		panic(err) // only fails for a non-positive size, which options rule out
	}
	r.released = released

	r.jobs = make(chan Entity, r.queueSize)
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.work()
	}
	return r
}

// serialNumber orders registries by creation, with nil first.
func (r *Registry) serialNumber() uint64 {
	if r == nil {
		return 0
	}
	return r.serial
}

// Load returns a handle to the entity named id, creating it Unloaded if
// it does not exist. Calls with the same identifier and kind always
// return handles to the same entity. Using an identifier that is alive
// as a different kind returns a *KindError.
func Load[T Entity](r *Registry, kind Kind[T], id string) (TypedHandle[T], error) {
	nid := NormalizeID(id)
	if nid == "" {
		return TypedHandle[T]{}, ErrEmptyID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return TypedHandle[T]{}, ErrClosed
	}

	if index, ok := r.byID[nid]; ok {
		s := r.slots[index]
		if _, ok := s.entity.(T); !ok || s.entity.base().kind != kind.Name {
			return TypedHandle[T]{}, &KindError{ID: nid, Want: kind.Name, Have: s.entity.base().kind}
		}
		r.retainLocked(index, s.entity)
		return TypedHandle[T]{h: Handle{reg: r, index: index, gen: s.gen}}, nil
	}

	e := kind.New(nid)
	index, gen := r.allocLocked(e)
	e.base().attach(r, nid, kind.Name, kind.Priority, index)
	e.base().refs.Store(1)
	r.byID[nid] = index
	return TypedHandle[T]{h: Handle{reg: r, index: index, gen: gen}}, nil
}

// MustLoad is like Load but panics on error.
func MustLoad[T Entity](r *Registry, kind Kind[T], id string) TypedHandle[T] {
	h, err := Load(r, kind, id)
	if err != nil {
		panic(err)
	}
	return h
}

// Existing returns a handle to the entity named id if it is alive and of
// the given kind, or an invalid handle. It never creates anything.
func Existing[T Entity](r *Registry, kind Kind[T], id string) TypedHandle[T] {
	nid := NormalizeID(id)

	r.mu.Lock()
	defer r.mu.Unlock()
	index, ok := r.byID[nid]
	if !ok || r.closed {
		return TypedHandle[T]{}
	}
	s := r.slots[index]
	if _, ok := s.entity.(T); !ok || s.entity.base().kind != kind.Name {
		return TypedHandle[T]{}
	}
	r.retainLocked(index, s.entity)
	return TypedHandle[T]{h: Handle{reg: r, index: index, gen: s.gen}}
}

// Decode turns a persisted identifier back into a live handle.
func Decode[T Entity](r *Registry, kind Kind[T], text []byte) (TypedHandle[T], error) {
	return Load(r, kind, string(text))
}

// Create loads or creates the entity named id and populates it from
// desc on the calling goroutine. An entity that is already Loaded is
// returned untouched.
func Create[T Entity](r *Registry, kind Kind[T], id string, desc any) (TypedHandle[T], error) {
	h, err := Load(r, kind, id)
	if err != nil {
		return h, err
	}
	e, _ := h.h.entity()
	creator, ok := e.(Creator)
	if !ok {
		h.Release()
		return TypedHandle[T]{}, fmt.Errorf("%w: %s", ErrNotCreator, kind.Name)
	}

	b := e.base()
	for {
		claimed, loaded := b.claimCreate()
		if loaded {
			return h, nil
		}
		if claimed {
			break
		}
		if err := b.wait(context.Background(), r.stop); err != nil {
			h.Release()
			return TypedHandle[T]{}, err
		}
		runtime.Gosched()
	}

	d := safeCreate(creator, desc)
	r.commitLoad(e, d)
	return h, nil
}

// SetFallback registers h as the fallback of a kind. The registry keeps
// its own reference until the fallback is replaced or the registry is
// shut down.
func SetFallback[T Entity](r *Registry, kind Kind[T], purpose FallbackPurpose, h TypedHandle[T]) {
	n := h.h.Clone()

	r.mu.Lock()
	key := fallbackKey{kind: kind.Name, purpose: purpose}
	old := r.fallbacks[key]
	r.fallbacks[key] = n
	r.mu.Unlock()

	old.Release()
}

func (r *Registry) fallback(kind string, purpose FallbackPurpose) (Entity, bool) {
	r.mu.RLock()
	h, ok := r.fallbacks[fallbackKey{kind: kind, purpose: purpose}]
	if !ok && purpose == FallbackLoading {
		h, ok = r.fallbacks[fallbackKey{kind: kind, purpose: FallbackMissing}]
	}
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return h.entity()
}

// Preload schedules the entity behind h to be loaded before deadline.
// Requests for the same entity are coalesced, keeping the earliest
// deadline. A zero deadline queues the load behind every deadline.
func (r *Registry) Preload(h Referencer, deadline time.Time) {
	e, ok := h.Untyped().entity()
	if !ok {
		return
	}
	r.schedule(e, deadline, e.base().priority)
}

// PreloadWithPriority is Preload with an explicit priority that
// overrides the kind's own. Higher runs first among equal deadlines.
func (r *Registry) PreloadWithPriority(h Referencer, deadline time.Time, priority int) {
	e, ok := h.Untyped().entity()
	if !ok {
		return
	}
	r.schedule(e, deadline, priority)
}

// Unload asks the maintenance path to unload the entity behind h. The
// handle stays valid and the entity can be loaded again.
func (r *Registry) Unload(h Referencer) {
	if e, ok := h.Untyped().entity(); ok {
		r.requestUnload(e, UnloadAll)
	}
}

// Discard asks the maintenance path to drop the discardable quality
// levels of the entity behind h.
func (r *Registry) Discard(h Referencer) {
	if e, ok := h.Untyped().entity(); ok {
		r.requestUnload(e, UnloadDiscardable)
	}
}

// Subscribe registers an observer for the events of every entity.
func (r *Registry) Subscribe(o Observer) Subscription {
	return r.events.subscribe("", o)
}

// SubscribeID registers an observer for the events of one identifier.
// The subscription outlives reclamation of the entity, so it also sees
// the events of a later entity with the same identifier.
func (r *Registry) SubscribeID(id string, o Observer) Subscription {
	return r.events.subscribe(NormalizeID(id), o)
}

// Unsubscribe removes an observer.
func (r *Registry) Unsubscribe(s Subscription) {
	r.events.unsubscribe(s)
}

// Len returns the number of live entity records, referenced or not.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *Registry) lookup(index, gen uint32) (Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(index) >= len(r.slots) {
		return nil, false
	}
	s := r.slots[index]
	if s.gen != gen || s.entity == nil {
		return nil, false
	}
	return s.entity, true
}

func (r *Registry) allocLocked(e Entity) (uint32, uint32) {
	if n := len(r.free); n > 0 {
		index := r.free[n-1]
		r.free = r.free[:n-1]
		r.slots[index].entity = e
		return index, r.slots[index].gen
	}
	r.slots = append(r.slots, slot{gen: 1, entity: e})
	return uint32(len(r.slots) - 1), 1
}

// freeLocked bumps the generation so that stale handles stop resolving.
func (r *Registry) freeLocked(index uint32) {
	r.slots[index].entity = nil
	r.slots[index].gen++
	r.free = append(r.free, index)
}

func (r *Registry) retainLocked(index uint32, e Entity) {
	if e.base().refs.Add(1) == 1 {
		r.released.Remove(index)
	}
}

func (r *Registry) release(index, gen uint32) {
	e, ok := r.lookup(index, gen)
	if !ok {
		if !r.isClosed() {
			assertf("release of stale handle %d.%d", index, gen)
		}
		return
	}
	switch n := e.base().refs.Add(-1); {
	case n < 0:
		assertf("reference count of %s dropped below zero", e.base().id)
	case n == 0:
		r.retire(index, gen)
	}
}

// retire files an unreferenced entity for reclamation.
func (r *Registry) retire(index, gen uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.slots[index]
	if s.gen != gen || s.entity == nil || s.entity.base().refs.Load() != 0 {
		return
	}
	s.entity.base().released.Store(r.now().UnixNano())
	if r.released.Len() >= r.retained {
		if oldest, oldGen, ok := r.released.RemoveOldest(); ok {
			r.doomed = append(r.doomed, slotRef{index: oldest, gen: oldGen})
		}
	}
	r.released.Add(index, gen)
}

func (r *Registry) schedule(e Entity, deadline time.Time, priority int) {
	b := e.base()
	if !b.requestLoad() {
		return
	}

	r.qmu.Lock()
	defer r.qmu.Unlock()
	if rq := b.queued; rq != nil {
		if rq.merge(deadline, priority) {
			heap.Fix(&r.queue, rq.index)
		}
		return
	}
	r.seq++
	rq := &request{
		entity:   e,
		deadline: deadline,
		priority: priority,
		seq:      r.seq,
	}
	b.queued = rq
	heap.Push(&r.queue, rq)
}

func (r *Registry) requestUnload(e Entity, scope UnloadScope) {
	b := e.base()
	r.qmu.Lock()
	defer r.qmu.Unlock()
	if ur := b.unloadReq; ur != nil {
		if scope == UnloadAll {
			ur.scope = UnloadAll
		}
		return
	}
	ur := &unloadRequest{entity: e, scope: scope}
	b.unloadReq = ur
	r.unloads = append(r.unloads, ur)
}

func (r *Registry) open(id ID) (io.ReadCloser, error) {
	if r.source == nil {
		return nil, ErrNoSource
	}
	return r.source.Open(id)
}

// runLoad streams an entity's payload in. The caller must have claimed it.
func (r *Registry) runLoad(e Entity) {
	var stream io.Reader
	rc, err := r.open(e.base().id)
	if err == nil && rc != nil {
		stream = rc
		defer rc.Close()
	}

	d := safeUpdate(e, stream)
	if d.State != Loaded && d.Err == nil {
		d.Err = err
	}
	r.commitLoad(e, d)
}

func (r *Registry) commitLoad(e Entity, d LoadDescriptor) {
	b := e.base()
	ev, kept := b.finishLoad(d)
	if d.State != Loaded {
		log := r.log.WithFields(logrus.Fields{
			"id":   b.id,
			"kind": b.kind,
		}).WithError(d.Err)
		if kept {
			log.Info("resource reload failed, keeping resident data")
		} else {
			log.Warn("resource is missing")
		}
	}
	r.events.post(Event{Type: ev, ID: b.id, Kind: b.kind, Descriptor: b.Descriptor()})
}

func safeUpdate(e Entity, stream io.Reader) (d LoadDescriptor) {
	defer func() {
		if p := recover(); p != nil {
			d = Missing(fmt.Errorf("panic while decoding: %v", p))
		}
	}()
	return e.UpdateContent(stream)
}

func safeCreate(c Creator, desc any) (d LoadDescriptor) {
	defer func() {
		if p := recover(); p != nil {
			d = Missing(fmt.Errorf("panic while creating: %v", p))
		}
	}()
	return c.CreateFromDescriptor(desc)
}

func safeUnload(e Entity, scope UnloadScope) (d LoadDescriptor) {
	defer func() {
		if p := recover(); p != nil {
			d = LoadDescriptor{State: Unloaded, Err: fmt.Errorf("panic while unloading: %v", p)}
		}
	}()
	return e.UnloadData(scope)
}
