// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package resource

import (
	"cmp"
	"container/heap"
	"fmt"
	"slices"
	"time"

	"github.com/sirupsen/logrus"
)

// Budget limits how much work one PerFrameUpdate does. Zero fields are
// unlimited.
type Budget struct {
	MaxDuration time.Duration
	MaxLoads    int
}

// FrameStats describes what one PerFrameUpdate did.
type FrameStats struct {
	Events     int
	Loaded     int
	Dispatched int
	Dropped    int
	Unloaded   int
	Pending    int
}

// GCPolicy controls which unreferenced entities GarbageCollect reclaims.
type GCPolicy struct {
	// MinAge is how long an entity must have been unreferenced. It keeps
	// resources that are released and immediately requested again resident.
	MinAge time.Duration

	// MaxEntities caps reclamations per call, zero is unlimited.
	MaxEntities int
}

// PerFrameUpdate is the maintenance path. It delivers queued events,
// applies pending unloads and drains the load queue within budget.
// Thread-affine loads run here; the rest are handed to the workers.
// It must be called from one goroutine only.
func (r *Registry) PerFrameUpdate(budget Budget) FrameStats {
	var st FrameStats
	if r.isClosed() {
		return st
	}
	defer r.enterMaintenance()()
	start := time.Now()

	st.Events += r.events.flush()
	st.Unloaded = r.processUnloads()

	for budget.MaxLoads == 0 || st.Loaded+st.Dispatched < budget.MaxLoads {
		if budget.MaxDuration > 0 && time.Since(start) >= budget.MaxDuration {
			break
		}
		if r.workers > 0 && len(r.jobs) == cap(r.jobs) {
			break
		}
		rq := r.pop()
		if rq == nil {
			break
		}

		e := rq.entity
		b := e.base()
		if b.refs.Load() == 0 {
			b.cancelLoad()
			st.Dropped++
			continue
		}
		if !b.claim(false) {
			continue
		}
		if r.workers == 0 || mainThreadOnly(e) {
			r.runLoad(e)
			st.Loaded++
			continue
		}
		r.jobs <- e
		st.Dispatched++
	}

	st.Events += r.events.flush()
	st.Pending = r.pending()
	return st
}

func (r *Registry) pop() *request {
	r.qmu.Lock()
	defer r.qmu.Unlock()
	if r.queue.Len() == 0 {
		return nil
	}
	rq := heap.Pop(&r.queue).(*request)
	rq.entity.base().queued = nil
	return rq
}

func (r *Registry) pending() int {
	r.qmu.Lock()
	defer r.qmu.Unlock()
	return r.queue.Len()
}

func (r *Registry) processUnloads() int {
	r.qmu.Lock()
	unloads := r.unloads
	r.unloads = nil
	for _, ur := range unloads {
		ur.entity.base().unloadReq = nil
	}
	r.qmu.Unlock()

	done := 0
	for _, ur := range unloads {
		switch r.unloadEntity(ur.entity, ur.scope) {
		case unloadRun:
			done++
		case unloadRetry:
			r.requestUnload(ur.entity, ur.scope)
		}
	}
	return done
}

// unloadEntity runs UnloadData if nothing is loading or reading the
// entity. Destroyed observers run before the payload is released.
func (r *Registry) unloadEntity(e Entity, scope UnloadScope) unloadStep {
	b := e.base()
	step, prev := b.beginUnload(scope)
	if step != unloadRun {
		return step
	}

	if scope == UnloadAll && prev == Loaded {
		r.events.flush()
		r.events.deliver(Event{Type: EventDestroyed, ID: b.id, Kind: b.kind, Descriptor: b.Descriptor()})
	}
	d := safeUnload(e, scope)
	b.finishUnload(scope, d)
	if scope == UnloadDiscardable {
		r.events.post(Event{Type: EventContentChanged, ID: b.id, Kind: b.kind, Descriptor: b.Descriptor()})
	}
	return unloadRun
}

// GarbageCollect reclaims unreferenced entities that have been
// unreferenced for at least policy.MinAge, plus those pushed out of the
// retained set. It returns how many entities were reclaimed. Entities
// that are loading or acquired are left for a later call.
func (r *Registry) GarbageCollect(policy GCPolicy) int {
	defer r.enterMaintenance()()
	now := r.now()
	full := func(n int) bool {
		return policy.MaxEntities > 0 && n >= policy.MaxEntities
	}

	var victims []uint32
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0
	}

	var keep []slotRef
	for _, d := range r.doomed {
		s := r.slots[d.index]
		switch {
		case s.gen != d.gen || s.entity == nil || s.entity.base().refs.Load() != 0:
		case r.released.Contains(d.index):
		case full(len(victims)) || !s.entity.base().reclaimable():
			keep = append(keep, d)
		default:
			victims = append(victims, d.index)
		}
	}
	r.doomed = keep

	for _, index := range r.released.Keys() {
		if full(len(victims)) {
			break
		}
		gen, _ := r.released.Peek(index)
		s := r.slots[index]
		if s.gen != gen || s.entity == nil || s.entity.base().refs.Load() != 0 {
			r.released.Remove(index)
			continue
		}
		b := s.entity.base()
		if now.Sub(time.Unix(0, b.released.Load())) < policy.MinAge {
			break
		}
		if !b.reclaimable() {
			continue
		}
		r.released.Remove(index)
		victims = append(victims, index)
	}

	entities := make([]Entity, len(victims))
	for i, index := range victims {
		e := r.slots[index].entity
		e.base().kill()
		delete(r.byID, e.base().id)
		entities[i] = e
	}
	r.mu.Unlock()

	r.events.flush()
	for _, e := range entities {
		r.unloadEntity(e, UnloadAll)
	}

	r.mu.Lock()
	for _, index := range victims {
		r.freeLocked(index)
	}
	r.mu.Unlock()

	r.events.flush()
	return len(victims)
}

// Shutdown tears the registry down. Without force it refuses while any
// handle other than the registry's own fallbacks is alive. With force
// every entity is unloaded regardless. Call it from the maintenance
// goroutine.
func (r *Registry) Shutdown(force bool) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	owned := make(map[uint32]int32, len(r.fallbacks))
	for _, h := range r.fallbacks {
		owned[h.index]++
	}
	var live int32
	for index, s := range r.slots {
		if s.entity != nil {
			live += s.entity.base().refs.Load() - owned[uint32(index)]
		}
	}
	if live > 0 && !force {
		r.mu.Unlock()
		return fmt.Errorf("%w: %d references", ErrLiveHandles, live)
	}
	r.closed = true
	fallbacks := r.fallbacks
	r.fallbacks = make(map[fallbackKey]Handle)
	r.mu.Unlock()
	defer r.enterMaintenance()()

	close(r.stop)
	close(r.jobs)
	r.wg.Wait()

	for _, h := range fallbacks {
		h.Release()
	}
	if live > 0 {
		r.log.WithField("references", live).Warn("forcing unload of referenced resources")
	}

	r.events.flush()
	r.mu.Lock()
	entities := make([]Entity, 0, len(r.byID))
	for _, s := range r.slots {
		if s.entity != nil {
			s.entity.base().kill()
			entities = append(entities, s.entity)
		}
	}
	r.mu.Unlock()

	for _, e := range entities {
		if r.unloadEntity(e, UnloadAll) == unloadRetry {
			r.log.WithFields(logrus.Fields{
				"id":   e.base().id,
				"kind": e.base().kind,
			}).Error("resource is still acquired at shutdown")
		}
	}

	r.mu.Lock()
	for index, s := range r.slots {
		if s.entity != nil {
			r.freeLocked(uint32(index))
		}
	}
	r.byID = make(map[ID]uint32)
	r.released.Purge()
	r.doomed = nil
	r.mu.Unlock()

	r.events.flush()
	return nil
}

func (r *Registry) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *Registry) work() {
	defer r.wg.Done()
	for e := range r.jobs {
		r.runLoad(e)
	}
}

// EntryUsage is the memory footprint of one entity.
type EntryUsage struct {
	ID       ID
	Kind     string
	State    State
	RefCount int
	Usage    MemoryUsage
}

// MemoryReport is consumed by budgeting policies that decide what to
// discard or unload under memory pressure.
type MemoryReport struct {
	Total   MemoryUsage
	ByKind  map[string]MemoryUsage
	Entries []EntryUsage
}

// MemoryReport collects the footprint of every resident entity, largest first.
func (r *Registry) MemoryReport() MemoryReport {
	r.mu.RLock()
	entities := make([]Entity, 0, len(r.byID))
	for _, index := range r.byID {
		entities = append(entities, r.slots[index].entity)
	}
	r.mu.RUnlock()

	report := MemoryReport{ByKind: make(map[string]MemoryUsage)}
	for _, e := range entities {
		b := e.base()
		state := b.State()
		if state == Unloaded {
			continue
		}
		u := e.MemoryUsage()
		report.Entries = append(report.Entries, EntryUsage{
			ID:       b.id,
			Kind:     b.kind,
			State:    state,
			RefCount: int(b.refs.Load()),
			Usage:    u,
		})
		report.Total = report.Total.Add(u)
		report.ByKind[b.kind] = report.ByKind[b.kind].Add(u)
	}
	slices.SortFunc(report.Entries, func(a, b EntryUsage) int {
		switch {
		case a.Usage.Total() > b.Usage.Total():
			return -1
		case a.Usage.Total() < b.Usage.Total():
			return 1
		default:
			return cmp.Compare(a.ID, b.ID)
		}
	})
	return report
}
