// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package resource

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
)

// Entity is the loadable unit. Every implementation embeds Base, which
// carries the state machine and bookkeeping the Registry relies on.
type Entity interface {
	// UpdateContent decodes the payload from stream. A nil stream, or
	// one that cannot be decoded, must produce LoadedResourceMissing
	// rather than an error. It is called once per load cycle.
	UpdateContent(stream io.Reader) LoadDescriptor

	// UnloadData releases the payload selected by scope, including any
	// handles the entity holds to other entities.
	UnloadData(scope UnloadScope) LoadDescriptor

	// MemoryUsage estimates the current footprint.
	MemoryUsage() MemoryUsage

	base() *Base
}

// Creator is implemented by entities that can be populated straight
// from an in-memory descriptor instead of a stream.
type Creator interface {
	CreateFromDescriptor(desc any) LoadDescriptor
}

// ThreadAffine is implemented by entities whose UpdateContent must run
// on the maintenance goroutine, typically because it touches a graphics
// context bound to that thread.
type ThreadAffine interface {
	MainThreadOnly() bool
}

// Source opens the payload stream for an identifier.
type Source interface {
	Open(id ID) (io.ReadCloser, error)
}

// SourceFunc adapts a function to a Source.
type SourceFunc func(id ID) (io.ReadCloser, error)

// Open implements Source
func (f SourceFunc) Open(id ID) (io.ReadCloser, error) {
	return f(id)
}

func mainThreadOnly(e Entity) bool {
	if ta, ok := e.(ThreadAffine); ok {
		return ta.MainThreadOnly()
	}
	return false
}

// Base holds the identity, reference count and load state of an entity.
// It is meant to be embedded; the zero value is ready to use and is
// attached to a Registry when the entity is first referenced.
type Base struct {
	reg      *Registry
	id       ID
	kind     string
	priority int
	index    uint32

	refs     atomic.Int32
	released atomic.Int64

	mu      sync.Mutex
	state   State
	desc    LoadDescriptor
	done    chan struct{}
	busy    bool
	pins    int
	created bool
	dead    bool

	// guarded by the registry's queue lock
	queued    *request
	unloadReq *unloadRequest
}

func (b *Base) base() *Base { return b }

// ID returns the identifier the entity was created with.
func (b *Base) ID() ID {
	return b.id
}

// Kind returns the name of the kind the entity was created as.
func (b *Base) Kind() string {
	return b.kind
}

// Registry returns the registry that owns the entity. Entities use it
// to take handles to the resources they depend on.
func (b *Base) Registry() *Registry {
	return b.reg
}

// State returns the current coarse load state.
func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Descriptor returns the descriptor of the last load or unload.
func (b *Base) Descriptor() LoadDescriptor {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.desc
	d.State = b.state
	return d
}

func (b *Base) attach(r *Registry, id ID, kind string, priority int, index uint32) {
	b.reg = r
	b.id = id
	b.kind = kind
	b.priority = priority
	b.index = index
}

// requestLoad moves an Unloaded entity to Loading and reports whether
// it is worth queueing.
func (b *Base) requestLoad() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dead {
		return false
	}
	switch b.state {
	case Unloaded:
		b.state = Loading
		b.done = make(chan struct{})
		return true
	case Loading:
		return !b.busy
	case Loaded:
		return !b.busy && !b.desc.Complete()
	default:
		return false
	}
}

// claim marks the entity busy so that the caller can run UpdateContent.
// Queued requests pass fromUnloaded=false, so that an entity unloaded
// after it was queued is not loaded again behind the caller's back.
func (b *Base) claim(fromUnloaded bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.busy || b.dead {
		return false
	}
	switch b.state {
	case Unloaded:
		if !fromUnloaded {
			return false
		}
		b.state = Loading
		b.done = make(chan struct{})
	case Loaded:
		if b.desc.Complete() {
			return false
		}
	case LoadedResourceMissing:
		return false
	}
	b.busy = true
	return true
}

// claimCreate is claim for CreateFromDescriptor, which may also replace
// the placeholder of a missing resource.
func (b *Base) claimCreate() (claimed bool, loaded bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dead {
		return false, false
	}
	if b.state == Loaded {
		return false, true
	}
	if b.busy {
		return false, false
	}
	if b.state != Loading {
		b.state = Loading
		b.done = make(chan struct{})
	}
	b.busy = true
	return true, false
}

// finishLoad commits the result of UpdateContent and wakes waiters.
// kept reports a failed reload that left the resident data in place.
func (b *Base) finishLoad(desc LoadDescriptor) (ev EventType, kept bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if desc.State != Loaded {
		desc.State = LoadedResourceMissing
		if b.state == Loaded {
			b.busy = false
			return eventNone, true
		}
	}
	b.state = desc.State
	b.desc = desc
	b.busy = false
	if b.done != nil {
		close(b.done)
		b.done = nil
	}
	if desc.State == LoadedResourceMissing {
		return eventNone, false
	}
	if !b.created {
		b.created = true
		return EventCreated, false
	}
	return EventContentChanged, false
}

// cancelLoad drops a queued load that never started.
func (b *Base) cancelLoad() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Loading || b.busy {
		return
	}
	b.state = Unloaded
	if b.done != nil {
		close(b.done)
		b.done = nil
	}
}

// unloadStep is what beginUnload decided.
type unloadStep uint8

const (
	unloadRetry unloadStep = iota
	unloadNoop
	unloadRun
)

// beginUnload decides whether an unload can run now. It also returns
// the state the entity was in.
func (b *Base) beginUnload(scope UnloadScope) (unloadStep, State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev := b.state
	if b.busy || b.pins > 0 {
		return unloadRetry, prev
	}
	switch scope {
	case UnloadDiscardable:
		if b.state != Loaded {
			return unloadNoop, prev
		}
	default:
		switch b.state {
		case Unloaded:
			return unloadNoop, prev
		case Loading:
			b.state = Unloaded
			if b.done != nil {
				close(b.done)
				b.done = nil
			}
			return unloadNoop, prev
		}
	}
	b.busy = true
	return unloadRun, prev
}

func (b *Base) finishUnload(scope UnloadScope, desc LoadDescriptor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if scope == UnloadAll {
		desc.State = Unloaded
		desc.QualityLevelsLoaded = 0
		b.created = false
	} else if desc.State != Loaded {
		desc.State = Loaded
	}
	b.state = desc.State
	b.desc = desc
	b.busy = false
}

func (b *Base) kill() {
	b.mu.Lock()
	b.dead = true
	b.mu.Unlock()
}

func (b *Base) isDead() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dead
}

func (b *Base) reclaimable() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.busy && b.pins == 0
}

func (b *Base) pin() {
	b.mu.Lock()
	b.pins++
	b.mu.Unlock()
}

func (b *Base) unpin() {
	b.mu.Lock()
	b.pins--
	b.mu.Unlock()
}

// wait blocks until the entity leaves the Loading state or stop is closed.
func (b *Base) wait(ctx context.Context, stop <-chan struct{}) error {
	for {
		b.mu.Lock()
		if b.state != Loading {
			b.mu.Unlock()
			return nil
		}
		ch := b.done
		b.mu.Unlock()

		if ch == nil {
			return nil
		}
		select {
		case <-ch:
		case <-stop:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
