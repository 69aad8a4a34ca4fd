// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package resource

import (
	"context"
	"fmt"
)

// Mode is the policy an acquire Scope resolves a handle with.
type Mode uint8

// Acquire modes
const (
	// BlockTillLoaded waits for the entity to finish loading and returns
	// it whether it loaded or went missing.
	BlockTillLoaded Mode = iota

	// BlockTillLoadedNeverFail is BlockTillLoaded, but a missing entity
	// is replaced by the kind's missing fallback.
	BlockTillLoadedNeverFail

	// AllowLoadingFallback never blocks. Until the entity is loaded the
	// kind's fallback is returned and the entity is scheduled.
	AllowLoadingFallback

	// NoFallback never blocks and returns nothing unless the entity is loaded.
	NoFallback

	// NoFallbackAllowMissing is NoFallback that also returns missing entities.
	NoFallbackAllowMissing

	// PointerOnly returns the entity in whatever state it is in, for
	// identity and metadata queries that do not touch the payload.
	PointerOnly
)

func (m Mode) String() string {
	switch m {
	case BlockTillLoaded:
		return "block-till-loaded"
	case BlockTillLoadedNeverFail:
		return "block-till-loaded-never-fail"
	case AllowLoadingFallback:
		return "allow-loading-fallback"
	case NoFallback:
		return "no-fallback"
	case NoFallbackAllowMissing:
		return "no-fallback-allow-missing"
	case PointerOnly:
		return "pointer-only"
	default:
		return "unknown"
	}
}

func (m Mode) blocking() bool {
	return m == BlockTillLoaded || m == BlockTillLoadedNeverFail
}

// Scope gives access to an entity until Close. The entity cannot be
// unloaded while a scope on it is open, but the scope holds no
// reference: the caller's handle keeps the entity alive.
type Scope[T Entity] struct {
	ptr      T
	pinned   *Base
	fallback bool
	err      error
}

// Acquire opens a scope on h with the given mode.
func Acquire[T Entity](h TypedHandle[T], mode Mode) Scope[T] {
	return AcquireContext(context.Background(), h, mode)
}

// AcquireContext is Acquire whose blocking modes give up when ctx is done.
func AcquireContext[T Entity](ctx context.Context, h TypedHandle[T], mode Mode) Scope[T] {
	e, ok := h.h.entity()
	if !ok || e.base().refs.Load() == 0 {
		if mode.blocking() {
			assertf("%s of invalid handle %s", mode, h)
		}
		return Scope[T]{err: ErrInvalidHandle}
	}
	r, b := h.h.reg, e.base()

	switch mode {
	case PointerOnly:
		b.pin()
		return scopeOf[T](e, false)

	case NoFallback:
		if _, ok := pinIf(b, Loaded); ok {
			return scopeOf[T](e, false)
		}
		return Scope[T]{}

	case NoFallbackAllowMissing:
		if _, ok := pinIf(b, Loaded, LoadedResourceMissing); ok {
			return scopeOf[T](e, false)
		}
		return Scope[T]{}

	case AllowLoadingFallback:
		state, ok := pinIf(b, Loaded)
		if ok {
			return scopeOf[T](e, false)
		}
		purpose := FallbackMissing
		if state != LoadedResourceMissing {
			r.schedule(e, r.now(), b.priority)
			purpose = FallbackLoading
		}
		return fallbackScope[T](r, b.kind, purpose)

	default:
		state, err := r.blockTillLoaded(ctx, e)
		if err != nil {
			return Scope[T]{err: err}
		}
		if state == LoadedResourceMissing && mode == BlockTillLoadedNeverFail {
			fb, ok := r.fallback(b.kind, FallbackMissing)
			if !ok {
				assertf("no missing fallback for kind %s", b.kind)
				return scopeOf[T](e, false)
			}
			if _, err := r.blockTillLoaded(ctx, fb); err != nil {
				return scopeOf[T](e, false)
			}
			b.unpin()
			return scopeOf[T](fb, true)
		}
		return scopeOf[T](e, false)
	}
}

// blockTillLoaded returns once e is Loaded or missing, with e pinned.
// Entities that are free to load off the maintenance goroutine are
// loaded on the caller's goroutine instead of waiting for a worker.
// Thread-affine entities are loaded inline only on the maintenance path,
// everyone else waits for the next PerFrameUpdate.
func (r *Registry) blockTillLoaded(ctx context.Context, e Entity) (State, error) {
	b := e.base()
	affine := mainThreadOnly(e)
	for {
		if state, ok := pinIf(b, Loaded, LoadedResourceMissing); ok {
			return state, nil
		}
		if err := ctx.Err(); err != nil {
			return Unloaded, err
		}
		if b.isDead() {
			return Unloaded, ErrInvalidHandle
		}
		maintaining := affine && r.onMaintenancePath()
		if (!affine || maintaining) && b.claim(true) {
			r.runLoad(e)
			continue
		}
		if maintaining {
			// busy further up this goroutine's own stack
			return Unloaded, fmt.Errorf("%w: %s", ErrLoadCycle, b.id)
		}
		r.schedule(e, r.now(), b.priority)
		if err := b.wait(ctx, r.stop); err != nil {
			return Unloaded, err
		}
	}
}

func fallbackScope[T Entity](r *Registry, kind string, purpose FallbackPurpose) Scope[T] {
	fb, ok := r.fallback(kind, purpose)
	if !ok {
		return Scope[T]{err: ErrNoFallback}
	}
	if _, ok := pinIf(fb.base(), Loaded); !ok {
		r.schedule(fb, r.now(), fb.base().priority)
		return Scope[T]{}
	}
	return scopeOf[T](fb, true)
}

// scopeOf wraps an entity the caller has already pinned.
func scopeOf[T Entity](e Entity, fallback bool) Scope[T] {
	v, ok := e.(T)
	if !ok {
		e.base().unpin()
		assertf("%s is not a %s", e.base().id, typeName[T]())
		return Scope[T]{err: &KindError{ID: e.base().id, Want: typeName[T](), Have: e.base().kind}}
	}
	return Scope[T]{ptr: v, pinned: e.base(), fallback: fallback}
}

// pinIf pins b when its state is one of states.
func pinIf(b *Base, states ...State) (State, bool) {
	b.pin()
	state := b.State()
	for _, s := range states {
		if s == state {
			return state, true
		}
	}
	b.unpin()
	return state, false
}

// Get returns the acquired entity, or the zero T when nothing was acquired.
func (s *Scope[T]) Get() T {
	return s.ptr
}

// Ok reports whether the scope holds an entity.
func (s *Scope[T]) Ok() bool {
	return s.pinned != nil
}

// Fallback reports whether the entity is a fallback rather than the one
// the handle references.
func (s *Scope[T]) Fallback() bool {
	return s.fallback
}

// Err explains why nothing was acquired, when there is a reason beyond
// the mode's policy.
func (s *Scope[T]) Err() error {
	return s.err
}

// Close ends the scope. The entity must not be used afterwards.
func (s *Scope[T]) Close() {
	if s.pinned != nil {
		s.pinned.unpin()
	}
	var zero T
	s.ptr = zero
	s.pinned = nil
}
