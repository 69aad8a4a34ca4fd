// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package resource keeps track of every large, expensive-to-load asset
// through reference counted handles. Callers never hold an entity directly,
// they hold a Handle (or a TypedHandle) and open an acquire Scope for the
// duration in which they need the entity's payload.
//
// A Registry maps an identifier to at most one live entity, creates the
// entity on first reference and streams its payload in from a Source,
// either on a worker pool or on the maintenance goroutine for entities that
// touch thread-affine APIs. Entities whose reference count drops to zero are
// not destroyed with the last handle; they are reclaimed later by
// GarbageCollect once they are old enough.
//
// A typical frame looks like this:
//
//	tex, err := resource.Load(reg, texture.Kind, "tex://bricks.png")
//	if err != nil {
//		return err
//	}
//	defer tex.Release()
//	reg.Preload(tex, time.Now().Add(100*time.Millisecond))
//
//	// once per frame, on the maintenance goroutine
//	reg.PerFrameUpdate(resource.Budget{MaxDuration: 2 * time.Millisecond})
//	reg.GarbageCollect(resource.GCPolicy{MinAge: 5 * time.Second})
//
//	// anywhere
//	s := resource.Acquire(tex, resource.AllowLoadingFallback)
//	defer s.Close()
//	draw(s.Get())
package resource
