// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package resource

import (
	"cmp"
	"fmt"
)

// Referencer is implemented by Handle and every TypedHandle. Untyped
// returns a view of the underlying handle without taking a reference.
type Referencer interface {
	Untyped() Handle
}

// Handle is a counted reference to an entity whose concrete kind is not
// known statically. The zero value is invalid.
//
// Go copies a Handle on assignment without telling anybody, so copies
// made with = share one reference. Use Clone for an independent
// reference, Move to hand the reference over and Release when done.
type Handle struct {
	reg   *Registry
	index uint32
	gen   uint32
}

// Untyped implements Referencer
func (h Handle) Untyped() Handle {
	return h
}

// Compare orders handles by entity identity: registry, slot, then slot
// generation. It returns 0 exactly when h == other, and invalid zero
// handles sort first.
func (h Handle) Compare(other Handle) int {
	if c := cmp.Compare(h.reg.serialNumber(), other.reg.serialNumber()); c != 0 {
		return c
	}
	if c := cmp.Compare(h.index, other.index); c != 0 {
		return c
	}
	return cmp.Compare(h.gen, other.gen)
}

func (h Handle) entity() (Entity, bool) {
	if h.reg == nil {
		return nil, false
	}
	return h.reg.lookup(h.index, h.gen)
}

// Valid reports whether the handle still references a live entity.
func (h Handle) Valid() bool {
	e, ok := h.entity()
	return ok && e.base().refs.Load() > 0
}

// Clone returns a new reference to the same entity.
func (h Handle) Clone() Handle {
	e, ok := h.entity()
	if !ok {
		return Handle{}
	}
	if e.base().refs.Add(1) <= 1 {
		assertf("clone of released handle %s", h)
	}
	return h
}

// Set makes h reference the same entity as other, releasing whatever h
// referenced before.
func (h *Handle) Set(other Handle) {
	n := other.Clone()
	h.Release()
	*h = n
}

// Move transfers the reference out of h, leaving h invalid.
func (h *Handle) Move() Handle {
	n := *h
	*h = Handle{}
	return n
}

// Release drops the reference and invalidates h. It never blocks and
// never frees the entity; that is left to the registry.
func (h *Handle) Release() {
	if h.reg != nil {
		h.reg.release(h.index, h.gen)
	}
	*h = Handle{}
}

// ID returns the identifier of the referenced entity.
func (h Handle) ID() ID {
	if e, ok := h.entity(); ok {
		return e.base().id
	}
	return ""
}

// Kind returns the kind name of the referenced entity.
func (h Handle) Kind() string {
	if e, ok := h.entity(); ok {
		return e.base().kind
	}
	return ""
}

// State returns the load state, Unloaded for invalid handles.
func (h Handle) State() State {
	if e, ok := h.entity(); ok {
		return e.base().State()
	}
	return Unloaded
}

// Descriptor returns the descriptor of the last load or unload.
func (h Handle) Descriptor() LoadDescriptor {
	if e, ok := h.entity(); ok {
		return e.base().Descriptor()
	}
	return LoadDescriptor{}
}

// RefCount returns the number of live references, for diagnostics.
func (h Handle) RefCount() int {
	if e, ok := h.entity(); ok {
		return int(e.base().refs.Load())
	}
	return 0
}

func (h Handle) String() string {
	e, ok := h.entity()
	if !ok {
		return "<invalid handle>"
	}
	return fmt.Sprintf("%s(%s#%d.%d)", e.base().kind, e.base().id, h.index, h.gen)
}

// MarshalText persists the handle as its identifier only.
func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h.ID()), nil
}
