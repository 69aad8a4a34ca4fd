// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package resource

import (
	"encoding/json"
	"reflect"
)

// Kind describes a loadable entity type.
type Kind[T Entity] struct {
	// Name is stored with every entity of this kind.
	Name string

	// New constructs an empty, Unloaded entity.
	New func(id ID) T

	// Priority orders loads with equal deadlines, higher first.
	Priority int
}

// TypedHandle is a Handle that is known to reference a T.
type TypedHandle[T Entity] struct {
	h Handle
}

// Untyped implements Referencer
func (t TypedHandle[T]) Untyped() Handle {
	return t.h
}

// Compare orders typed handles the way Handle.Compare does.
func (t TypedHandle[T]) Compare(other TypedHandle[T]) int {
	return t.h.Compare(other.h)
}

// Valid reports whether the handle still references a live entity.
func (t TypedHandle[T]) Valid() bool {
	return t.h.Valid()
}

// Clone returns a new reference to the same entity.
func (t TypedHandle[T]) Clone() TypedHandle[T] {
	return TypedHandle[T]{h: t.h.Clone()}
}

// Set makes t reference the same entity as other.
func (t *TypedHandle[T]) Set(other TypedHandle[T]) {
	t.h.Set(other.h)
}

// Move transfers the reference out of t, leaving t invalid.
func (t *TypedHandle[T]) Move() TypedHandle[T] {
	return TypedHandle[T]{h: t.h.Move()}
}

// Release drops the reference and invalidates t.
func (t *TypedHandle[T]) Release() {
	t.h.Release()
}

// ID returns the identifier of the referenced entity.
func (t TypedHandle[T]) ID() ID { return t.h.ID() }

// Kind returns the kind name of the referenced entity.
func (t TypedHandle[T]) Kind() string { return t.h.Kind() }

// State returns the load state.
func (t TypedHandle[T]) State() State { return t.h.State() }

// Descriptor returns the descriptor of the last load or unload.
func (t TypedHandle[T]) Descriptor() LoadDescriptor { return t.h.Descriptor() }

// RefCount returns the number of live references.
func (t TypedHandle[T]) RefCount() int { return t.h.RefCount() }

func (t TypedHandle[T]) String() string { return t.h.String() }

// MarshalText persists the handle as its identifier only.
func (t TypedHandle[T]) MarshalText() ([]byte, error) {
	return t.h.MarshalText()
}

// MarshalJSON persists the handle as a JSON string holding its identifier.
func (t TypedHandle[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(t.h.ID()))
}

func (t TypedHandle[T]) entity() (T, bool) {
	var zero T
	e, ok := t.h.entity()
	if !ok {
		return zero, false
	}
	v, ok := e.(T)
	return v, ok
}

// As converts h into a handle of a related kind. The live entity is
// checked, so a handle to a general kind can only be narrowed when the
// entity really is a U. The returned handle is a new reference; h keeps
// its own.
func As[U Entity, T Entity](h TypedHandle[T]) (TypedHandle[U], error) {
	return Typed[U](h.h)
}

// MustAs is like As but treats a failed conversion as a programmer error.
func MustAs[U Entity, T Entity](h TypedHandle[T]) TypedHandle[U] {
	u, err := As[U](h)
	if err != nil {
		assertf("%v", err)
	}
	return u
}

// Typed checks the entity behind an untyped handle and returns a typed
// reference to it.
func Typed[U Entity](h Handle) (TypedHandle[U], error) {
	e, ok := h.entity()
	if !ok || e.base().refs.Load() == 0 {
		return TypedHandle[U]{}, ErrInvalidHandle
	}
	if _, ok := e.(U); !ok {
		return TypedHandle[U]{}, &KindError{
			ID:   e.base().id,
			Want: typeName[U](),
			Have: e.base().kind,
		}
	}
	return TypedHandle[U]{h: h.Clone()}, nil
}

func typeName[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}
