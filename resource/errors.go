// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package resource

import (
	"errors"
	"fmt"
)

// package errors
var (
	ErrInvalidHandle = errors.New("invalid or released resource handle")
	ErrClosed        = errors.New("resource registry is shut down")
	ErrLiveHandles   = errors.New("resource handles are still alive")
	ErrNoSource      = errors.New("registry has no source to stream from")
	ErrNotCreator    = errors.New("entity cannot be created from a descriptor")
	ErrEmptyID       = errors.New("empty resource identifier")
	ErrNoFallback    = errors.New("no fallback registered for kind")
	ErrLoadCycle     = errors.New("resource depends on itself while loading")
)

// KindError is returned when a handle or identifier is used as a kind
// the live entity is not.
type KindError struct {
	ID   ID
	Want string
	Have string
}

func (e *KindError) Error() string {
	return fmt.Sprintf("resource %q is a %s, not a %s", e.ID, e.Have, e.Want)
}

// Is matches any *KindError, so callers can test with errors.Is(err, &KindError{}).
func (e *KindError) Is(target error) bool {
	_, ok := target.(*KindError)
	return ok
}
