// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package resource

import (
	"bytes"
	"runtime"
	"strconv"
)

// goroutineID parses the id of the calling goroutine from its stack
// header, "goroutine 18 [running]:".
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	s := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	id, err := strconv.ParseInt(string(s), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// enterMaintenance marks the calling goroutine as the maintenance path
// until the returned func runs. Observers, decoders and unloaders called
// from there may block on thread-affine entities, which are then loaded
// inline instead of waiting for a frame that cannot come.
func (r *Registry) enterMaintenance() func() {
	prev := r.maintainer.Swap(goroutineID())
	return func() { r.maintainer.Store(prev) }
}

// onMaintenancePath reports whether the caller is running inside
// PerFrameUpdate, GarbageCollect or Shutdown.
func (r *Registry) onMaintenancePath() bool {
	id := r.maintainer.Load()
	return id != 0 && id == goroutineID()
}
