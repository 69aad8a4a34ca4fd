// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package resource

import (
	"time"

	"github.com/sirupsen/logrus"
)

// RegistryOption is a functional option for configuring a Registry via NewRegistry.
type RegistryOption func(*Registry)

// WithSource sets where entity payloads are streamed from.
func WithSource(src Source) RegistryOption {
	return func(r *Registry) {
		r.source = src
	}
}

// WithLogger sets the logger used for load failures and teardown.
func WithLogger(l logrus.FieldLogger) RegistryOption {
	return func(r *Registry) {
		r.log = l
	}
}

// WithWorkers sets how many goroutines run UpdateContent for entities
// that are not thread-affine. Zero makes every load run inline on the
// maintenance goroutine.
func WithWorkers(n int) RegistryOption {
	return func(r *Registry) {
		if n >= 0 {
			r.workers = n
		}
	}
}

// WithQueueSize caps how many loads can be handed to the workers
// before PerFrameUpdate stops dispatching for the frame.
func WithQueueSize(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// WithRetainedLimit caps how many unreferenced entities stay resident.
// Past the limit, the oldest ones are reclaimed by the next
// GarbageCollect regardless of its minimum age.
func WithRetainedLimit(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.retained = n
		}
	}
}

// WithClock replaces time.Now for release timestamps and deadlines.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}
