// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package resource

// State is the coarse load state of an entity.
type State uint8

// Entity load states
const (
	Unloaded State = iota
	Loading
	Loaded
	LoadedResourceMissing
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case LoadedResourceMissing:
		return "missing"
	default:
		return "unknown"
	}
}

// MarshalText persists the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether the state ends a load cycle.
func (s State) Terminal() bool {
	return s == Loaded || s == LoadedResourceMissing
}

// LoadDescriptor is returned by every load and unload operation on an entity.
type LoadDescriptor struct {
	State State

	// QualityLevelsLoaded is how many discrete quality levels
	// (mip levels and the like) are resident right now.
	QualityLevelsLoaded uint16

	// QualityLevelsLoadable is how many the entity could hold.
	QualityLevelsLoadable uint16

	// Err carries the reason a load ended in LoadedResourceMissing.
	Err error
}

// Complete reports whether every loadable quality level is resident.
func (d LoadDescriptor) Complete() bool {
	return d.QualityLevelsLoaded >= d.QualityLevelsLoadable
}

// Missing is a convenience for entities that failed to load.
func Missing(err error) LoadDescriptor {
	return LoadDescriptor{State: LoadedResourceMissing, Err: err}
}

// LoadedLevels is a convenience for a successful load.
func LoadedLevels(loaded, loadable int) LoadDescriptor {
	return LoadDescriptor{
		State:                 Loaded,
		QualityLevelsLoaded:   uint16(loaded),
		QualityLevelsLoadable: uint16(loadable),
	}
}

// UnloadScope selects how much of an entity's payload UnloadData releases.
type UnloadScope uint8

// Unload scopes
const (
	// UnloadAll drops everything and returns the entity to Unloaded.
	UnloadAll UnloadScope = iota

	// UnloadDiscardable drops only discardable quality levels,
	// the coarse state stays Loaded.
	UnloadDiscardable
)

// MemoryUsage is a footprint estimate in bytes.
type MemoryUsage struct {
	CPU int64
	GPU int64
}

// Add returns the sum of both usages.
func (m MemoryUsage) Add(o MemoryUsage) MemoryUsage {
	return MemoryUsage{CPU: m.CPU + o.CPU, GPU: m.GPU + o.GPU}
}

// Total is CPU and GPU combined.
func (m MemoryUsage) Total() int64 {
	return m.CPU + m.GPU
}
