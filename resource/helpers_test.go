// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package resource_test

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devblok/kres/resource"
)

var errCorrupt = errors.New("corrupt payload")

// Sized is a general kind that several concrete kinds satisfy.
type Sized interface {
	resource.Entity
	Size() int
}

type blob struct {
	resource.Base

	affine bool

	mu     sync.RWMutex
	data   []byte
	levels int

	loads   atomic.Int32
	unloads atomic.Int32
}

func (b *blob) UpdateContent(stream io.Reader) resource.LoadDescriptor {
	b.loads.Add(1)
	if stream == nil {
		return resource.Missing(errors.New("no stream"))
	}
	data, err := io.ReadAll(stream)
	if err != nil {
		return resource.Missing(err)
	}
	if string(data) == "corrupt" {
		return resource.Missing(errCorrupt)
	}
	if string(data) == "panic" {
		panic("decoder exploded")
	}
	b.mu.Lock()
	b.data = data
	b.levels = 2
	b.mu.Unlock()
	return resource.LoadedLevels(2, 2)
}

func (b *blob) UnloadData(scope resource.UnloadScope) resource.LoadDescriptor {
	b.mu.Lock()
	defer b.mu.Unlock()
	if scope == resource.UnloadDiscardable {
		b.levels = 1
		return resource.LoadedLevels(1, 2)
	}
	b.unloads.Add(1)
	b.data = nil
	b.levels = 0
	return resource.LoadDescriptor{State: resource.Unloaded}
}

func (b *blob) MemoryUsage() resource.MemoryUsage {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return resource.MemoryUsage{CPU: int64(len(b.data) * b.levels)}
}

func (b *blob) CreateFromDescriptor(desc any) resource.LoadDescriptor {
	s, ok := desc.(string)
	if !ok {
		return resource.Missing(errors.New("want a string"))
	}
	b.mu.Lock()
	b.data = []byte(s)
	b.levels = 2
	b.mu.Unlock()
	return resource.LoadedLevels(2, 2)
}

func (b *blob) MainThreadOnly() bool {
	return b.affine
}

func (b *blob) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

func (b *blob) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return string(b.data)
}

type note struct {
	resource.Base
	text string
}

func (n *note) UpdateContent(stream io.Reader) resource.LoadDescriptor {
	if stream == nil {
		return resource.Missing(nil)
	}
	var sb strings.Builder
	if _, err := io.Copy(&sb, stream); err != nil {
		return resource.Missing(err)
	}
	n.text = sb.String()
	return resource.LoadedLevels(1, 1)
}

func (n *note) UnloadData(resource.UnloadScope) resource.LoadDescriptor {
	n.text = ""
	return resource.LoadDescriptor{State: resource.Unloaded}
}

func (n *note) MemoryUsage() resource.MemoryUsage {
	return resource.MemoryUsage{CPU: int64(len(n.text))}
}

func (n *note) Size() int { return len(n.text) }

// link depends on the thread-affine blob its payload names and holds a
// handle to it while loaded.
type link struct {
	resource.Base

	mu     sync.Mutex
	target resource.TypedHandle[*blob]
}

func (l *link) UpdateContent(stream io.Reader) resource.LoadDescriptor {
	if stream == nil {
		return resource.Missing(errors.New("no stream"))
	}
	name, err := io.ReadAll(stream)
	if err != nil {
		return resource.Missing(err)
	}
	h, err := resource.Load(l.Registry(), affineKind, string(name))
	if err != nil {
		return resource.Missing(err)
	}
	s := resource.Acquire(h, resource.BlockTillLoaded)
	err = s.Err()
	if err == nil && h.State() != resource.Loaded {
		err = errors.New("target is missing")
	}
	s.Close()

	l.mu.Lock()
	l.target.Set(h)
	l.mu.Unlock()
	h.Release()

	if err != nil {
		return resource.Missing(err)
	}
	return resource.LoadedLevels(1, 1)
}

func (l *link) UnloadData(resource.UnloadScope) resource.LoadDescriptor {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.target.Release()
	return resource.LoadDescriptor{State: resource.Unloaded}
}

func (l *link) MemoryUsage() resource.MemoryUsage {
	return resource.MemoryUsage{}
}

func (l *link) Target() resource.TypedHandle[*blob] {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.target
}

var (
	linkKind = resource.Kind[*link]{
		Name: "link",
		New:  func(resource.ID) *link { return &link{} },
	}
	blobKind = resource.Kind[*blob]{
		Name: "blob",
		New:  func(resource.ID) *blob { return &blob{} },
	}
	affineKind = resource.Kind[*blob]{
		Name: "affine-blob",
		New:  func(resource.ID) *blob { return &blob{affine: true} },
	}
	noteKind = resource.Kind[*note]{
		Name: "note",
		New:  func(resource.ID) *note { return &note{} },
	}
)

// memorySource serves payloads from a map and records what was opened.
type memorySource struct {
	mu     sync.Mutex
	files  map[resource.ID]string
	opened []resource.ID
}

func newMemorySource(files map[string]string) *memorySource {
	s := &memorySource{files: make(map[resource.ID]string)}
	for k, v := range files {
		s.files[resource.NormalizeID(k)] = v
	}
	return s
}

func (s *memorySource) Open(id resource.ID) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = append(s.opened, id)
	data, ok := s.files[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader([]byte(data))), nil
}

func (s *memorySource) Set(id string, data string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[resource.NormalizeID(id)] = data
}

func (s *memorySource) Opened() []resource.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]resource.ID(nil), s.opened...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2019, 9, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type eventLog struct {
	mu     sync.Mutex
	events []resource.Event
}

func (l *eventLog) OnResourceEvent(e resource.Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) Count(t resource.EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (l *eventLog) Types() []resource.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	var types []resource.EventType
	for _, e := range l.events {
		types = append(types, e.Type)
	}
	return types
}

// newTestRegistry runs every load inline so tests are deterministic.
func newTestRegistry(files map[string]string, options ...resource.RegistryOption) (*resource.Registry, *memorySource) {
	src := newMemorySource(files)
	options = append([]resource.RegistryOption{
		resource.WithSource(src),
		resource.WithWorkers(0),
	}, options...)
	return resource.NewRegistry(options...), src
}

func entityOf(h resource.TypedHandle[*blob]) *blob {
	s := resource.Acquire(h, resource.PointerOnly)
	defer s.Close()
	return s.Get()
}
