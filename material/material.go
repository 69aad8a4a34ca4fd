// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package material implements the material resource: a YAML definition
// naming a shader pair, textures and scalar parameters. A material holds
// handles to the resources it names, so it keeps them alive.
//
//	shader:
//	  vertex: shd://lit.vert.spv
//	  fragment: shd://lit.frag.spv
//	textures:
//	  albedo: tex://stone.png
//	params:
//	  roughness: 0.8
package material

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/devblok/kres/resource"
	"github.com/devblok/kres/shader"
	"github.com/devblok/kres/texture"
)

// Kind is the resource kind of materials.
var Kind = resource.Kind[*Material]{
	Name: "material",
	New:  func(resource.ID) *Material { return &Material{} },
}

// Definition is the YAML document a material is loaded from.
type Definition struct {
	Shader struct {
		Vertex   string `yaml:"vertex"`
		Fragment string `yaml:"fragment"`
	} `yaml:"shader"`
	Textures map[string]string  `yaml:"textures"`
	Params   map[string]float32 `yaml:"params"`
}

// Material binds textures and shaders. Everything it names is loaded
// before the material reports Loaded, and a missing dependency makes the
// material missing too. Shaders only load on the maintenance goroutine,
// so a material loaded elsewhere waits for the next frame.
type Material struct {
	resource.Base

	mu       sync.RWMutex
	vertex   resource.TypedHandle[*shader.Shader]
	fragment resource.TypedHandle[*shader.Shader]
	textures map[string]resource.TypedHandle[*texture.Texture]
	params   map[string]float32
}

// UpdateContent parses the definition and takes handles to everything
// it names.
func (m *Material) UpdateContent(stream io.Reader) resource.LoadDescriptor {
	if stream == nil {
		return resource.Missing(errors.New("material has no data"))
	}
	var def Definition
	if err := yaml.NewDecoder(stream).Decode(&def); err != nil {
		return resource.Missing(fmt.Errorf("parsing %s: %w", m.ID(), err))
	}
	return m.CreateFromDescriptor(def)
}

// CreateFromDescriptor takes a Definition.
func (m *Material) CreateFromDescriptor(desc any) resource.LoadDescriptor {
	def, ok := desc.(Definition)
	if !ok {
		return resource.Missing(fmt.Errorf("material descriptor is %T, not Definition", desc))
	}
	reg := m.Registry()

	var b binding
	if err := b.bind(reg, def); err != nil {
		b.release()
		return resource.Missing(fmt.Errorf("%s: %w", m.ID(), err))
	}

	m.mu.Lock()
	old := binding{vertex: m.vertex, fragment: m.fragment, textures: m.textures}
	m.vertex, m.fragment, m.textures = b.vertex, b.fragment, b.textures
	m.params = def.Params
	m.mu.Unlock()
	old.release()
	return resource.LoadedLevels(1, 1)
}

type binding struct {
	vertex   resource.TypedHandle[*shader.Shader]
	fragment resource.TypedHandle[*shader.Shader]
	textures map[string]resource.TypedHandle[*texture.Texture]
}

func (b *binding) bind(reg *resource.Registry, def Definition) error {
	var err error
	if b.vertex, err = loadShader(reg, def.Shader.Vertex); err != nil {
		return err
	}
	if b.fragment, err = loadShader(reg, def.Shader.Fragment); err != nil {
		return err
	}

	b.textures = make(map[string]resource.TypedHandle[*texture.Texture], len(def.Textures))
	slots := make([]string, 0, len(def.Textures))
	for slot := range def.Textures {
		slots = append(slots, slot)
	}
	sort.Strings(slots)
	for _, slot := range slots {
		h, err := resource.Load(reg, texture.Kind, def.Textures[slot])
		if err != nil {
			return fmt.Errorf("texture %s: %w", slot, err)
		}
		b.textures[slot] = h
		if err := await(h); err != nil {
			return fmt.Errorf("texture %s: %w", slot, err)
		}
	}
	return nil
}

func loadShader(reg *resource.Registry, id string) (resource.TypedHandle[*shader.Shader], error) {
	if id == "" {
		return resource.TypedHandle[*shader.Shader]{}, nil
	}
	h, err := resource.Load(reg, shader.Kind, id)
	if err != nil {
		return h, fmt.Errorf("shader %s: %w", id, err)
	}
	if err := await(h); err != nil {
		return h, fmt.Errorf("shader %s: %w", id, err)
	}
	return h, nil
}

// await blocks until the entity behind h is Loaded or missing.
func await[T resource.Entity](h resource.TypedHandle[T]) error {
	s := resource.Acquire(h, resource.BlockTillLoaded)
	defer s.Close()
	if err := s.Err(); err != nil {
		return err
	}
	if h.State() != resource.Loaded {
		if err := h.Descriptor().Err; err != nil {
			return fmt.Errorf("%s is missing: %w", h.ID(), err)
		}
		return fmt.Errorf("%s is missing", h.ID())
	}
	return nil
}

func (b *binding) release() {
	b.vertex.Release()
	b.fragment.Release()
	for slot, h := range b.textures {
		h.Release()
		delete(b.textures, slot)
	}
}

// UnloadData releases every handle the material holds.
func (m *Material) UnloadData(scope resource.UnloadScope) resource.LoadDescriptor {
	if scope == resource.UnloadDiscardable {
		return resource.LoadedLevels(1, 1)
	}
	m.mu.Lock()
	old := binding{vertex: m.vertex, fragment: m.fragment, textures: m.textures}
	m.vertex = resource.TypedHandle[*shader.Shader]{}
	m.fragment = resource.TypedHandle[*shader.Shader]{}
	m.textures = nil
	m.params = nil
	m.mu.Unlock()
	old.release()
	return resource.LoadDescriptor{State: resource.Unloaded}
}

// MemoryUsage implements resource.Entity. The resources a material
// references report their own usage.
func (m *Material) MemoryUsage() resource.MemoryUsage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return resource.MemoryUsage{CPU: int64(len(m.params)*8 + len(m.textures)*16)}
}

// Shaders returns the vertex and fragment shader handles. They stay
// owned by the material.
func (m *Material) Shaders() (vertex, fragment resource.TypedHandle[*shader.Shader]) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.vertex, m.fragment
}

// Texture returns the texture bound to slot. It stays owned by the material.
func (m *Material) Texture(slot string) (resource.TypedHandle[*texture.Texture], bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.textures[slot]
	return h, ok
}

// Param returns a scalar parameter.
func (m *Material) Param(name string) (float32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.params[name]
	return v, ok
}
