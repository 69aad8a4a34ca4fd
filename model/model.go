// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package model implements the mesh resource.
package model

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"unsafe"

	glm "github.com/go-gl/mathgl/mgl32"

	"github.com/devblok/kres/resource"
)

// CubeID is the identifier of the fallback mesh.
const CubeID = "mesh://kres/cube"

// Kind is the resource kind of meshes.
var Kind = resource.Kind[*Mesh]{
	Name: "mesh",
	New:  func(resource.ID) *Mesh { return &Mesh{} },
}

// Vertex is a model vertex
type Vertex struct {
	Pos    glm.Vec3
	Normal glm.Vec3
	Color  glm.Vec4
}

// VertexSize is the size of one Vertex in a vertex buffer.
const VertexSize = int64(unsafe.Sizeof(Vertex{}))

// DefaultColor is given to vertices whose source has no colors.
var DefaultColor = glm.Vec4{1.0, 1.0, 1.0, 1.0}

// Bounds is an axis aligned bounding box.
type Bounds struct {
	Min, Max glm.Vec3
}

// Center is the middle of the box.
func (b Bounds) Center() glm.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Transform returns the box enclosing b after transforming it by m.
func (b Bounds) Transform(m glm.Mat4) Bounds {
	var out Bounds
	for i := 0; i < 8; i++ {
		corner := glm.Vec3{b.Min[0], b.Min[1], b.Min[2]}
		for axis := 0; axis < 3; axis++ {
			if i&(1<<axis) != 0 {
				corner[axis] = b.Max[axis]
			}
		}
		p := glm.TransformCoordinate(corner, m)
		if i == 0 {
			out = Bounds{Min: p, Max: p}
			continue
		}
		out = out.extend(p)
	}
	return out
}

func (b Bounds) extend(p glm.Vec3) Bounds {
	for axis := 0; axis < 3; axis++ {
		if p[axis] < b.Min[axis] {
			b.Min[axis] = p[axis]
		}
		if p[axis] > b.Max[axis] {
			b.Max[axis] = p[axis]
		}
	}
	return b
}

// BoundsOf returns the box enclosing every vertex.
func BoundsOf(vertices []Vertex) Bounds {
	if len(vertices) == 0 {
		return Bounds{}
	}
	b := Bounds{Min: vertices[0].Pos, Max: vertices[0].Pos}
	for _, v := range vertices[1:] {
		b = b.extend(v.Pos)
	}
	return b
}

// Mesh is a triangle list imported from a Collada (.dae) file.
type Mesh struct {
	resource.Base

	mutex    sync.RWMutex
	vertices []Vertex
	bounds   Bounds
}

// UpdateContent imports the first geometry of a Collada document.
func (m *Mesh) UpdateContent(stream io.Reader) resource.LoadDescriptor {
	if stream == nil {
		return resource.Missing(errors.New("mesh has no data"))
	}
	data, err := io.ReadAll(stream)
	if err != nil {
		return resource.Missing(err)
	}
	vertices, err := ImportCollada(data)
	if err != nil {
		return resource.Missing(fmt.Errorf("importing %s: %w", m.ID(), err))
	}
	return m.set(vertices)
}

// CreateFromDescriptor takes a []Vertex triangle list.
func (m *Mesh) CreateFromDescriptor(desc any) resource.LoadDescriptor {
	vertices, ok := desc.([]Vertex)
	if !ok {
		return resource.Missing(fmt.Errorf("mesh descriptor is %T, not []Vertex", desc))
	}
	return m.set(vertices)
}

func (m *Mesh) set(vertices []Vertex) resource.LoadDescriptor {
	if len(vertices) == 0 || len(vertices)%3 != 0 {
		return resource.Missing(fmt.Errorf("%d vertices do not make triangles", len(vertices)))
	}
	m.mutex.Lock()
	m.vertices = vertices
	m.bounds = BoundsOf(vertices)
	m.mutex.Unlock()
	return resource.LoadedLevels(1, 1)
}

// UnloadData implements resource.Entity. Meshes have nothing discardable.
func (m *Mesh) UnloadData(scope resource.UnloadScope) resource.LoadDescriptor {
	if scope == resource.UnloadDiscardable {
		return resource.LoadedLevels(1, 1)
	}
	m.mutex.Lock()
	m.vertices = nil
	m.bounds = Bounds{}
	m.mutex.Unlock()
	return resource.LoadDescriptor{State: resource.Unloaded}
}

// MemoryUsage implements resource.Entity
func (m *Mesh) MemoryUsage() resource.MemoryUsage {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return resource.MemoryUsage{CPU: int64(len(m.vertices)) * VertexSize}
}

// Vertices returns the triangle list. It must not be modified.
func (m *Mesh) Vertices() []Vertex {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.vertices
}

// Bounds returns the bounding box in model space.
func (m *Mesh) Bounds() Bounds {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.bounds
}

// Cube returns a triangle list of an axis aligned cube centered on the
// origin.
func Cube(size float32) []Vertex {
	h := size / 2
	faces := []struct {
		normal glm.Vec3
		corner [4]glm.Vec3
	}{
		{glm.Vec3{0, 0, 1}, [4]glm.Vec3{{-h, -h, h}, {h, -h, h}, {h, h, h}, {-h, h, h}}},
		{glm.Vec3{0, 0, -1}, [4]glm.Vec3{{h, -h, -h}, {-h, -h, -h}, {-h, h, -h}, {h, h, -h}}},
		{glm.Vec3{1, 0, 0}, [4]glm.Vec3{{h, -h, h}, {h, -h, -h}, {h, h, -h}, {h, h, h}}},
		{glm.Vec3{-1, 0, 0}, [4]glm.Vec3{{-h, -h, -h}, {-h, -h, h}, {-h, h, h}, {-h, h, -h}}},
		{glm.Vec3{0, 1, 0}, [4]glm.Vec3{{-h, h, h}, {h, h, h}, {h, h, -h}, {-h, h, -h}}},
		{glm.Vec3{0, -1, 0}, [4]glm.Vec3{{-h, -h, -h}, {h, -h, -h}, {h, -h, h}, {-h, -h, h}}},
	}
	vertices := make([]Vertex, 0, 36)
	for _, f := range faces {
		for _, i := range [6]int{0, 1, 2, 0, 2, 3} {
			vertices = append(vertices, Vertex{Pos: f.corner[i], Normal: f.normal, Color: DefaultColor})
		}
	}
	return vertices
}

// RegisterFallbacks creates the unit cube and registers it as the
// missing mesh of reg.
func RegisterFallbacks(reg *resource.Registry) error {
	h, err := resource.Create(reg, Kind, CubeID, Cube(1))
	if err != nil {
		return err
	}
	defer h.Release()
	resource.SetFallback(reg, Kind, resource.FallbackMissing, h)
	return nil
}
