// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package material_test

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devblok/kres/material"
	"github.com/devblok/kres/resource"
	"github.com/devblok/kres/shader"
	"github.com/devblok/kres/source"
	"github.com/devblok/kres/texture"
)

const stoneYAML = `
shader:
  vertex: shd://lit.vert.spv
  fragment: shd://lit.frag.spv
textures:
  albedo: tex://stone.png
  normal: TEX://Stone_N.png
params:
  roughness: 0.75
`

func files(t *testing.T) source.Memory {
	var img bytes.Buffer
	require.NoError(t, png.Encode(&img, image.NewRGBA(image.Rect(0, 0, 4, 4))))

	var spv bytes.Buffer
	require.NoError(t, binary.Write(&spv, binary.LittleEndian, []uint32{shader.Magic, 0x00010000}))

	return source.Memory{
		"mat://stone.yaml":   []byte(stoneYAML),
		"mat://broken.yaml":  []byte("shader: [unterminated"),
		"mat://hole.yaml":    []byte("textures:\n  albedo: tex://nowhere.png\n"),
		"mat://gone.yaml":    []byte("shader:\n  vertex: shd://gone.vert.spv\n  fragment: shd://lit.frag.spv\n"),
		"tex://stone.png":    img.Bytes(),
		"tex://stone_n.png":  img.Bytes(),
		"shd://lit.vert.spv": spv.Bytes(),
		"shd://lit.frag.spv": spv.Bytes(),
	}
}

func newRegistry(t *testing.T, options ...resource.RegistryOption) *resource.Registry {
	logger, _ := test.NewNullLogger()
	return resource.NewRegistry(append([]resource.RegistryOption{
		resource.WithSource(files(t)),
		resource.WithWorkers(0),
		resource.WithLogger(logger),
	}, options...)...)
}

// stream loads id in one maintenance frame, the way a streamer would.
func stream(t *testing.T, reg *resource.Registry, id string) resource.TypedHandle[*material.Material] {
	h := resource.MustLoad(reg, material.Kind, id)
	reg.Preload(h, time.Time{})
	st := reg.PerFrameUpdate(resource.Budget{})
	require.Equal(t, 1, st.Loaded, id)
	require.Equal(t, 0, st.Pending, id)
	require.True(t, h.State().Terminal(), id)
	return h
}

func TestMaterialLoadsDependencies(t *testing.T) {
	reg := newRegistry(t)
	defer reg.Shutdown(true)

	h := stream(t, reg, "mat://stone.yaml")
	require.Equal(t, resource.Loaded, h.State())
	s := resource.Acquire(h, resource.NoFallback)
	require.True(t, s.Ok())
	mat := s.Get()

	vert, frag := mat.Shaders()
	assert.Equal(t, resource.Loaded, vert.State())
	assert.Equal(t, resource.Loaded, frag.State())
	assert.Equal(t, 1, vert.RefCount())

	albedo, ok := mat.Texture("albedo")
	require.True(t, ok)
	assert.Equal(t, resource.Loaded, albedo.State())
	assert.Equal(t, 1, albedo.RefCount())
	normal, ok := mat.Texture("normal")
	require.True(t, ok)
	assert.Equal(t, resource.ID("tex://stone_n.png"), normal.ID())

	roughness, ok := mat.Param("roughness")
	assert.True(t, ok)
	assert.Equal(t, float32(0.75), roughness)
	s.Close()

	// the material keeps its dependencies alive
	other := resource.Existing(reg, texture.Kind, "tex://stone.png")
	require.True(t, other.Valid())
	assert.Equal(t, 2, other.RefCount())
	other.Release()

	h.Release()
	reg.GarbageCollect(resource.GCPolicy{})
	assert.False(t, resource.Existing(reg, material.Kind, "mat://stone.yaml").Valid())

	// released by the material, so reclaimable now
	reg.GarbageCollect(resource.GCPolicy{})
	assert.Equal(t, 0, reg.Len())
}

func TestMaterialOnWorkerWaitsForShaders(t *testing.T) {
	reg := newRegistry(t, resource.WithWorkers(2))
	defer reg.Shutdown(true)

	h := resource.MustLoad(reg, material.Kind, "mat://stone.yaml")
	defer h.Release()
	reg.Preload(h, time.Time{})

	require.Eventually(t, func() bool {
		reg.PerFrameUpdate(resource.Budget{})
		return h.State().Terminal()
	}, 5*time.Second, time.Millisecond)
	require.Equal(t, resource.Loaded, h.State())

	s := resource.Acquire(h, resource.NoFallback)
	defer s.Close()
	vert, frag := s.Get().Shaders()
	assert.Equal(t, resource.Loaded, vert.State())
	assert.Equal(t, resource.Loaded, frag.State())
}

func TestMissingShaderMakesMaterialMissing(t *testing.T) {
	reg := newRegistry(t)
	defer reg.Shutdown(true)

	h := stream(t, reg, "mat://gone.yaml")
	defer h.Release()
	assert.Equal(t, resource.LoadedResourceMissing, h.State())
	assert.ErrorContains(t, h.Descriptor().Err, "shd://gone.vert.spv")

	// the material let go of the shader it could not use
	gone := resource.Existing(reg, shader.Kind, "shd://gone.vert.spv")
	require.True(t, gone.Valid())
	assert.Equal(t, resource.LoadedResourceMissing, gone.State())
	assert.Equal(t, 1, gone.RefCount())
	gone.Release()
}

func TestUnloadReleasesDependencies(t *testing.T) {
	reg := newRegistry(t)
	defer reg.Shutdown(true)

	h := stream(t, reg, "mat://stone.yaml")
	defer h.Release()

	tex := resource.Existing(reg, texture.Kind, "tex://stone.png")
	defer tex.Release()
	assert.Equal(t, 2, tex.RefCount())

	reg.Unload(h)
	reg.PerFrameUpdate(resource.Budget{})
	assert.Equal(t, resource.Unloaded, h.State())
	assert.Equal(t, 1, tex.RefCount())
}

func TestBrokenMaterials(t *testing.T) {
	reg := newRegistry(t)
	defer reg.Shutdown(true)

	for _, id := range []string{"mat://broken.yaml", "mat://hole.yaml", "mat://absent.yaml"} {
		h := stream(t, reg, id)
		assert.Equal(t, resource.LoadedResourceMissing, h.State(), id)
		assert.Error(t, h.Descriptor().Err, id)
		h.Release()
	}

	// the texture the broken material named is no longer referenced
	hole := resource.Existing(reg, texture.Kind, "tex://nowhere.png")
	require.True(t, hole.Valid())
	assert.Equal(t, 1, hole.RefCount())
	hole.Release()
}

func TestCreateFromDefinition(t *testing.T) {
	reg := newRegistry(t)
	defer reg.Shutdown(true)

	var def material.Definition
	def.Textures = map[string]string{"albedo": "tex://stone.png"}
	def.Params = map[string]float32{"metal": 1}

	h, err := resource.Create(reg, material.Kind, "mat://generated", def)
	require.NoError(t, err)
	defer h.Release()
	assert.Equal(t, resource.Loaded, h.State())

	s := resource.Acquire(h, resource.NoFallback)
	defer s.Close()
	vert, _ := s.Get().Shaders()
	assert.False(t, vert.Valid())
	metal, _ := s.Get().Param("metal")
	assert.Equal(t, float32(1), metal)
}
