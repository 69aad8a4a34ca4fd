// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package shader_test

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devblok/kres/resource"
	"github.com/devblok/kres/shader"
	"github.com/devblok/kres/source"
)

func TestStageOf(t *testing.T) {
	cases := map[string]shader.Stage{
		"lit.vert.spv":          shader.VertexStage,
		"shaders/lit.frag.spv":  shader.FragmentStage,
		`shaders\cull.comp.spv`: shader.ComputeStage,
		"lit.vert":              shader.UnknownStage,
		"lit.spv":               shader.UnknownStage,
		"a.b.vert.spv":          shader.UnknownStage,
		"lit.tesc.spv":          shader.UnknownStage,
	}
	for name, want := range cases {
		assert.Equal(t, want, shader.StageOf(name), name)
	}
	assert.Equal(t, "frag", shader.FragmentStage.String())
}

func TestWords(t *testing.T) {
	words, err := shader.Words([]byte{0x03, 0x02, 0x23, 0x07, 0x01, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, []uint32{shader.Magic, 1}, words)

	_, err = shader.Words([]byte{1, 2, 3})
	assert.ErrorIs(t, err, shader.ErrNotSPIRV)
	_, err = shader.Words([]byte{1, 2, 3, 4})
	assert.ErrorIs(t, err, shader.ErrNotSPIRV)
}

func TestDiscover(t *testing.T) {
	ids, err := shader.Discover("testdata", "shd")
	require.NoError(t, err)
	assert.ElementsMatch(t, []resource.ID{"shd://lit.vert.spv", "shd://lit.frag.spv"}, ids)
}

func TestShaderLoadsOnMaintenancePath(t *testing.T) {
	logger, _ := test.NewNullLogger()
	reg := resource.NewRegistry(
		resource.WithSource(source.Dir("testdata")),
		resource.WithWorkers(2),
		resource.WithLogger(logger),
	)
	defer reg.Shutdown(true)

	vert := resource.MustLoad(reg, shader.Kind, "shd://lit.vert.spv")
	defer vert.Release()
	bad := resource.MustLoad(reg, shader.Kind, "shd://readme.txt")
	defer bad.Release()

	reg.Preload(vert, time.Time{})
	reg.Preload(bad, time.Time{})
	st := reg.PerFrameUpdate(resource.Budget{})
	assert.Equal(t, 2, st.Loaded)
	assert.Equal(t, 0, st.Dispatched)

	s := resource.Acquire(vert, resource.NoFallback)
	require.True(t, s.Ok())
	assert.Equal(t, shader.VertexStage, s.Get().Stage())
	assert.Len(t, s.Get().Words(), 5)
	assert.EqualValues(t, 20, s.Get().MemoryUsage().GPU)
	s.Close()

	assert.Equal(t, resource.LoadedResourceMissing, bad.State())
}

func BenchmarkWords(b *testing.B) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, shader.Magic)
	buf.Write(make([]byte, 64*1024))
	data := buf.Bytes()

	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := shader.Words(data); err != nil {
			b.Fatal(err)
		}
	}
}
