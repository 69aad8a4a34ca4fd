// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package source_test

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gobuffalo/packr"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devblok/kres/resource"
	"github.com/devblok/kres/source"
	"github.com/devblok/kres/utility/kar"
)

func read(t *testing.T, src resource.Source, raw string) string {
	t.Helper()
	rc, err := src.Open(resource.NormalizeID(raw))
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestDir(t *testing.T) {
	src := source.Dir("testdata")
	assert.Equal(t, "grass", read(t, src, "tex://tex/grass.txt"))
	assert.Equal(t, "rock", read(t, src, "Mesh://mesh/../mesh/rock.txt"))

	_, err := src.Open("tex://tex/sand.txt")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestBox(t *testing.T) {
	src := source.Box(packr.NewBox("./testdata"))
	assert.Equal(t, "grass", read(t, src, "TEX://tex/Grass.txt"))

	_, err := src.Open("tex://nothing")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestMemory(t *testing.T) {
	src := source.Memory{"Tex://Sky": []byte("blue")}
	assert.Equal(t, "blue", read(t, src, "tex://sky"))

	_, err := src.Open("tex://sea")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestSchemes(t *testing.T) {
	src := source.Schemes{
		"tex":  source.Memory{"tex://a": []byte("texture")},
		"mesh": source.Memory{"mesh://a": []byte("mesh")},
		"":     source.Memory{"a": []byte("plain")},
	}
	assert.Equal(t, "texture", read(t, src, "tex://a"))
	assert.Equal(t, "mesh", read(t, src, "mesh://a"))
	assert.Equal(t, "plain", read(t, src, "a"))

	_, err := src.Open("snd://a")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestChain(t *testing.T) {
	broken := errors.New("disk on fire")
	src := source.Chain(
		source.Memory{"tex://a": []byte("first")},
		source.Memory{"tex://a": []byte("second"), "tex://b": []byte("second")},
		resource.SourceFunc(func(id resource.ID) (io.ReadCloser, error) {
			if id == "tex://c" {
				return nil, broken
			}
			return nil, fs.ErrNotExist
		}),
	)
	assert.Equal(t, "first", read(t, src, "tex://a"))
	assert.Equal(t, "second", read(t, src, "tex://b"))

	_, err := src.Open("tex://c")
	assert.ErrorIs(t, err, broken)
	_, err = src.Open("tex://d")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestLogged(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	src := source.Logged(source.Memory{"tex://a": []byte("a")}, logger)
	assert.Equal(t, "a", read(t, src, "tex://a"))
	assert.Empty(t, hook.AllEntries())

	_, err := src.Open("tex://b")
	require.Error(t, err)
	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, resource.ID("tex://b"), hook.LastEntry().Data["id"])
}

func TestArchive(t *testing.T) {
	builder, err := kar.NewBuilder(kar.Header{Author: "devblok"})
	require.NoError(t, err)
	defer builder.Close()
	require.NoError(t, builder.Add("Textures/Grass.png", strings.NewReader("png bytes")))
	require.NoError(t, builder.Add("shaders/lit.vert.spv", strings.NewReader("spirv")))

	path := filepath.Join(t.TempDir(), "pack.kar")
	f, err := os.Create(path)
	require.NoError(t, err)
	_, err = builder.WriteTo(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	ar, err := source.OpenArchive(path)
	require.NoError(t, err)
	defer ar.Close()

	assert.Len(t, ar.Entries(), 2)
	assert.Equal(t, "png bytes", read(t, ar, "tex://textures/grass.png"))
	assert.Equal(t, "spirv", read(t, ar, "shd://shaders/lit.vert.spv"))

	_, err = ar.Open("tex://textures/sand.png")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestOpenArchiveRejectsOtherFiles(t *testing.T) {
	_, err := source.OpenArchive(filepath.Join("testdata", "tex", "grass.txt"))
	assert.ErrorIs(t, err, kar.ErrFileFormat)

	_, err = source.OpenArchive(filepath.Join("testdata", "missing.kar"))
	assert.Error(t, err)
}

func TestRegistryStreamsFromDir(t *testing.T) {
	reg := resource.NewRegistry(resource.WithSource(source.Dir("testdata")), resource.WithWorkers(0))
	defer reg.Shutdown(true)

	kind := resource.Kind[*text]{Name: "text", New: func(resource.ID) *text { return &text{} }}
	h := resource.MustLoad(reg, kind, "tex://tex/grass.txt")
	defer h.Release()

	s := resource.Acquire(h, resource.BlockTillLoaded)
	defer s.Close()
	assert.Equal(t, "grass", s.Get().value)
}

type text struct {
	resource.Base
	value string
}

func (x *text) UpdateContent(stream io.Reader) resource.LoadDescriptor {
	if stream == nil {
		return resource.Missing(nil)
	}
	data, err := io.ReadAll(stream)
	if err != nil {
		return resource.Missing(err)
	}
	x.value = string(data)
	return resource.LoadedLevels(1, 1)
}

func (x *text) UnloadData(resource.UnloadScope) resource.LoadDescriptor {
	x.value = ""
	return resource.LoadDescriptor{State: resource.Unloaded}
}

func (x *text) MemoryUsage() resource.MemoryUsage {
	return resource.MemoryUsage{CPU: int64(len(x.value))}
}
