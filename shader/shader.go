// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package shader implements the compiled SPIR-V shader resource.
// Shaders are handed to the graphics api as soon as they load, so they
// load on the maintenance goroutine.
package shader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/devblok/kres/resource"
)

// Magic is the first word of every SPIR-V module.
const Magic uint32 = 0x07230203

const shaderSuffix = ".spv"

// Kind is the resource kind of shaders.
var Kind = resource.Kind[*Shader]{
	Name:     "shader",
	New:      func(resource.ID) *Shader { return &Shader{} },
	Priority: 2,
}

// Stage is the pipeline stage a shader runs in.
type Stage int

// Identifies shader objects with their types
const (
	UnknownStage Stage = iota
	VertexStage
	FragmentStage
	ComputeStage
	GeometryStage
)

func (s Stage) String() string {
	switch s {
	case VertexStage:
		return "vert"
	case FragmentStage:
		return "frag"
	case ComputeStage:
		return "comp"
	case GeometryStage:
		return "geom"
	default:
		return "unknown"
	}
}

// ErrNotSPIRV is returned for data without the SPIR-V magic.
var ErrNotSPIRV = errors.New("not a SPIR-V module")

// StageOf reads the stage from a name of the form name.stage.spv. It
// is important that the name does not contain more than two dots.
func StageOf(name string) Stage {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if !strings.HasSuffix(name, shaderSuffix) {
		return UnknownStage
	}
	nodes := strings.Split(strings.TrimSuffix(name, shaderSuffix), ".")
	if len(nodes) != 2 {
		return UnknownStage
	}
	switch nodes[1] {
	case "vert":
		return VertexStage
	case "frag":
		return FragmentStage
	case "comp":
		return ComputeStage
	case "geom":
		return GeometryStage
	default:
		return UnknownStage
	}
}

// Words reslices SPIR-V bytes into the uint32 words graphics apis take.
func Words(data []byte) ([]uint32, error) {
	if len(data) < 4 || len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrNotSPIRV, len(data))
	}
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	if words[0] != Magic {
		return nil, fmt.Errorf("%w: magic %#08x", ErrNotSPIRV, words[0])
	}
	return words, nil
}

// Shader is a compiled shader module.
type Shader struct {
	resource.Base

	mu    sync.RWMutex
	stage Stage
	words []uint32
}

// UpdateContent validates the module. The stage comes from the identifier.
func (s *Shader) UpdateContent(stream io.Reader) resource.LoadDescriptor {
	if stream == nil {
		return resource.Missing(errors.New("shader has no data"))
	}
	stage := StageOf(s.ID().Path())
	if stage == UnknownStage {
		return resource.Missing(fmt.Errorf("%s: unknown shader stage", s.ID()))
	}
	data, err := io.ReadAll(stream)
	if err != nil {
		return resource.Missing(err)
	}
	words, err := Words(data)
	if err != nil {
		return resource.Missing(err)
	}

	s.mu.Lock()
	s.stage = stage
	s.words = words
	s.mu.Unlock()
	return resource.LoadedLevels(1, 1)
}

// UnloadData implements resource.Entity
func (s *Shader) UnloadData(scope resource.UnloadScope) resource.LoadDescriptor {
	if scope == resource.UnloadDiscardable {
		return resource.LoadedLevels(1, 1)
	}
	s.mu.Lock()
	s.words = nil
	s.stage = UnknownStage
	s.mu.Unlock()
	return resource.LoadDescriptor{State: resource.Unloaded}
}

// MemoryUsage implements resource.Entity. Modules live on the GPU once
// they are created.
func (s *Shader) MemoryUsage() resource.MemoryUsage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return resource.MemoryUsage{GPU: int64(len(s.words) * 4)}
}

// MainThreadOnly implements resource.ThreadAffine
func (s *Shader) MainThreadOnly() bool {
	return true
}

// Stage returns the pipeline stage.
func (s *Shader) Stage() Stage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stage
}

// Words returns the module words.
func (s *Shader) Words() []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.words
}

// Discover walks dir for compiled shaders and returns their identifiers
// under scheme, with paths relative to dir.
func Discover(dir, scheme string) ([]resource.ID, error) {
	var ids []resource.ID
	err := filepath.Walk(dir, func(p string, f os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if f.IsDir() || StageOf(f.Name()) == UnknownStage {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		ids = append(ids, resource.NormalizeID(scheme+"://"+filepath.ToSlash(rel)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
