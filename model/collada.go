// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package model

import (
	"encoding/xml"
	"errors"
	"fmt"

	glm "github.com/go-gl/mathgl/mgl32"

	"github.com/devblok/kres/util/collada"
)

// ImportCollada reads a Collada document and converts the triangles of
// its first geometry into a vertex list, honouring input offsets.
func ImportCollada(fileContents []byte) ([]Vertex, error) {
	var colladaModel collada.Collada
	if err := xml.Unmarshal(fileContents, &colladaModel); err != nil {
		return nil, err
	}
	if len(colladaModel.Geometries) == 0 {
		return nil, errors.New("no geometry in document")
	}

	mesh := &colladaModel.Geometries[0].Mesh
	tris := &mesh.Triangles
	vertexInput, ok := tris.Input(collada.SemanticVertex)
	if !ok {
		return nil, errors.New("triangles have no VERTEX input")
	}
	positions, ok := mesh.Lookup(vertexInput.Source)
	if !ok {
		return nil, fmt.Errorf("source %s not found", vertexInput.Source)
	}

	var normals *collada.Source
	normalInput, hasNormals := tris.Input(collada.SemanticNormal)
	if hasNormals {
		if normals, ok = mesh.Lookup(normalInput.Source); !ok {
			return nil, fmt.Errorf("source %s not found", normalInput.Source)
		}
	}

	stride := tris.Stride()
	corners := tris.Count * 3
	if len(tris.Index) < corners*stride {
		return nil, fmt.Errorf("index has %d entries, %d triangles need %d", len(tris.Index), tris.Count, corners*stride)
	}

	vertices := make([]Vertex, 0, corners)
	for c := 0; c < corners; c++ {
		indices := tris.Index[c*stride : (c+1)*stride]
		vert := Vertex{Color: DefaultColor}

		pos, ok := positions.Element(indices[vertexInput.Offset])
		if !ok || len(pos) < 3 {
			return nil, fmt.Errorf("position %d out of range", indices[vertexInput.Offset])
		}
		vert.Pos = glm.Vec3{pos[0], pos[1], pos[2]}

		if hasNormals {
			n, ok := normals.Element(indices[normalInput.Offset])
			if !ok || len(n) < 3 {
				return nil, fmt.Errorf("normal %d out of range", indices[normalInput.Offset])
			}
			vert.Normal = glm.Vec3{n[0], n[1], n[2]}
		}
		vertices = append(vertices, vert)
	}
	return vertices, nil
}
