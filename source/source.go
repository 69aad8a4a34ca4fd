// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package source provides the places resource payloads are streamed from:
// plain directories, kar archives, packr boxes and memory, plus routers
// that combine them. Every Source reports an unknown identifier with an
// error that matches fs.ErrNotExist.
package source

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/gobuffalo/packr"
	"github.com/sirupsen/logrus"

	"github.com/devblok/kres/resource"
)

func notExist(id resource.ID) error {
	return fmt.Errorf("%s: %w", id, fs.ErrNotExist)
}

// Dir serves identifiers from files under root, the identifier path
// being the path relative to root. The scheme is ignored.
func Dir(root string) resource.Source {
	return dirSource(root)
}

type dirSource string

func (d dirSource) Open(id resource.ID) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(string(d), filepath.FromSlash(id.Path())))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notExist(id)
		}
		return nil, err
	}
	return f, nil
}

// Box serves identifiers from a packr box. Names in the box are matched
// the way identifiers are normalized, so they are case insensitive.
func Box(box packr.Box) resource.Source {
	return &boxSource{box: box}
}

type boxSource struct {
	box   packr.Box
	once  sync.Once
	names map[string]string
}

func (b *boxSource) Open(id resource.ID) (io.ReadCloser, error) {
	b.once.Do(func() {
		b.names = make(map[string]string)
		for _, name := range b.box.List() {
			b.names[resource.NormalizeID(name).Path()] = name
		}
	})

	name, ok := b.names[id.Path()]
	if !ok {
		return nil, notExist(id)
	}
	data, err := b.box.Find(name)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Memory serves identifiers from a map of raw identifiers to payloads.
type Memory map[string][]byte

// Open implements resource.Source
func (m Memory) Open(id resource.ID) (io.ReadCloser, error) {
	for raw, data := range m {
		if resource.NormalizeID(raw) == id {
			return io.NopCloser(bytes.NewReader(data)), nil
		}
	}
	return nil, notExist(id)
}

// Schemes routes identifiers to a source by their scheme. The empty
// scheme key serves identifiers without a scheme.
type Schemes map[string]resource.Source

// Open implements resource.Source
func (s Schemes) Open(id resource.ID) (io.ReadCloser, error) {
	src, ok := s[id.Scheme()]
	if !ok {
		return nil, fmt.Errorf("no source for scheme %q: %w", id.Scheme(), notExist(id))
	}
	return src.Open(id)
}

// Chain tries sources in order until one has the identifier.
func Chain(sources ...resource.Source) resource.Source {
	return chain(sources)
}

type chain []resource.Source

func (c chain) Open(id resource.ID) (io.ReadCloser, error) {
	for _, src := range c {
		rc, err := src.Open(id)
		if err == nil {
			return rc, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return nil, notExist(id)
}

// Logged reports every failed open on log, with the identifier attached.
func Logged(src resource.Source, log logrus.FieldLogger) resource.Source {
	return resource.SourceFunc(func(id resource.ID) (io.ReadCloser, error) {
		rc, err := src.Open(id)
		if err != nil {
			log.WithField("id", id).WithError(err).Debug("source open failed")
		}
		return rc, err
	})
}
