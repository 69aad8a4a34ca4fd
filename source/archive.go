// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package source

import (
	"io"

	"golang.org/x/exp/mmap"

	"github.com/devblok/kres/resource"
	"github.com/devblok/kres/utility/kar"
)

// Archive serves identifiers out of a memory mapped kar archive.
// Entries are matched by their normalized names.
type Archive struct {
	mapped  *mmap.ReaderAt
	archive *kar.Archive
	names   map[string]string
}

// OpenArchive maps the kar archive at path.
func OpenArchive(path string) (*Archive, error) {
	mapped, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	archive, err := kar.Open(mapped)
	if err != nil {
		mapped.Close()
		return nil, err
	}

	a := &Archive{
		mapped:  mapped,
		archive: archive,
		names:   make(map[string]string),
	}
	for _, e := range archive.Entries() {
		a.names[resource.NormalizeID(e.Name).Path()] = e.Name
	}
	return a, nil
}

// Open implements resource.Source
func (a *Archive) Open(id resource.ID) (io.ReadCloser, error) {
	name, ok := a.names[id.Path()]
	if !ok {
		return nil, notExist(id)
	}
	r, err := a.archive.Open(name)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(r), nil
}

// Entries lists the archived files.
func (a *Archive) Entries() []kar.IndexEntry {
	return a.archive.Entries()
}

// Close unmaps the archive. Streams opened from it must be done by then.
func (a *Archive) Close() error {
	return a.mapped.Close()
}
