// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kar

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pierrec/lz4"
)

// Open opens the kar archived from r. It will also check
// if the file is actually a kar archive, will return an error
// when file incorrect.
func Open(r io.ReaderAt) (*Archive, error) {
	preamble := make([]byte, PreambleLength)
	if _, err := r.ReadAt(preamble, 0); err != nil {
		if err == io.EOF {
			return nil, ErrFileFormat
		}
		return nil, err
	}
	if !bytes.Equal(preamble[:MagicLength], magic[:]) {
		return nil, ErrFileFormat
	}

	headerSize, err := binaryToint64(preamble[MagicLength:])
	if err != nil || headerSize <= 0 || headerSize > MaxHeaderLength {
		return nil, ErrFileFormat
	}
	if size, ok := readerSize(r); ok && headerSize > size-PreambleLength {
		return nil, ErrFileFormat
	}

	headerBytes := make([]byte, headerSize)
	if num, err := r.ReadAt(headerBytes, PreambleLength); err != nil && !(err == io.EOF && int64(num) == headerSize) {
		return nil, ErrFileFormat
	}

	var header Header
	if err := gobDecode(&header, headerBytes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileFormat, err)
	}

	ar := &Archive{
		reader:    r,
		header:    header,
		dataStart: PreambleLength + headerSize,
		index:     make(map[string]int, len(header.Index)),
	}
	for i, e := range header.Index {
		ar.index[e.Name] = i
	}
	return ar, nil
}

// readerSize reports the length of r when it knows it, like
// bytes.Reader, io.SectionReader and mmap.ReaderAt do.
func readerSize(r io.ReaderAt) (int64, bool) {
	switch s := r.(type) {
	case interface{ Size() int64 }:
		return s.Size(), true
	case interface{ Len() int }:
		return int64(s.Len()), true
	}
	return 0, false
}

// Archive provides concurrent io for a kar file, and can provide
// an io.Reader for each file separately to perform actions on.
type Archive struct {
	reader    io.ReaderAt
	header    Header
	dataStart int64
	index     map[string]int
}

// Header returns the archive header, index included.
func (a *Archive) Header() Header {
	return a.header
}

// Entries lists the files in the order they were added.
func (a *Archive) Entries() []IndexEntry {
	return append([]IndexEntry(nil), a.header.Index...)
}

// Has reports whether the archive holds a file with that name.
func (a *Archive) Has(name string) bool {
	_, ok := a.index[name]
	return ok
}

// ReadAll returns the entire contents of a file with a given name
func (a *Archive) ReadAll(name string) ([]byte, error) {
	f, err := a.Open(name)
	if err != nil {
		return nil, err
	}
	buf := bytes.NewBuffer(make([]byte, 0, f.Size()))
	if _, err := io.Copy(buf, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Open returns a Reader for a file in the Archive
func (a *Archive) Open(name string) (*Reader, error) {
	i, ok := a.index[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotExist)
	}
	e := a.header.Index[i]
	section := io.NewSectionReader(a.reader, a.dataStart+e.Offset, e.CompressedSize)
	return &Reader{
		entry: e,
		lz4:   lz4.NewReader(section),
	}, nil
}

// Reader is a reader for a single file in an Archive.
// Abstracts away the location that needs to be known.
type Reader struct {
	entry IndexEntry
	lz4   *lz4.Reader
}

// Read reads already decompressed data
func (r *Reader) Read(p []byte) (n int, err error) {
	return r.lz4.Read(p)
}

// Size is the decompressed size of the file.
func (r *Reader) Size() int64 {
	return r.entry.Size
}

// Name is the name the file was archived under.
func (r *Reader) Name() string {
	return r.entry.Name
}
