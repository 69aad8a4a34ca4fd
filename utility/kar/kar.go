// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package kar is an api for an lz4 backed file format.
// Its purpose is streaming resources straight out of an archive. It's
// designed to be memory mapped, so (unlike tar) it knows where all the
// files are located before they're read. The archive itself is not
// compressed, rather every file is individually compressed, so it can be
// read from its place and decompressed on the fly. This compromises
// space efficiency somewhat in favour of getting resources from disk to
// a usable state fast. An Archive can be read from concurrently.
//
// Layout:
//
//	magic      "KAR\x00"
//	header len 16 bytes, little endian int64 in the first 8
//	header     gob encoded Header
//	data       lz4 frames, one per file, offsets relative to here
package kar

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
)

// package errors
var (
	ErrFileFormat = errors.New("corrupted or not a kar archive")
	ErrTempFail   = errors.New("temporary folder or file operation failed")
	ErrNotExist   = fmt.Errorf("file not in archive: %w", fs.ErrNotExist)
)

// Sizes relevant to the header of file
const (
	MagicLength            = 4
	HeaderSizeNumberLength = 16
	PreambleLength         = MagicLength + HeaderSizeNumberLength

	// MaxHeaderLength bounds the encoded header Open will allocate for.
	MaxHeaderLength = 64 << 20
)

// FormatVersion is written into every archive the Builder makes.
const FormatVersion = 1

var magic = [MagicLength]byte{'K', 'A', 'R', '\x00'}

// IndexEntry is info for one file in the file index.
type IndexEntry struct {
	Name           string
	Offset         int64
	Size           int64
	CompressedSize int64
}

// Header is the file header for kar files.
type Header struct {
	Author      string
	DateCreated int64
	Version     int64
	Index       []IndexEntry
}

func int64ToBinary(num int64) []byte {
	buf := make([]byte, HeaderSizeNumberLength)
	binary.LittleEndian.PutUint64(buf, uint64(num))
	return buf
}

func binaryToint64(bts []byte) (int64, error) {
	if len(bts) < 8 {
		return 0, ErrFileFormat
	}
	return int64(binary.LittleEndian.Uint64(bts)), nil
}

func gobEncode(data interface{}) ([]byte, error) {
	var encoded bytes.Buffer
	enc := gob.NewEncoder(&encoded)
	if err := enc.Encode(data); err != nil {
		return nil, err
	}
	return encoded.Bytes(), nil
}

func gobDecode(obj interface{}, bts []byte) error {
	dec := gob.NewDecoder(bytes.NewBuffer(bts))
	return dec.Decode(obj)
}
