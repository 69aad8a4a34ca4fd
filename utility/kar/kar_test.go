// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kar_test

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/mmap"

	"github.com/devblok/kres/utility/kar"
)

var (
	testString1 = "idunvovkjnreovmegihjbrqlkmfrjnb"
	testString2 = "idunvovkjnreovmsdvwrvnervnreegihjbrqlkmfrjnb"
)

func buildArchive(t testing.TB, files map[string]string) []byte {
	builder, err := kar.NewBuilder(kar.Header{
		Author:      "devblok",
		DateCreated: time.Now().Unix(),
	})
	require.NoError(t, err)
	defer builder.Close()

	for name, content := range files {
		require.NoError(t, builder.Add(name, strings.NewReader(content)))
	}

	var buf bytes.Buffer
	_, err = builder.WriteTo(&buf)
	require.NoError(t, err)
	return buf.Bytes()
}

func TestCreateAndRead(t *testing.T) {
	data := buildArchive(t, map[string]string{"test": testString1, "test2": testString2})

	ar, err := kar.Open(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "devblok", ar.Header().Author)
	assert.Len(t, ar.Entries(), 2)
	assert.True(t, ar.Has("test2"))
	assert.False(t, ar.Has("test3"))

	f, err := ar.Open("test")
	require.NoError(t, err)
	assert.EqualValues(t, len(testString1), f.Size())
	assert.Equal(t, "test", f.Name())

	result, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, testString1, string(result))
}

func TestCreateAndReadAll(t *testing.T) {
	data := buildArchive(t, map[string]string{"test": testString1, "test2": testString2})

	ar, err := kar.Open(bytes.NewReader(data))
	require.NoError(t, err)

	f, err := ar.ReadAll("test2")
	require.NoError(t, err)
	assert.Equal(t, testString2, string(f))

	_, err = ar.ReadAll("nope")
	assert.ErrorIs(t, err, kar.ErrNotExist)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestEmptyFile(t *testing.T) {
	data := buildArchive(t, map[string]string{"empty": ""})

	ar, err := kar.Open(bytes.NewReader(data))
	require.NoError(t, err)
	f, err := ar.ReadAll("empty")
	require.NoError(t, err)
	assert.Empty(t, f)
}

func TestOpenRejectsGarbage(t *testing.T) {
	_, err := kar.Open(bytes.NewReader([]byte("PK\x03\x04 definitely a zip file")))
	assert.ErrorIs(t, err, kar.ErrFileFormat)

	_, err = kar.Open(bytes.NewReader([]byte("KAR")))
	assert.ErrorIs(t, err, kar.ErrFileFormat)

	data := buildArchive(t, map[string]string{"test": testString1})
	_, err = kar.Open(bytes.NewReader(data[:kar.PreambleLength+3]))
	assert.ErrorIs(t, err, kar.ErrFileFormat)
}

// sizeless hides the Size method of the reader it wraps.
type sizeless struct {
	r io.ReaderAt
}

func (s sizeless) ReadAt(p []byte, off int64) (int, error) {
	return s.r.ReadAt(p, off)
}

func preamble(headerSize int64) []byte {
	data := make([]byte, kar.PreambleLength, kar.PreambleLength+8)
	copy(data, "KAR\x00")
	binary.LittleEndian.PutUint64(data[kar.MagicLength:], uint64(headerSize))
	return append(data, "trailing"...)
}

func TestOpenRejectsHeaderSize(t *testing.T) {
	for _, size := range []int64{1 << 62, kar.MaxHeaderLength + 1, -1} {
		_, err := kar.Open(bytes.NewReader(preamble(size)))
		assert.ErrorIs(t, err, kar.ErrFileFormat, size)

		_, err = kar.Open(sizeless{bytes.NewReader(preamble(size))})
		assert.ErrorIs(t, err, kar.ErrFileFormat, size)
	}

	// larger than the file, but small enough to read and fail
	_, err := kar.Open(bytes.NewReader(preamble(64)))
	assert.ErrorIs(t, err, kar.ErrFileFormat)
	_, err = kar.Open(sizeless{bytes.NewReader(preamble(64))})
	assert.ErrorIs(t, err, kar.ErrFileFormat)
}

func TestOpenmmap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opentest.kar")
	data := buildArchive(t, map[string]string{
		"test/test1.txt": "this is a test",
		"test/test2.txt": "this is another test",
	})
	require.NoError(t, os.WriteFile(path, data, 0644))

	r, err := mmap.Open(path)
	require.NoError(t, err)
	defer r.Close()

	ar, err := kar.Open(r)
	require.NoError(t, err)

	f, err := ar.ReadAll("test/test1.txt")
	require.NoError(t, err)
	assert.Equal(t, "this is a test", string(f))

	f, err = ar.ReadAll("test/test2.txt")
	require.NoError(t, err)
	assert.Equal(t, "this is another test", string(f))
}

func TestConcurrentReads(t *testing.T) {
	files := make(map[string]string)
	for i := 0; i < 16; i++ {
		files[fmt.Sprintf("file%d", i)] = strings.Repeat(fmt.Sprintf("%d-", i), 1000)
	}
	ar, err := kar.Open(bytes.NewReader(buildArchive(t, files)))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for name, content := range files {
		wg.Add(1)
		go func(name, content string) {
			defer wg.Done()
			got, err := ar.ReadAll(name)
			assert.NoError(t, err)
			assert.Equal(t, content, string(got))
		}(name, content)
	}
	wg.Wait()
}

func BenchmarkReadAll(b *testing.B) {
	payload := strings.Repeat("kres streams resources ", 4096)
	ar, err := kar.Open(bytes.NewReader(buildArchive(b, map[string]string{"bench": payload})))
	require.NoError(b, err)

	b.SetBytes(int64(len(payload)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ar.ReadAll("bench"); err != nil {
			b.Fatal(err)
		}
	}
}
