// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package texture implements the texture resource: a decoded image kept
// as a mip chain, where every mip level is one quality level. The
// largest levels are discardable and are streamed back in on demand.
package texture

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io"
	"sync"

	_ "golang.org/x/image/bmp" // register decoder
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff" // register decoder
	_ "golang.org/x/image/webp" // register decoder

	"github.com/devblok/kres/resource"
)

// MaxLevels caps the mip chain length.
const MaxLevels = 16

// Fallback identifiers registered by RegisterFallbacks
const (
	MissingID = "tex://kres/missing"
	LoadingID = "tex://kres/loading"
)

// Kind is the resource kind of textures.
var Kind = resource.Kind[*Texture]{
	Name:     "texture",
	New:      func(resource.ID) *Texture { return &Texture{} },
	Priority: 1,
}

// ErrNoImage is returned for a descriptor that is not an image.Image.
var ErrNoImage = errors.New("texture descriptor is not an image")

// Texture is a mip mapped RGBA image. Level 0 is the largest level
// that is resident right now.
type Texture struct {
	resource.Base

	mu     sync.RWMutex
	format string
	levels []*image.RGBA
	total  int
}

// UpdateContent decodes any registered image format and rebuilds the
// full mip chain.
func (t *Texture) UpdateContent(stream io.Reader) resource.LoadDescriptor {
	if stream == nil {
		return resource.Missing(errors.New("texture has no data"))
	}
	img, format, err := image.Decode(stream)
	if err != nil {
		return resource.Missing(fmt.Errorf("decoding %s: %w", t.ID(), err))
	}
	return t.set(img, format)
}

// CreateFromDescriptor builds the texture from an image.Image.
func (t *Texture) CreateFromDescriptor(desc any) resource.LoadDescriptor {
	img, ok := desc.(image.Image)
	if !ok {
		return resource.Missing(ErrNoImage)
	}
	return t.set(img, "memory")
}

func (t *Texture) set(img image.Image, format string) resource.LoadDescriptor {
	if img.Bounds().Empty() {
		return resource.Missing(fmt.Errorf("%s is an empty image", t.ID()))
	}
	levels := MipChain(img)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.format = format
	t.levels = levels
	t.total = len(levels)
	return resource.LoadedLevels(len(levels), len(levels))
}

// UnloadData drops the largest half of the resident levels when scope
// is UnloadDiscardable, the smallest level always stays.
func (t *Texture) UnloadData(scope resource.UnloadScope) resource.LoadDescriptor {
	t.mu.Lock()
	defer t.mu.Unlock()
	if scope == resource.UnloadDiscardable && t.total > 0 {
		if drop := len(t.levels) / 2; drop > 0 {
			for i := 0; i < drop; i++ {
				t.levels[i] = nil
			}
			t.levels = t.levels[drop:]
		}
		return resource.LoadedLevels(len(t.levels), t.total)
	}
	t.levels = nil
	t.total = 0
	return resource.LoadDescriptor{State: resource.Unloaded}
}

// MemoryUsage counts the pixel memory of the resident levels.
func (t *Texture) MemoryUsage() resource.MemoryUsage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var u resource.MemoryUsage
	for _, l := range t.levels {
		u.CPU += int64(len(l.Pix))
	}
	return u
}

// Format is the name of the format the texture was decoded from.
func (t *Texture) Format() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.format
}

// Levels returns how many mip levels are resident.
func (t *Texture) Levels() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.levels)
}

// Level returns resident mip level i, 0 being the largest. It
// returns nil when the level is not resident.
func (t *Texture) Level(i int) *image.RGBA {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i < 0 || i >= len(t.levels) {
		return nil
	}
	return t.levels[i]
}

// Size returns the dimensions of the largest resident level.
func (t *Texture) Size() image.Point {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.levels) == 0 {
		return image.Point{}
	}
	return t.levels[0].Bounds().Size()
}

// MipChain scales img down by halves until a 1x1 level or MaxLevels.
func MipChain(img image.Image) []*image.RGBA {
	first := image.NewRGBA(image.Rect(0, 0, img.Bounds().Dx(), img.Bounds().Dy()))
	draw.Draw(first, first.Bounds(), img, img.Bounds().Min, draw.Src)

	levels := []*image.RGBA{first}
	for len(levels) < MaxLevels {
		prev := levels[len(levels)-1]
		size := prev.Bounds().Size()
		if size.X == 1 && size.Y == 1 {
			break
		}
		next := image.NewRGBA(image.Rect(0, 0, max(1, size.X/2), max(1, size.Y/2)))
		draw.BiLinear.Scale(next, next.Bounds(), prev, prev.Bounds(), draw.Src, nil)
		levels = append(levels, next)
	}
	return levels
}

// GetPixels transforms a given image into right arrangement of pixels
// by drawing it onto an RGBA canvas. Rows are rowPitch bytes apart when
// rowPitch fits a row, tightly packed otherwise.
func GetPixels(img image.Image, rowPitch int) []uint8 {
	b := img.Bounds()
	if rowPitch < 4*b.Dx() {
		rowPitch = 4 * b.Dx()
	}
	canvas := &image.RGBA{
		Pix:    make([]uint8, rowPitch*b.Dy()),
		Stride: rowPitch,
		Rect:   image.Rect(0, 0, b.Dx(), b.Dy()),
	}
	draw.Draw(canvas, canvas.Bounds(), img, b.Min, draw.Src)
	return canvas.Pix
}

// Checkerboard draws a size x size board of cell sized squares.
func Checkerboard(size, cell int, a, b color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if (x/cell+y/cell)%2 == 0 {
				img.Set(x, y, a)
			} else {
				img.Set(x, y, b)
			}
		}
	}
	return img
}

// RegisterFallbacks creates the missing and loading textures of reg and
// registers them as the texture fallbacks.
func RegisterFallbacks(reg *resource.Registry) error {
	magenta := color.RGBA{R: 0xff, B: 0xff, A: 0xff}
	grey := color.RGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xff}

	for _, fb := range []struct {
		id      string
		purpose resource.FallbackPurpose
		img     image.Image
	}{
		{MissingID, resource.FallbackMissing, Checkerboard(64, 8, magenta, color.Black)},
		{LoadingID, resource.FallbackLoading, Checkerboard(4, 4, grey, grey)},
	} {
		h, err := resource.Create(reg, Kind, fb.id, fb.img)
		if err != nil {
			return err
		}
		if h.State() != resource.Loaded {
			h.Release()
			return fmt.Errorf("fallback %s did not load", fb.id)
		}
		resource.SetFallback(reg, Kind, fb.purpose, h)
		h.Release()
	}
	return nil
}
