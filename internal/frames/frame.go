// Package frames holds decoded video frames and the sources that produce them.
package frames

import (
	"context"
	"fmt"
	"image"
	"image/color"
)

// Channels is the number of colour channels in a decoded frame (RGB24).
const Channels = 3

// Frame is a single decoded RGB raster. Pix holds Height rows of Width*3
// bytes in R, G, B order.
type Frame struct {
	Index  int
	Width  int
	Height int
	Pix    []uint8
}

// New allocates a zeroed frame.
func New(index, width, height int) Frame {
	return Frame{
		Index:  index,
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*Channels),
	}
}

// Solid returns a frame filled with a single colour.
func Solid(index, width, height int, c color.RGBA) Frame {
	f := New(index, width, height)
	for i := 0; i < len(f.Pix); i += Channels {
		f.Pix[i] = c.R
		f.Pix[i+1] = c.G
		f.Pix[i+2] = c.B
	}
	return f
}

// Validate checks that the pixel buffer matches the frame dimensions.
func (f Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("frame %d: invalid size %dx%d", f.Index, f.Width, f.Height)
	}
	if want := f.Width * f.Height * Channels; len(f.Pix) != want {
		return fmt.Errorf("frame %d: pixel buffer is %d bytes, want %d", f.Index, len(f.Pix), want)
	}
	return nil
}

// RGB returns the colour at (x, y).
func (f Frame) RGB(x, y int) (r, g, b uint8) {
	i := (y*f.Width + x) * Channels
	return f.Pix[i], f.Pix[i+1], f.Pix[i+2]
}

// Set writes the colour at (x, y).
func (f Frame) Set(x, y int, c color.RGBA) {
	i := (y*f.Width + x) * Channels
	f.Pix[i], f.Pix[i+1], f.Pix[i+2] = c.R, c.G, c.B
}

// Image converts the frame to an opaque NRGBA image.
func (f Frame) Image() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, f.Width, f.Height))
	for p, q := 0, 0; p < len(f.Pix); p, q = p+Channels, q+4 {
		img.Pix[q] = f.Pix[p]
		img.Pix[q+1] = f.Pix[p+1]
		img.Pix[q+2] = f.Pix[p+2]
		img.Pix[q+3] = 0xff
	}
	return img
}

// FromImage converts any image to a frame, dropping alpha.
func FromImage(index int, img image.Image) Frame {
	b := img.Bounds()
	f := New(index, b.Dx(), b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			f.Set(x-b.Min.X, y-b.Min.Y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff})
		}
	}
	return f
}

// Source produces frames in temporal order, starting at index 0. Frames
// calls fn once per frame and stops at the first error fn returns. A source
// may be iterated more than once and must yield the same frames each time.
type Source interface {
	Frames(ctx context.Context, fn func(Frame) error) error
}

// SliceSource serves frames already held in memory.
type SliceSource []Frame

// Frames implements Source.
func (s SliceSource) Frames(ctx context.Context, fn func(Frame) error) error {
	for i, f := range s {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.Index != i {
			return fmt.Errorf("frame at position %d has index %d", i, f.Index)
		}
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}
