// Package imaging provides the in-memory raster types used for every artifact of a
// case: 16-bit label images for signal and cell masks, and 8-bit RGB images for the
// raw, cleaned and overlay pictures. It also handles decoding of source images and
// TIFF persistence of artifacts.
package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// ErrNotSingleChannel is returned when a label image is requested from a color source.
var ErrNotSingleChannel = errors.New("image is not single-channel")

// Raster is implemented by Label and RGB.
type Raster interface {
	// Size returns the width and height in pixels.
	Size() (width, height int)

	// Channels returns 1 for label images and 3 for color images.
	Channels() int

	// Valid reports whether the pixel buffer matches the declared dimensions.
	Valid() bool

	// ToImage converts the raster into a standard library image for encoding.
	ToImage() image.Image
}

// Label is a single-channel 16-bit image stored in row-major order.
// Signal masks use 0 for background and 65535 for signal; cell masks use one
// integer id per cell with 0 as background.
type Label struct {
	Pix    []uint16
	Width  int
	Height int
}

// NewLabel allocates a zeroed label image.
func NewLabel(width, height int) *Label {
	return &Label{
		Pix:    make([]uint16, width*height),
		Width:  width,
		Height: height,
	}
}

// Size implements Raster.
func (l *Label) Size() (int, int) { return l.Width, l.Height }

// Channels implements Raster.
func (l *Label) Channels() int { return 1 }

// Valid implements Raster.
func (l *Label) Valid() bool {
	return l != nil && l.Width > 0 && l.Height > 0 && len(l.Pix) == l.Width*l.Height
}

// At returns the value at column x, row y.
func (l *Label) At(x, y int) uint16 {
	return l.Pix[y*l.Width+x]
}

// Set writes the value at column x, row y.
func (l *Label) Set(x, y int, v uint16) {
	l.Pix[y*l.Width+x] = v
}

// Clone returns a deep copy.
func (l *Label) Clone() *Label {
	pix := make([]uint16, len(l.Pix))
	copy(pix, l.Pix)
	return &Label{Pix: pix, Width: l.Width, Height: l.Height}
}

// Max returns the largest value in the image.
func (l *Label) Max() uint16 {
	var m uint16
	for _, v := range l.Pix {
		if v > m {
			m = v
		}
	}
	return m
}

// Crop copies the rectangle r (clamped to the image) into a new label image.
func (l *Label) Crop(r image.Rectangle) *Label {
	r = r.Intersect(image.Rect(0, 0, l.Width, l.Height))
	out := NewLabel(r.Dx(), r.Dy())
	for y := 0; y < out.Height; y++ {
		src := (r.Min.Y+y)*l.Width + r.Min.X
		copy(out.Pix[y*out.Width:(y+1)*out.Width], l.Pix[src:src+out.Width])
	}
	return out
}

// ToImage implements Raster.
func (l *Label) ToImage() image.Image {
	img := image.NewGray16(image.Rect(0, 0, l.Width, l.Height))
	for y := 0; y < l.Height; y++ {
		for x := 0; x < l.Width; x++ {
			img.SetGray16(x, y, color.Gray16{Y: l.Pix[y*l.Width+x]})
		}
	}
	return img
}

// LabelFromImage converts a decoded grayscale image into a Label.
// 8-bit gray sources are widened without rescaling so that label ids survive.
func LabelFromImage(img image.Image) (*Label, error) {
	b := img.Bounds()
	out := NewLabel(b.Dx(), b.Dy())

	switch src := img.(type) {
	case *image.Gray16:
		for y := 0; y < out.Height; y++ {
			for x := 0; x < out.Width; x++ {
				out.Pix[y*out.Width+x] = src.Gray16At(b.Min.X+x, b.Min.Y+y).Y
			}
		}
	case *image.Gray:
		for y := 0; y < out.Height; y++ {
			for x := 0; x < out.Width; x++ {
				out.Pix[y*out.Width+x] = uint16(src.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
	default:
		return nil, fmt.Errorf("%w: got %T", ErrNotSingleChannel, img)
	}

	return out, nil
}

// RGB is a 3-channel 8-bit image stored as interleaved R, G, B bytes.
type RGB struct {
	Pix    []uint8
	Width  int
	Height int
}

// NewRGB allocates a black RGB image.
func NewRGB(width, height int) *RGB {
	return &RGB{
		Pix:    make([]uint8, width*height*3),
		Width:  width,
		Height: height,
	}
}

// Size implements Raster.
func (m *RGB) Size() (int, int) { return m.Width, m.Height }

// Channels implements Raster.
func (m *RGB) Channels() int { return 3 }

// Valid implements Raster.
func (m *RGB) Valid() bool {
	return m != nil && m.Width > 0 && m.Height > 0 && len(m.Pix) == m.Width*m.Height*3
}

// At returns the three channels at column x, row y.
func (m *RGB) At(x, y int) (r, g, b uint8) {
	i := (y*m.Width + x) * 3
	return m.Pix[i], m.Pix[i+1], m.Pix[i+2]
}

// Set writes the three channels at column x, row y.
func (m *RGB) Set(x, y int, r, g, b uint8) {
	i := (y*m.Width + x) * 3
	m.Pix[i] = r
	m.Pix[i+1] = g
	m.Pix[i+2] = b
}

// Clone returns a deep copy.
func (m *RGB) Clone() *RGB {
	pix := make([]uint8, len(m.Pix))
	copy(pix, m.Pix)
	return &RGB{Pix: pix, Width: m.Width, Height: m.Height}
}

// Crop copies the rectangle r (clamped to the image) into a new RGB image.
func (m *RGB) Crop(r image.Rectangle) *RGB {
	r = r.Intersect(image.Rect(0, 0, m.Width, m.Height))
	out := NewRGB(r.Dx(), r.Dy())
	for y := 0; y < out.Height; y++ {
		src := ((r.Min.Y+y)*m.Width + r.Min.X) * 3
		copy(out.Pix[y*out.Width*3:(y+1)*out.Width*3], m.Pix[src:src+out.Width*3])
	}
	return out
}

// ToImage implements Raster. The image is NRGBA with every pixel opaque, since
// the TIFF encoder has no 3-sample RGB layout; RGBFromImage drops the alpha
// again on load.
func (m *RGB) ToImage() image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, m.Width, m.Height))
	for p := 0; p < m.Width*m.Height; p++ {
		img.Pix[p*4] = m.Pix[p*3]
		img.Pix[p*4+1] = m.Pix[p*3+1]
		img.Pix[p*4+2] = m.Pix[p*3+2]
		img.Pix[p*4+3] = 0xff
	}
	return img
}

// RGBFromImage converts any decoded image into an RGB raster. Alpha is dropped,
// 16-bit channels keep their high byte and gray sources are replicated.
func RGBFromImage(img image.Image) *RGB {
	b := img.Bounds()
	out := NewRGB(b.Dx(), b.Dy())

	switch src := img.(type) {
	case *image.NRGBA:
		for y := 0; y < out.Height; y++ {
			for x := 0; x < out.Width; x++ {
				i := src.PixOffset(b.Min.X+x, b.Min.Y+y)
				out.Set(x, y, src.Pix[i], src.Pix[i+1], src.Pix[i+2])
			}
		}
	case *image.Gray:
		for y := 0; y < out.Height; y++ {
			for x := 0; x < out.Width; x++ {
				v := src.GrayAt(b.Min.X+x, b.Min.Y+y).Y
				out.Set(x, y, v, v, v)
			}
		}
	default:
		for y := 0; y < out.Height; y++ {
			for x := 0; x < out.Width; x++ {
				c := color.NRGBA64Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA64)
				out.Set(x, y, uint8(c.R>>8), uint8(c.G>>8), uint8(c.B>>8))
			}
		}
	}

	return out
}
