package frame

import (
	"fmt"

	"github.com/cjeanneret/BeamGo/internal/fault"
	"github.com/cjeanneret/BeamGo/internal/logic/geometry"
)

// Image is a signed 2-D intensity array, row-major, row 0 at the top.
// Samples are signed so that dark-frame residuals can go negative.
type Image struct {
	Width  int
	Height int
	Pix    []int32
}

// NewImage allocates a zeroed image.
func NewImage(width, height int) *Image {
	return &Image{Width: width, Height: height, Pix: make([]int32, width*height)}
}

// At returns the sample at column x, row y.
func (m *Image) At(x, y int) int32 {
	return m.Pix[y*m.Width+x]
}

// Set stores v at column x, row y.
func (m *Image) Set(x, y int, v int32) {
	m.Pix[y*m.Width+x] = v
}

// Row returns row y as a slice sharing the image storage.
func (m *Image) Row(y int) []int32 {
	return m.Pix[y*m.Width : (y+1)*m.Width]
}

// Clone returns a deep copy.
func (m *Image) Clone() *Image {
	c := &Image{Width: m.Width, Height: m.Height, Pix: make([]int32, len(m.Pix))}
	copy(c.Pix, m.Pix)
	return c
}

// Max returns the largest sample.
func (m *Image) Max() int32 {
	if len(m.Pix) == 0 {
		return 0
	}
	best := m.Pix[0]
	for _, v := range m.Pix[1:] {
		if v > best {
			best = v
		}
	}
	return best
}

// SameShape reports whether o has the same dimensions as m.
func (m *Image) SameShape(o *Image) bool {
	return m.Width == o.Width && m.Height == o.Height
}

// Crop copies the pixels inside w into a new image.
func (m *Image) Crop(w geometry.Window) (*Image, error) {
	if w.X0 < 0 || w.Y0 < 0 || w.X1 > m.Width || w.Y1 > m.Height || w.Width() <= 0 || w.Height() <= 0 {
		return nil, fault.Configf("crop window %+v outside %dx%d image", w, m.Width, m.Height)
	}
	c := NewImage(w.Width(), w.Height())
	for y := 0; y < c.Height; y++ {
		copy(c.Row(y), m.Row(w.Y0 + y)[w.X0:w.X1])
	}
	return c, nil
}

// Subtract removes o from m in place.
func (m *Image) Subtract(o *Image) error {
	if !m.SameShape(o) {
		return fmt.Errorf("image %dx%d minus %dx%d: %w", m.Width, m.Height, o.Width, o.Height, fault.ErrConfiguration)
	}
	for i, v := range o.Pix {
		m.Pix[i] -= v
	}
	return nil
}
