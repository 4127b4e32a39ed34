package camera

import (
	"fmt"
	"strings"
)

// Camera is the high-level interface used by the rest of the application.
// It represents the sensor that rides on the stage, regardless of how it
// is driven (MMAL, V4L2, a vendor SDK or a simulation).
type Camera interface {
	// CaptureRaw returns the full-resolution raw mosaic at the given shutter.
	CaptureRaw(channel Channel, shutterUs int) (*SensorFrame, error)
	// CaptureQuick returns the peak intensity of a cheap low-resolution
	// capture, scaled to the raw bit depth.
	CaptureQuick(shutterUs int) (int, error)
	// Geometry returns the sensor constants.
	Geometry() Geometry
}

// Channel selects which colour plane the frame processor extracts.
type Channel int

const (
	Red Channel = iota
	Green
	Blue
	Interpolated // red plane demosaiced to full resolution
)

func (c Channel) String() string {
	switch c {
	case Red:
		return "red"
	case Green:
		return "green"
	case Blue:
		return "blue"
	case Interpolated:
		return "interpolated"
	}
	return fmt.Sprintf("channel(%d)", int(c))
}

// Site returns the Bayer site letter sampled by c ('R', 'G' or 'B').
func (c Channel) Site() byte {
	switch c {
	case Green:
		return 'G'
	case Blue:
		return 'B'
	}
	return 'R'
}

// ParseChannel converts a configuration string into a Channel.
func ParseChannel(s string) (Channel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "red", "r":
		return Red, nil
	case "green", "g":
		return Green, nil
	case "blue", "b":
		return Blue, nil
	case "interpolated", "interp":
		return Interpolated, nil
	}
	return Red, fmt.Errorf("unknown channel %q", s)
}

// Geometry holds the fixed physical constants of a sensor.
type Geometry struct {
	WidthPx      int     // raw mosaic width
	HeightPx     int     // raw mosaic height
	WidthMm      float64 // active area width
	HeightMm     float64 // active area height
	MinShutterUs int
	BayerOrder   string // 2x2 pattern read row by row, e.g. "BGGR"
	BitDepth     int
}

// GeometryV1 returns the constants of the OmniVision OV5647 (Pi camera v1).
func GeometryV1() Geometry {
	return Geometry{
		WidthPx:      2592,
		HeightPx:     1944,
		WidthMm:      3.67,
		HeightMm:     2.74,
		MinShutterUs: 12,
		BayerOrder:   "BGGR",
		BitDepth:     10,
	}
}

// GeometryV2 returns the constants of the Sony IMX219 (Pi camera v2).
func GeometryV2() Geometry {
	return Geometry{
		WidthPx:      3280,
		HeightPx:     2464,
		WidthMm:      3.68,
		HeightMm:     2.76,
		MinShutterUs: 9,
		BayerOrder:   "BGGR",
		BitDepth:     10,
	}
}

// MaxValue is the largest sample value the sensor can report.
func (g Geometry) MaxValue() int {
	return 1<<g.BitDepth - 1
}

// PixelPitchMm returns the raw pixel pitch along x and y.
func (g Geometry) PixelPitchMm() (float64, float64) {
	return g.WidthMm / float64(g.WidthPx), g.HeightMm / float64(g.HeightPx)
}

// SensorFrame is one raw capture. Pix is row-major, Width*Height samples.
type SensorFrame struct {
	Width      int
	Height     int
	Pix        []uint16
	BayerOrder string
	ShutterUs  int
	Channel    Channel
}

// At returns the sample at column x, row y.
func (f *SensorFrame) At(x, y int) uint16 {
	return f.Pix[y*f.Width+x]
}

// SiteAt returns the Bayer site letter of the pixel at column x, row y.
func (f *SensorFrame) SiteAt(x, y int) byte {
	return SiteAt(f.BayerOrder, x, y)
}

// SiteAt returns the site letter at (x, y) for a 2x2 pattern such as "BGGR".
func SiteAt(order string, x, y int) byte {
	return order[(y%2)*2+x%2]
}

// SiteOffset returns the (column, row) offset of the first occurrence of
// site in the 2x2 pattern.
func SiteOffset(order string, site byte) (int, int, error) {
	if len(order) != 4 {
		return 0, 0, fmt.Errorf("bayer order %q must have 4 sites", order)
	}
	i := strings.IndexByte(strings.ToUpper(order), site)
	if i < 0 {
		return 0, 0, fmt.Errorf("bayer order %q has no %c site", order, site)
	}
	return i % 2, i / 2, nil
}
