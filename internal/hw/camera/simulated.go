package camera

import (
	"math"
	"math/rand/v2"
	"sync"

	"github.com/cjeanneret/BeamGo/internal/debug"
)

// Beam describes the Gaussian beam rendered by the simulated camera.
type Beam struct {
	WaistUm    float64 // 1/e2 radius at focus
	RayleighMm float64
	FocusMm    float64 // stage position of the waist
	CenterXMm  float64 // beam centre on the sensor; 0 = sensor centre
	CenterYMm  float64
	PeakCounts float64 // peak sample value at RefShutterUs, at the waist
	RefShutter int     // shutter the peak refers to, us
	DarkCounts float64 // constant sensor offset
	Noise      float64 // gaussian read noise sigma, counts
	Seed       uint64
}

// WidthUm returns the 1/e2 radius at stage position zMm.
func (b Beam) WidthUm(zMm float64) float64 {
	u := (zMm - b.FocusMm) / b.RayleighMm
	return b.WaistUm * math.Sqrt(1+u*u)
}

// Simulated is a Camera that renders a laser beam crossing the sensor.
// The beam width follows the focusing model at the stage position reported
// by the position source; brightness scales with shutter and saturates at
// the bit depth. It serves mock mode and tests.
type Simulated struct {
	geom     Geometry
	beam     Beam
	position func() float64

	mu       sync.Mutex
	rng      *rand.Rand
	captures int
	quick    int
}

// NewSimulated creates a simulated camera. position returns the current
// stage position in mm; a nil position source pins the stage at the focus.
func NewSimulated(geom Geometry, beam Beam, position func() float64) *Simulated {
	if beam.RefShutter <= 0 {
		beam.RefShutter = 20000
	}
	if beam.RayleighMm <= 0 {
		beam.RayleighMm = 1
	}
	if beam.CenterXMm == 0 {
		beam.CenterXMm = geom.WidthMm / 2
	}
	if beam.CenterYMm == 0 {
		beam.CenterYMm = geom.HeightMm / 2
	}
	if position == nil {
		focus := beam.FocusMm
		position = func() float64 { return focus }
	}
	return &Simulated{
		geom:     geom,
		beam:     beam,
		position: position,
		rng:      rand.New(rand.NewPCG(beam.Seed, beam.Seed^0x9e3779b97f4a7c15)),
	}
}

func (s *Simulated) Geometry() Geometry {
	return s.geom
}

// Captures returns the number of full-resolution captures taken.
func (s *Simulated) Captures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captures
}

// QuickCaptures returns the number of quick captures taken.
func (s *Simulated) QuickCaptures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quick
}

// peak returns the unsaturated peak sample at the beam centre.
func (s *Simulated) peak(shutterUs int, zMm float64) float64 {
	w := s.beam.WidthUm(zMm)
	ratio := s.beam.WaistUm / w
	return s.beam.PeakCounts * float64(shutterUs) / float64(s.beam.RefShutter) * ratio * ratio
}

// siteWeight is the relative response of each Bayer site to a red laser.
func siteWeight(site byte) float64 {
	switch site {
	case 'R':
		return 1
	case 'G':
		return 0.08
	}
	return 0.02
}

func (s *Simulated) CaptureRaw(channel Channel, shutterUs int) (*SensorFrame, error) {
	z := s.position()
	g := s.geom
	full := float64(g.MaxValue())
	amp := s.peak(shutterUs, z)
	wMm := s.beam.WidthUm(z) / 1000
	pitchX, pitchY := g.PixelPitchMm()

	gx := make([]float64, g.WidthPx)
	for x := range gx {
		d := (float64(x)+0.5)*pitchX - s.beam.CenterXMm
		gx[x] = math.Exp(-2 * d * d / (wMm * wMm))
	}
	// Row 0 is the top of the sensor: highest y in sensor millimetres.
	gy := make([]float64, g.HeightPx)
	for y := range gy {
		d := g.HeightMm - (float64(y)+0.5)*pitchY - s.beam.CenterYMm
		gy[y] = math.Exp(-2 * d * d / (wMm * wMm))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.captures++

	pix := make([]uint16, g.WidthPx*g.HeightPx)
	for y := 0; y < g.HeightPx; y++ {
		row := pix[y*g.WidthPx : (y+1)*g.WidthPx]
		for x := range row {
			v := s.beam.DarkCounts + amp*siteWeight(SiteAt(g.BayerOrder, x, y))*gx[x]*gy[y]
			if s.beam.Noise > 0 {
				v += s.rng.NormFloat64() * s.beam.Noise
			}
			row[x] = uint16(math.Max(0, math.Min(full, math.Round(v))))
		}
	}

	debug.Live("Camera: simulated capture at z=%.4f mm, shutter=%d us, w=%.1f um", z, shutterUs, wMm*1000)
	return &SensorFrame{
		Width:      g.WidthPx,
		Height:     g.HeightPx,
		Pix:        pix,
		BayerOrder: g.BayerOrder,
		ShutterUs:  shutterUs,
		Channel:    channel,
	}, nil
}

// CaptureQuick mimics the 8-bit half-resolution preview: the peak is
// quantized to 8 bits and scaled back to the raw bit depth.
func (s *Simulated) CaptureQuick(shutterUs int) (int, error) {
	v := s.beam.DarkCounts + s.peak(shutterUs, s.position())
	v = math.Max(0, math.Min(float64(s.geom.MaxValue()), v))
	shift := s.geom.BitDepth - 8
	if shift < 0 {
		shift = 0
	}
	q := int(math.Round(v)) >> shift << shift

	s.mu.Lock()
	s.quick++
	s.mu.Unlock()

	debug.Verbose("Camera: quick capture shutter=%d us peak=%d", shutterUs, q)
	return q, nil
}
