package geometry

import (
	"errors"
	"testing"

	"github.com/cjeanneret/BeamGo/internal/fault"
)

func testMapper() PixelMapper {
	return PixelMapper{WidthMm: 2, HeightMm: 1, WidthPx: 200, HeightPx: 100}
}

func TestPixelMapper_Window(t *testing.T) {
	tests := []struct {
		name string
		roi  ROI
		want Window
	}{
		{"full_sensor", FullSensor(2, 1), Window{0, 200, 0, 100}},
		{"centre", ROI{XMin: 0.5, XMax: 1.5, YMin: 0.2, YMax: 0.6}, Window{50, 150, 40, 80}},
		{"top_left", ROI{XMin: 0, XMax: 0.1, YMin: 0.9, YMax: 1}, Window{0, 10, 0, 10}},
		{"clamped", ROI{XMin: -1, XMax: 5, YMin: -0.5, YMax: 0.5}, Window{0, 200, 50, 100}},
		{"sub_pixel_edges", ROI{XMin: 0.505, XMax: 0.515, YMin: 0, YMax: 1}, Window{50, 52, 0, 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := testMapper().Window(tt.roi)
			if err != nil {
				t.Fatalf("Window: %v", err)
			}
			if got != tt.want {
				t.Errorf("Window(%+v) = %+v, want %+v", tt.roi, got, tt.want)
			}
		})
	}
}

func TestPixelMapper_ReturnsClampedROI(t *testing.T) {
	_, c, err := testMapper().Window(ROI{XMin: -1, XMax: 5, YMin: 0.25, YMax: 3})
	if err != nil {
		t.Fatal(err)
	}
	want := ROI{XMin: 0, XMax: 2, YMin: 0.25, YMax: 1}
	if c != want {
		t.Errorf("clamped ROI = %+v, want %+v", c, want)
	}
}

func TestPixelMapper_EmptyROI(t *testing.T) {
	cases := map[string]ROI{
		"inverted_x":  {XMin: 1.5, XMax: 0.5, YMin: 0, YMax: 1},
		"zero_height": {XMin: 0, XMax: 1, YMin: 0.5, YMax: 0.5},
		"outside":     {XMin: 3, XMax: 4, YMin: 0, YMax: 1},
	}
	for name, roi := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := testMapper().Window(roi)
			if err == nil {
				t.Fatal("expected error for empty ROI")
			}
			if !errors.Is(err, fault.ErrConfiguration) {
				t.Errorf("error %v should be a configuration error", err)
			}
		})
	}
}

func TestWindowSize(t *testing.T) {
	w := Window{X0: 3, X1: 10, Y0: 2, Y1: 4}
	if w.Width() != 7 || w.Height() != 2 {
		t.Errorf("size = %dx%d, want 7x2", w.Width(), w.Height())
	}
}
