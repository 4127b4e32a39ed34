package frame

import (
	"github.com/cjeanneret/BeamGo/internal/fault"
	"github.com/cjeanneret/BeamGo/internal/hw/camera"
)

// Extract returns the colour plane selected by channel.
//
// Red, Green and Blue take every second sample starting at the channel's
// site in the Bayer pattern, which halves the resolution. Interpolated
// returns the red plane at full resolution.
func Extract(raw *camera.SensorFrame, channel camera.Channel) (*Image, error) {
	if raw == nil || raw.Width <= 0 || raw.Height <= 0 || len(raw.Pix) != raw.Width*raw.Height {
		return nil, fault.Hardwaref("malformed sensor frame")
	}
	if channel == camera.Interpolated {
		return demosaicRed(raw)
	}

	dx, dy, err := camera.SiteOffset(raw.BayerOrder, channel.Site())
	if err != nil {
		return nil, fault.Configf("%v", err)
	}
	w := (raw.Width - dx + 1) / 2
	h := (raw.Height - dy + 1) / 2
	img := NewImage(w, h)
	for y := 0; y < h; y++ {
		src := raw.Pix[(dy+2*y)*raw.Width:]
		row := img.Row(y)
		for x := range row {
			row[x] = int32(src[dx+2*x])
		}
	}
	return img, nil
}

// demosaicRed estimates the red value at every pixel as the mean of the red
// sites in its 3x3 neighbourhood.
func demosaicRed(raw *camera.SensorFrame) (*Image, error) {
	rx, ry, err := camera.SiteOffset(raw.BayerOrder, 'R')
	if err != nil {
		return nil, fault.Configf("%v", err)
	}
	isRed := func(x, y int) bool { return x%2 == rx && y%2 == ry }

	img := NewImage(raw.Width, raw.Height)
	for y := 0; y < raw.Height; y++ {
		row := img.Row(y)
		for x := range row {
			if isRed(x, y) {
				row[x] = int32(raw.At(x, y))
				continue
			}
			var sum, n int32
			for j := max(0, y-1); j <= min(raw.Height-1, y+1); j++ {
				for i := max(0, x-1); i <= min(raw.Width-1, x+1); i++ {
					if isRed(i, j) {
						sum += int32(raw.At(i, j))
						n++
					}
				}
			}
			if n > 0 {
				row[x] = (sum + n/2) / n
			}
		}
	}
	return img, nil
}
