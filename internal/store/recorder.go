// Package store persists processed frames, one FITS file per capture.
package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/astrogo/fitsio"
	"github.com/google/uuid"

	"github.com/cjeanneret/BeamGo/internal/debug"
	"github.com/cjeanneret/BeamGo/internal/logic/frame"
)

// Record is one frame to persist with its scan context.
type Record struct {
	ScanID     uuid.UUID
	Index      int // step index within the scan
	PositionMm float64
	Frame      *frame.Processed
}

// Recorder writes records as FITS files into a directory. File names are
// the first group of the scan ID followed by an increasing counter.
type Recorder struct {
	dir string

	mu   sync.Mutex
	next int
}

// NewRecorder creates dir if needed.
func NewRecorder(dir string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("image dir: %w", err)
	}
	return &Recorder{dir: dir}, nil
}

// Dir returns the output directory.
func (r *Recorder) Dir() string {
	return r.dir
}

// Save writes the cropped image of rec.Frame and returns the file path.
func (r *Recorder) Save(rec Record) (string, error) {
	if rec.Frame == nil || rec.Frame.Cropped == nil {
		return "", fmt.Errorf("save frame %d: no image", rec.Index)
	}
	r.mu.Lock()
	n := r.next
	r.next++
	r.mu.Unlock()

	name := fmt.Sprintf("%s-%04d.fits", rec.ScanID.String()[:8], n)
	path := filepath.Join(r.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("save frame %d: %w", rec.Index, err)
	}
	if err := WriteFITS(f, rec); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("save frame %d: %w", rec.Index, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("save frame %d: %w", rec.Index, err)
	}
	debug.Verbose("Store: frame %d at %.4f mm -> %s", rec.Index, rec.PositionMm, path)
	return path, nil
}

// Cards returns the header metadata of rec.
func Cards(rec Record) []fitsio.Card {
	p := rec.Frame
	return []fitsio.Card{
		{Name: "SCANID", Value: rec.ScanID.String(), Comment: "scan identifier"},
		{Name: "STEP", Value: rec.Index, Comment: "step index in scan"},
		{Name: "POSMM", Value: rec.PositionMm, Comment: "stage position [mm]"},
		{Name: "SHUTTER", Value: p.ShutterUs, Comment: "exposure [us]"},
		{Name: "CHANNEL", Value: p.Channel.String(), Comment: "colour plane"},
		{Name: "ROIXMIN", Value: p.ROI.XMin, Comment: "[mm]"},
		{Name: "ROIXMAX", Value: p.ROI.XMax, Comment: "[mm]"},
		{Name: "ROIYMIN", Value: p.ROI.YMin, Comment: "[mm]"},
		{Name: "ROIYMAX", Value: p.ROI.YMax, Comment: "[mm]"},
		{Name: "DARKSUB", Value: p.DarkSubtracted, Comment: "dark frame subtracted"},
	}
}

// WriteFITS streams rec as a single 32-bit integer image HDU to w.
func WriteFITS(w io.Writer, rec Record) error {
	img := rec.Frame.Cropped
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()

	im := fitsio.NewImage(32, []int{img.Width, img.Height})
	defer im.Close()
	if err := im.Header().Append(Cards(rec)...); err != nil {
		return err
	}
	if err := im.Write(img.Pix); err != nil {
		return err
	}
	return fits.Write(im)
}
