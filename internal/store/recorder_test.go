package store

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/astrogo/fitsio"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/BeamGo/internal/hw/camera"
	"github.com/cjeanneret/BeamGo/internal/logic/frame"
	"github.com/cjeanneret/BeamGo/internal/logic/geometry"
)

func testRecord(id uuid.UUID, index int) Record {
	img := frame.NewImage(4, 3)
	for i := range img.Pix {
		img.Pix[i] = int32(i) - 2
	}
	return Record{
		ScanID:     id,
		Index:      index,
		PositionMm: 0.15 * float64(index),
		Frame: &frame.Processed{
			Cropped:   img,
			ROI:       geometry.ROI{XMin: 0.1, XMax: 0.5, YMin: 0.2, YMax: 0.4},
			ShutterUs: 4840,
			Channel:   camera.Red,
		},
	}
}

func TestRecorder_SaveIncrementsFileNames(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "scans")
	r, err := NewRecorder(dir)
	require.NoError(t, err)

	id := uuid.New()
	p1, err := r.Save(testRecord(id, 0))
	require.NoError(t, err)
	p2, err := r.Save(testRecord(id, 1))
	require.NoError(t, err)

	prefix := id.String()[:8]
	assert.Equal(t, filepath.Join(dir, prefix+"-0000.fits"), p1)
	assert.Equal(t, filepath.Join(dir, prefix+"-0001.fits"), p2)

	data, err := os.ReadFile(p1)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "SIMPLE"), "not a FITS file")
	assert.Zero(t, len(data)%2880, "FITS files are written in 2880-byte blocks")
}

func TestRecorder_RejectsEmptyFrame(t *testing.T) {
	r, err := NewRecorder(t.TempDir())
	require.NoError(t, err)
	_, err = r.Save(Record{ScanID: uuid.New()})
	assert.Error(t, err)
}

func TestWriteFITS_Header(t *testing.T) {
	id := uuid.New()
	var buf bytes.Buffer
	require.NoError(t, WriteFITS(&buf, testRecord(id, 3)))

	f, err := fitsio.Open(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	hdr := f.HDU(0).Header()
	card := hdr.Get("SCANID")
	require.NotNil(t, card)
	assert.Equal(t, id.String(), card.Value)
	assert.Equal(t, 32, hdr.Bitpix())
	assert.Equal(t, []int{4, 3}, hdr.Axes())
}
