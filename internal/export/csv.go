// Package export writes scan results as CSV: one row per scan point and a
// summary of the focusing-curve fit of each axis.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/cjeanneret/BeamGo/internal/debug"
	"github.com/cjeanneret/BeamGo/internal/logic/fit"
	"github.com/cjeanneret/BeamGo/internal/logic/scan"
)

// ScanHeader names the columns of the scan CSV.
var ScanHeader = []string{"position_mm", "width_x_um", "width_x_err_um", "width_y_um", "width_y_err_um"}

// FocusHeader names the columns of the parameter and error rows of the
// focus summary.
var FocusHeader = []string{"1/e2 radius (micron)", "Rayleigh range (mm)", "Position of center (mm)"}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// WriteScanCSV writes a header then one row per point, sorted by position.
func WriteScanCSV(w io.Writer, pts []scan.Point) error {
	sorted := make([]scan.Point, len(pts))
	copy(sorted, pts)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].PositionMm < sorted[j].PositionMm })

	cw := csv.NewWriter(w)
	if err := cw.Write(ScanHeader); err != nil {
		return err
	}
	for _, p := range sorted {
		row := []string{
			formatFloat(p.PositionMm),
			formatFloat(p.WidthXUm),
			formatFloat(p.WidthXErrUm),
			formatFloat(p.WidthYUm),
			formatFloat(p.WidthYErrUm),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFocusCSV writes, for each axis, a title row, the column names, the
// parameters (waist, Rayleigh range, focus) and their standard errors.
// An axis without a valid fit is written with the sentinel values and
// zero errors.
func WriteFocusCSV(w io.Writer, x, y fit.Focus) error {
	cw := csv.NewWriter(w)
	for _, ax := range []struct {
		name string
		f    fit.Focus
	}{{"X axis", x}, {"Y axis", y}} {
		rows := [][]string{
			{ax.name, "", "errors on line below"},
			FocusHeader,
			{formatFloat(ax.f.Params.Waist), formatFloat(ax.f.Params.RayleighMm), formatFloat(ax.f.Params.FocusMm)},
			{formatFloat(ax.f.Errors.Waist), formatFloat(ax.f.Errors.RayleighMm), formatFloat(ax.f.Errors.FocusMm)},
		}
		if err := cw.WriteAll(rows); err != nil {
			return err
		}
	}
	return cw.Error()
}

// Files are the paths written by WriteResult.
type Files struct {
	Scan  string
	Focus string
}

// WriteResult writes the scan and focus CSV of res into dir, named after
// the scan ID. The focus file is only written when the curve was fitted.
func WriteResult(dir string, res *scan.Result) (Files, error) {
	var out Files
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return out, fmt.Errorf("export dir: %w", err)
	}
	base := filepath.Join(dir, "scan-"+res.ID.String()[:8])

	out.Scan = base + ".csv"
	if err := writeFile(out.Scan, func(w io.Writer) error { return WriteScanCSV(w, res.Points) }); err != nil {
		return Files{}, err
	}
	debug.Info("Export: %d points -> %s", len(res.Points), out.Scan)

	if !res.Fitted {
		return out, nil
	}
	out.Focus = base + "_profilefitparams.csv"
	if err := writeFile(out.Focus, func(w io.Writer) error { return WriteFocusCSV(w, res.FocusX, res.FocusY) }); err != nil {
		return Files{Scan: out.Scan}, err
	}
	debug.Info("Export: focus fit -> %s", out.Focus)
	return out, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("export %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("export %s: %w", path, err)
	}
	return nil
}
