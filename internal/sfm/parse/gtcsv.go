package parse

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"

	"github.com/davidemarelli/sfm-flow/internal/sfm"
)

// Ground truth camera CSV columns, in file order.
var gtCameraFields = []string{
	"image_number",
	"position_x", "position_y", "position_z",
	"rotation_w", "rotation_x", "rotation_y", "rotation_z",
	"lookat_x", "lookat_y", "lookat_z",
	"depth_of_field", "motion_blur",
	"sun_azimuth", "sun_inclination",
}

// ReadGroundTruthCameras loads a ground truth camera poses CSV. The first
// eight columns (frame number, position, WXYZ rotation) feed the evaluation;
// the remaining render parameters are ignored.
func ReadGroundTruthCameras(path string) ([]sfm.CameraPose, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ground truth cameras: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read %s header: %w", path, err)
	}
	if len(header) < 8 || strings.TrimSpace(header[0]) != gtCameraFields[0] {
		return nil, &sfm.MalformedInputError{
			EntityID: path,
			Reason:   fmt.Sprintf("unexpected header, want %q first", gtCameraFields[0]),
		}
	}

	var cameras []sfm.CameraPose
	for line := 2; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s line %d: %w", path, line, err)
		}
		if len(record) < 8 {
			return nil, &sfm.MalformedInputError{
				EntityID: fmt.Sprintf("%s:%d", path, line),
				Reason:   fmt.Sprintf("expected at least 8 fields, got %d", len(record)),
			}
		}
		vals := make([]float64, 8)
		for i := 0; i < 8; i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
			if err != nil {
				return nil, fmt.Errorf("read %s line %d field %s: %w", path, line, gtCameraFields[i], err)
			}
			vals[i] = v
		}
		cameras = append(cameras, sfm.CameraPose{
			ID:       fmt.Sprintf("%04d", int(vals[0])),
			Frame:    int(vals[0]),
			Position: r3.Vector{X: vals[1], Y: vals[2], Z: vals[3]},
			Rotation: sfm.Quaternion{W: vals[4], X: vals[5], Y: vals[6], Z: vals[7]},
		})
	}

	log.Printf("[Parse] Ground truth cameras %s: %d poses", filepath.Base(path), len(cameras))
	return cameras, nil
}

// ReadGroundTruthPoints loads a ground truth surface sample CSV with
// "x,y,z[,r,g,b]" rows. A header row is detected and skipped.
func ReadGroundTruthPoints(path string) ([]sfm.PointSample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ground truth points: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	var points []sfm.PointSample
	for line := 1; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s line %d: %w", path, line, err)
		}
		if line == 1 {
			if _, err := strconv.ParseFloat(strings.TrimSpace(record[0]), 64); err != nil {
				continue // header row
			}
		}
		if len(record) != 3 && len(record) != 6 {
			return nil, &sfm.MalformedInputError{
				EntityID: fmt.Sprintf("%s:%d", path, line),
				Reason:   fmt.Sprintf("expected 3 or 6 fields, got %d", len(record)),
			}
		}
		vals := make([]float64, len(record))
		for i, field := range record {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("read %s line %d: %w", path, line, err)
			}
			vals[i] = v
		}
		pt := sfm.PointSample{Position: r3.Vector{X: vals[0], Y: vals[1], Z: vals[2]}}
		if len(vals) == 6 {
			pt.Color = [3]float64{vals[3], vals[4], vals[5]}
		}
		points = append(points, pt)
	}

	log.Printf("[Parse] Ground truth points %s: %d samples", filepath.Base(path), len(points))
	return points, nil
}

// WriteGroundTruthCameras writes camera poses to the ground truth CSV
// format. The render parameter columns are filled with zeros.
func WriteGroundTruthCameras(cameras []sfm.CameraPose, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create ground truth cameras: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(gtCameraFields); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, cam := range cameras {
		lookAt := cam.LookAt()
		record := []string{
			fmt.Sprintf("%04d", cam.Frame),
			gtNum(cam.Position.X), gtNum(cam.Position.Y), gtNum(cam.Position.Z),
			gtNum(cam.Rotation.W), gtNum(cam.Rotation.X), gtNum(cam.Rotation.Y), gtNum(cam.Rotation.Z),
			gtNum(lookAt.X), gtNum(lookAt.Y), gtNum(lookAt.Z),
			"0", "0", "0", "0",
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write camera %d: %w", cam.Frame, err)
		}
	}
	w.Flush()
	return w.Error()
}

// WriteGroundTruthPoints writes surface samples as "x,y,z,r,g,b" rows.
func WriteGroundTruthPoints(points []sfm.PointSample, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create ground truth points: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"x", "y", "z", "r", "g", "b"}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, pt := range points {
		record := []string{
			gtNum(pt.Position.X), gtNum(pt.Position.Y), gtNum(pt.Position.Z),
			gtNum(pt.Color[0]), gtNum(pt.Color[1]), gtNum(pt.Color[2]),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write point %d: %w", i, err)
		}
	}
	w.Flush()
	return w.Error()
}

func gtNum(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// ReadGroundTruth loads the camera poses CSV and, when pointsPath is not
// empty, the surface samples CSV into one ground truth set.
func ReadGroundTruth(camerasPath, pointsPath string) (*sfm.GroundTruth, error) {
	cameras, err := ReadGroundTruthCameras(camerasPath)
	if err != nil {
		return nil, err
	}
	gt := &sfm.GroundTruth{Cameras: cameras}
	if pointsPath != "" {
		points, err := ReadGroundTruthPoints(pointsPath)
		if err != nil {
			return nil, err
		}
		gt.Points = points
	}
	return gt, nil
}
