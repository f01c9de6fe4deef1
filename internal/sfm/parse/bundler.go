package parse

import (
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

// BundleParser loads Bundler v0.3 ".out" reconstruction files, as written by
// Bundler itself, VisualSFM and Theia. Camera image names are resolved from a
// companion list file in the same directory.
type BundleParser struct{}

// Name implements Parser.
func (*BundleParser) Name() string { return "Bundler" }

// Supports implements Parser.
func (*BundleParser) Supports(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".out")
}

// Parse implements Parser. A Bundler file holds exactly one model.
func (p *BundleParser) Parse(name, path string) ([]*sfm.Model, error) {
	images, err := loadImageList(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bundle file: %w", err)
	}
	defer f.Close()

	tr := newTokenReader(f)
	header, err := tr.readRawLine()
	if err != nil {
		return nil, fmt.Errorf("read bundle header: %w", err)
	}
	if len(header) < 4 || header[0] != "#" || header[1] != "Bundle" {
		return nil, fmt.Errorf("not a Bundler file: %q", strings.Join(header, " "))
	}
	if header[3] != "v0.3" {
		return nil, fmt.Errorf("unsupported Bundler version %q", header[3])
	}

	counts, err := tr.readFloats(2)
	if err != nil {
		return nil, fmt.Errorf("read bundle counts: %w", err)
	}
	cameraCount, pointCount := int(counts[0]), int(counts[1])

	model := sfm.NewModel(name)
	for i := 0; i < cameraCount; i++ {
		cam, ok, err := p.readCamera(tr, i, images)
		if err != nil {
			return nil, fmt.Errorf("camera %d: %w", i, err)
		}
		if ok {
			model.Cameras = append(model.Cameras, cam)
		}
	}

	points := make([]sfm.PointSample, 0, pointCount)
	for i := 0; i < pointCount; i++ {
		pt, err := p.readPoint(tr)
		if err != nil {
			return nil, fmt.Errorf("point %d: %w", i, err)
		}
		points = append(points, pt)
	}
	model.Cloud = sfm.NewPointCloud(points)

	log.Printf("[Parse] Bundler file %s: %d cameras, %d points", filepath.Base(path), len(model.Cameras), len(points))
	return []*sfm.Model{model}, nil
}

// readCamera reads one Bundler camera block. Unregistered cameras are written
// with a zero focal length and are skipped (ok=false).
func (p *BundleParser) readCamera(tr *tokenReader, index int, images []string) (sfm.CameraPose, bool, error) {
	intr, err := tr.readFloats(3) // f k1 k2
	if err != nil {
		return sfm.CameraPose{}, false, err
	}
	var rot mat3
	for r := 0; r < 3; r++ {
		row, err := tr.readFloats(3)
		if err != nil {
			return sfm.CameraPose{}, false, err
		}
		copy(rot[r*3:], row)
	}
	tv, err := tr.readFloats(3)
	if err != nil {
		return sfm.CameraPose{}, false, err
	}
	if intr[0] == 0 {
		return sfm.CameraPose{}, false, nil
	}

	// Bundler stores world-to-camera [R|t]; the camera center is -R't and
	// the camera-to-world rotation is R'.
	rt := rot.transpose()
	t := r3.Vector{X: tv[0], Y: tv[1], Z: tv[2]}
	center := rt.apply(t).Mul(-1)

	cam := sfm.CameraPose{
		Frame:            -1,
		Position:         yupToZup.apply(center),
		Rotation:         yupToZup.mul(rt).quaternion(),
		FocalLength:      intr[0],
		RadialDistortion: intr[1],
	}
	if index < len(images) {
		cam.ID = images[index]
		cam.Frame = frameFromFilename(images[index])
	} else {
		cam.ID = fmt.Sprintf("camera_%d", index)
	}
	return cam, true, nil
}

// readPoint reads one Bundler point block: position, color, view list.
func (p *BundleParser) readPoint(tr *tokenReader) (sfm.PointSample, error) {
	pos, err := tr.readFloats(3)
	if err != nil {
		return sfm.PointSample{}, err
	}
	col, err := tr.readFloats(3)
	if err != nil {
		return sfm.PointSample{}, err
	}
	// View list: <count> <camera> <key> <x> <y> ... Not needed here.
	if _, err := tr.readLine(); err != nil {
		return sfm.PointSample{}, err
	}
	return sfm.PointSample{
		Position: yupToZup.apply(r3.Vector{X: pos[0], Y: pos[1], Z: pos[2]}),
		Color:    [3]float64{col[0] / 255, col[1] / 255, col[2] / 255},
	}, nil
}

// loadImageList resolves the camera image names for a bundle file, trying in
// order: VisualSFM's cameras_v2.txt, <bundle>.list.txt, list.txt.
func loadImageList(bundlePath string) ([]string, error) {
	dir := filepath.Dir(bundlePath)

	if names, err := loadCamerasV2(filepath.Join(dir, "cameras_v2.txt")); err == nil {
		return names, nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	candidates := []string{
		bundlePath + ".list.txt",
		filepath.Join(dir, "list.txt"),
	}
	for _, c := range candidates {
		names, err := loadListFile(c)
		if err == nil {
			return names, nil
		}
		if !os.IsNotExist(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("no camera list file found next to %s", bundlePath)
}

// loadListFile reads a Bundler image list, one image path per line with an
// optional focal estimate after it.
func loadListFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var names []string
	tr := newTokenReader(f)
	for {
		tokens, err := tr.readRawLine()
		if err == io.EOF {
			return names, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		names = append(names, tokens[0])
	}
}

// loadCamerasV2 extracts image names from a VisualSFM cameras_v2.txt file.
// Each camera block spans 14 lines, the first being the image filename.
func loadCamerasV2(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tr := newTokenReader(f)
	countLine, err := tr.readLine()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	count, err := strconv.Atoi(countLine[0])
	if err != nil {
		return nil, fmt.Errorf("bad camera count in %s: %w", path, err)
	}

	names := make([]string, 0, count)
	for i := 0; i < count; i++ {
		for l := 0; l < 14; l++ {
			tokens, err := tr.readRawLine()
			if err != nil {
				return nil, fmt.Errorf("camera %d in %s: %w", i, path, err)
			}
			if l == 0 {
				names = append(names, tokens[0])
			}
		}
	}
	return names, nil
}
