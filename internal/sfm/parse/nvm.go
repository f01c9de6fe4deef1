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

// NVMParser loads VisualSFM NVM_V3 files. An NVM file can hold several
// models; COLMAP exports omit the empty-model terminator, which is tolerated.
type NVMParser struct{}

// Name implements Parser.
func (*NVMParser) Name() string { return "NVM" }

// Supports implements Parser.
func (*NVMParser) Supports(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".nvm")
}

// Parse implements Parser.
func (p *NVMParser) Parse(name, path string) ([]*sfm.Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open nvm file: %w", err)
	}
	defer f.Close()

	tr := newTokenReader(f)
	header, err := tr.readRawLine()
	if err != nil {
		return nil, fmt.Errorf("read nvm header: %w", err)
	}
	if header[0] != "NVM_V3" {
		return nil, fmt.Errorf("not an NVM_V3 file: %q", header[0])
	}

	var models []*sfm.Model
	for {
		model, err := p.readModel(tr, name, len(models))
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("model %d: %w", len(models), err)
		}
		if model == nil {
			break
		}
		models = append(models, model)
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("nvm file %s holds no models", filepath.Base(path))
	}

	log.Printf("[Parse] NVM file %s: %d model(s)", filepath.Base(path), len(models))
	return models, nil
}

// readModel reads one NVM model block. It returns nil on the empty-model
// terminator and io.EOF when the file ends without one.
func (p *NVMParser) readModel(tr *tokenReader, name string, index int) (*sfm.Model, error) {
	countLine, err := tr.readLine()
	if err != nil {
		return nil, err
	}
	cameraCount, err := strconv.Atoi(countLine[0])
	if err != nil {
		return nil, fmt.Errorf("bad camera count %q: %w", countLine[0], err)
	}
	if cameraCount == 0 {
		return nil, nil
	}

	modelName := name
	if index > 0 {
		modelName = fmt.Sprintf("%s_%d", name, index)
	}
	model := sfm.NewModel(modelName)

	for i := 0; i < cameraCount; i++ {
		cam, err := p.readCamera(tr)
		if err != nil {
			return nil, fmt.Errorf("camera %d: %w", i, err)
		}
		model.Cameras = append(model.Cameras, cam)
	}

	countLine, err = tr.readLine()
	if err != nil {
		return nil, fmt.Errorf("read point count: %w", err)
	}
	pointCount, err := strconv.Atoi(countLine[0])
	if err != nil {
		return nil, fmt.Errorf("bad point count %q: %w", countLine[0], err)
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
	return model, nil
}

// readCamera reads one NVM camera line:
// <image> <focal> <qw qx qy qz> <cx cy cz> <radial> 0
func (p *NVMParser) readCamera(tr *tokenReader) (sfm.CameraPose, error) {
	tokens, err := tr.readRawLine()
	if err != nil {
		return sfm.CameraPose{}, err
	}
	if len(tokens) < 10 {
		return sfm.CameraPose{}, fmt.Errorf("line %d: expected 11 camera fields, got %d", tr.line, len(tokens))
	}
	vals := make([]float64, 9)
	for i := 0; i < 9; i++ {
		v, err := strconv.ParseFloat(tokens[i+1], 64)
		if err != nil {
			return sfm.CameraPose{}, fmt.Errorf("line %d: bad number %q: %w", tr.line, tokens[i+1], err)
		}
		vals[i] = v
	}

	// NVM stores the world-to-camera rotation as a WXYZ quaternion and the
	// camera center directly. NVM cameras look down +Z, so the recovered
	// camera-to-world rotation gets a half-turn about X appended.
	q := sfm.Quaternion{W: vals[1], X: vals[2], Y: vals[3], Z: vals[4]}.Normalized()
	rt := mat3(q.RotationMatrix()).transpose()
	center := r3.Vector{X: vals[5], Y: vals[6], Z: vals[7]}

	cam := sfm.CameraPose{
		ID:               tokens[0],
		Frame:            frameFromFilename(tokens[0]),
		Position:         yupToZup.apply(center),
		Rotation:         yupToZup.mul(rt).mul(flipZ).quaternion(),
		FocalLength:      vals[0],
		RadialDistortion: vals[8],
	}
	return cam, nil
}

// readPoint reads one NVM point line:
// <xyz> <rgb> <measurement count> (<image> <feature> <x> <y>)*
func (p *NVMParser) readPoint(tr *tokenReader) (sfm.PointSample, error) {
	tokens, err := tr.readLine()
	if err != nil {
		return sfm.PointSample{}, err
	}
	if len(tokens) < 7 {
		return sfm.PointSample{}, fmt.Errorf("line %d: expected at least 7 point fields, got %d", tr.line, len(tokens))
	}
	vals := make([]float64, 6)
	for i := 0; i < 6; i++ {
		v, err := strconv.ParseFloat(tokens[i], 64)
		if err != nil {
			return sfm.PointSample{}, fmt.Errorf("line %d: bad number %q: %w", tr.line, tokens[i], err)
		}
		vals[i] = v
	}
	return sfm.PointSample{
		Position: yupToZup.apply(r3.Vector{X: vals[0], Y: vals[1], Z: vals[2]}),
		Color:    [3]float64{vals[3] / 255, vals[4] / 255, vals[5] / 255},
	}, nil
}
