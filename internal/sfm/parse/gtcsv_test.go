package parse

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"

	"github.com/davidemarelli/sfm-flow/internal/sfm"
)

func TestGroundTruthCamerasRoundTrip(t *testing.T) {
	want := []sfm.CameraPose{
		{
			ID:       "0001",
			Frame:    1,
			Position: r3.Vector{X: 1.5, Y: -2.25, Z: 3},
			Rotation: sfm.Quaternion{W: 1},
		},
		{
			ID:       "0012",
			Frame:    12,
			Position: r3.Vector{X: -4, Y: 0.5, Z: 1},
			Rotation: sfm.Quaternion{W: 0.8, X: 0.2, Y: 0.4, Z: 0.4}.Normalized(),
		},
	}
	path := filepath.Join(t.TempDir(), "cameras.csv")
	if err := WriteGroundTruthCameras(want, path); err != nil {
		t.Fatalf("WriteGroundTruthCameras failed: %v", err)
	}

	got, err := ReadGroundTruthCameras(path)
	if err != nil {
		t.Fatalf("ReadGroundTruthCameras failed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("read %d cameras, want %d", len(got), len(want))
	}
	for i, cam := range got {
		ref := want[i]
		if cam.ID != ref.ID || cam.Frame != ref.Frame {
			t.Errorf("camera %d identity = %q/%d", i, cam.ID, cam.Frame)
		}
		if cam.Position.Sub(ref.Position).Norm() > 1e-12 {
			t.Errorf("camera %d position = %v, want %v", i, cam.Position, ref.Position)
		}
		if a := cam.Rotation.AngleTo(ref.Rotation); a > 1e-12 {
			t.Errorf("camera %d rotation off by %g rad", i, a)
		}
	}
}

func TestReadGroundTruthCamerasRejectsBadHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cameras.csv")
	if err := os.WriteFile(path, []byte("frame,x,y,z,qw,qx,qy,qz\n1,0,0,0,1,0,0,0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := ReadGroundTruthCameras(path)
	var malformed *sfm.MalformedInputError
	if !errors.As(err, &malformed) {
		t.Errorf("err = %v, want MalformedInputError", err)
	}
}

func TestGroundTruthPointsRoundTrip(t *testing.T) {
	want := []sfm.PointSample{
		{Position: r3.Vector{X: 0.5, Y: 1, Z: -2}, Color: [3]float64{1, 0.5, 0}},
		{Position: r3.Vector{X: -1, Y: 0, Z: 3}, Color: [3]float64{0, 0, 1}},
	}
	path := filepath.Join(t.TempDir(), "points.csv")
	if err := WriteGroundTruthPoints(want, path); err != nil {
		t.Fatalf("WriteGroundTruthPoints failed: %v", err)
	}

	got, err := ReadGroundTruthPoints(path)
	if err != nil {
		t.Fatalf("ReadGroundTruthPoints failed: %v", err)
	}
	// The writer emits full-precision floats, so the round trip is exact.
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("point mismatch (-want +got):\n%s", diff)
	}
}

func TestReadGroundTruthPointsPlainXYZ(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.csv")
	if err := os.WriteFile(path, []byte("1,2,3\n4,5,6\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := ReadGroundTruthPoints(path)
	if err != nil {
		t.Fatalf("ReadGroundTruthPoints failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("read %d points, want 2", len(got))
	}
	if got[1].Position != (r3.Vector{X: 4, Y: 5, Z: 6}) {
		t.Errorf("point 1 = %v", got[1].Position)
	}
	if got[0].Color != ([3]float64{}) {
		t.Errorf("headerless XYZ row produced color %v", got[0].Color)
	}
}

func TestReadGroundTruthPointsRejectsBadWidth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.csv")
	if err := os.WriteFile(path, []byte("x,y,z,r,g,b\n1,2,3,4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := ReadGroundTruthPoints(path)
	var malformed *sfm.MalformedInputError
	if !errors.As(err, &malformed) {
		t.Errorf("err = %v, want MalformedInputError", err)
	}
}

func TestReadGroundTruth(t *testing.T) {
	dir := t.TempDir()
	camPath := filepath.Join(dir, "cameras.csv")
	ptsPath := filepath.Join(dir, "points.csv")

	cams := []sfm.CameraPose{{ID: "0001", Frame: 1, Rotation: sfm.Quaternion{W: 1}}}
	if err := WriteGroundTruthCameras(cams, camPath); err != nil {
		t.Fatal(err)
	}
	pts := []sfm.PointSample{{Position: r3.Vector{X: 1}}}
	if err := WriteGroundTruthPoints(pts, ptsPath); err != nil {
		t.Fatal(err)
	}

	gt, err := ReadGroundTruth(camPath, ptsPath)
	if err != nil {
		t.Fatalf("ReadGroundTruth failed: %v", err)
	}
	if len(gt.Cameras) != 1 || len(gt.Points) != 1 {
		t.Errorf("ground truth sizes = %d/%d", len(gt.Cameras), len(gt.Points))
	}

	gt, err = ReadGroundTruth(camPath, "")
	if err != nil {
		t.Fatalf("ReadGroundTruth without points failed: %v", err)
	}
	if gt.Points != nil {
		t.Errorf("camera-only ground truth carries %d points", len(gt.Points))
	}

	if _, err := ReadGroundTruth(filepath.Join(dir, "missing.csv"), ""); err == nil {
		t.Error("ReadGroundTruth succeeded on a missing file")
	}
}
