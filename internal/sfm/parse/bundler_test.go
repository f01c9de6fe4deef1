package parse

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"

	"github.com/davidemarelli/sfm-flow/internal/sfm"
)

// bundleFixture holds two cameras, the first unregistered (zero focal), and
// one point. The registered camera is at identity rotation with translation
// (1,2,3), so its Y-up center is (-1,-2,-3).
const bundleFixture = `# Bundle file v0.3
2 1
0 0 0
1 0 0
0 1 0
0 0 1
0 0 0
800 0.1 0
1 0 0
0 1 0
0 0 1
1 2 3
1 0 0
255 0 128
1 0 0 0.5 0.5
`

func writeBundleDir(t *testing.T, listName string, listBody string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "model.out"), []byte(bundleFixture), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, listName), []byte(listBody), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestBundleParserParse(t *testing.T) {
	dir := writeBundleDir(t, "model.out.list.txt", "images/0001.jpg\nimages/0007.jpg\n")

	models, err := (&BundleParser{}).Parse("scene", filepath.Join(dir, "model.out"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(models) != 1 {
		t.Fatalf("Parse returned %d models, want 1", len(models))
	}
	model := models[0]
	if model.Name != "scene" || model.UUID == "" {
		t.Errorf("model identity = %q/%q", model.Name, model.UUID)
	}

	// The zero-focal camera is skipped.
	if len(model.Cameras) != 1 {
		t.Fatalf("parsed %d cameras, want 1", len(model.Cameras))
	}
	cam := model.Cameras[0]
	if cam.ID != "images/0007.jpg" || cam.Frame != 7 {
		t.Errorf("camera identity = %q frame %d", cam.ID, cam.Frame)
	}
	if cam.FocalLength != 800 || cam.RadialDistortion != 0.1 {
		t.Errorf("intrinsics = %g/%g", cam.FocalLength, cam.RadialDistortion)
	}
	// Y-up center (-1,-2,-3) converted to Z-up.
	want := r3.Vector{X: -1, Y: -3, Z: 2}
	if cam.Position.Sub(want).Norm() > 1e-12 {
		t.Errorf("camera position = %v, want %v", cam.Position, want)
	}
	// Identity world-to-camera rotation becomes the Y-up/Z-up change of
	// basis, a -90 degree turn about X.
	s := math.Sqrt(0.5)
	wantQ := sfm.Quaternion{W: s, X: -s}
	if a := cam.Rotation.AngleTo(wantQ); a > 1e-9 {
		t.Errorf("camera rotation off by %g rad", a)
	}
	if err := cam.Validate(); err != nil {
		t.Errorf("parsed camera invalid: %v", err)
	}

	if model.Cloud.Len() != 1 {
		t.Fatalf("parsed %d points, want 1", model.Cloud.Len())
	}
	pt := model.Cloud.Points[0]
	if pt.Position.Sub(r3.Vector{X: 1}).Norm() > 1e-12 {
		t.Errorf("point position = %v", pt.Position)
	}
	if pt.Color[0] != 1 || pt.Color[1] != 0 || math.Abs(pt.Color[2]-128.0/255) > 1e-12 {
		t.Errorf("point color = %v", pt.Color)
	}
}

func TestBundleParserPrefersCamerasV2(t *testing.T) {
	dir := writeBundleDir(t, "list.txt", "wrong/0099.jpg\nwrong/0098.jpg\n")

	// 14 lines per camera block, filename first.
	v2 := "# Camera parameter file.\n2\n"
	for _, name := range []string{"visualsfm/0001.jpg", "visualsfm/0007.jpg"} {
		v2 += name + "\n"
		for i := 0; i < 13; i++ {
			v2 += "0\n"
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "cameras_v2.txt"), []byte(v2), 0o644); err != nil {
		t.Fatal(err)
	}

	models, err := (&BundleParser{}).Parse("scene", filepath.Join(dir, "model.out"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := models[0].Cameras[0].ID; got != "visualsfm/0007.jpg" {
		t.Errorf("camera ID = %q, want the cameras_v2 name", got)
	}
}

func TestBundleParserMissingList(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.out")
	if err := os.WriteFile(path, []byte(bundleFixture), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := (&BundleParser{}).Parse("scene", path); err == nil {
		t.Error("Parse succeeded without a camera list file")
	}
}

func TestBundleParserRejectsBadHeader(t *testing.T) {
	dir := writeBundleDir(t, "list.txt", "0001.jpg\n")
	path := filepath.Join(dir, "bad.out")
	if err := os.WriteFile(path, []byte("# Bundle file v0.4\n0 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := (&BundleParser{}).Parse("scene", path); err == nil {
		t.Error("Parse accepted an unsupported bundle version")
	}
}
