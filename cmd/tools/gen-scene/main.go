// Command gen-scene generates a synthetic ground truth scene and a matching
// perturbed reconstruction for testing the evaluation pipeline end to end.
// The reconstruction is the ground truth pushed through the inverse of a
// known similarity transform with Gaussian noise added, so the solved
// alignment and error metrics have known expected values.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/golang/geo/r3"

	"github.com/davidemarelli/sfm-flow/internal/sfm"
	"github.com/davidemarelli/sfm-flow/internal/sfm/parse"
)

func main() {
	outDir := flag.String("o", "scene", "output directory")
	cameraCount := flag.Int("cameras", 30, "number of ground truth cameras")
	pointCount := flag.Int("points", 2000, "number of surface sample points")
	noise := flag.Float64("noise", 0.005, "position noise sigma in the reconstruction")
	scale := flag.Float64("scale", 2.0, "scale of the hidden similarity transform")
	rotDeg := flag.Float64("rot", 30.0, "Z rotation of the hidden transform (degrees)")
	seed := flag.Int64("seed", 1, "random seed")
	flag.Parse()

	if err := os.MkdirAll(*outDir, 0755); err != nil {
		log.Fatalf("Failed to create output dir: %v", err)
	}
	rng := rand.New(rand.NewSource(*seed))

	cameras := ringCameras(*cameraCount)
	points := spherePoints(*pointCount, rng)

	if err := parse.WriteGroundTruthCameras(cameras, filepath.Join(*outDir, "cameras.csv")); err != nil {
		log.Fatalf("Failed to write cameras.csv: %v", err)
	}
	if err := parse.WriteGroundTruthPoints(points, filepath.Join(*outDir, "points.csv")); err != nil {
		log.Fatalf("Failed to write points.csv: %v", err)
	}

	// Push the scene through the inverse of a known similarity transform.
	// Evaluating the generated model must recover this transform.
	hidden := hiddenTransform(*scale, *rotDeg*math.Pi/180)
	model := perturbedModel(cameras, points, hidden, *noise, rng)
	if err := parse.WriteNVM([]*sfm.Model{model}, filepath.Join(*outDir, "model.nvm")); err != nil {
		log.Fatalf("Failed to write model.nvm: %v", err)
	}

	log.Printf("✓ Scene written to %s (%d cameras, %d points, scale=%.3f rot=%.1f°)",
		*outDir, len(cameras), len(points), *scale, *rotDeg)
}

// ringCameras places cameras on a circle of radius 8 at height 4, all
// looking at the origin.
func ringCameras(n int) []sfm.CameraPose {
	cameras := make([]sfm.CameraPose, 0, n)
	for i := 0; i < n; i++ {
		theta := 2 * math.Pi * float64(i) / float64(n)
		pos := r3.Vector{X: 8 * math.Cos(theta), Y: 8 * math.Sin(theta), Z: 4}
		cameras = append(cameras, sfm.CameraPose{
			ID:          pad4(i + 1),
			Frame:       i + 1,
			Position:    pos,
			Rotation:    lookAtRotation(pos, r3.Vector{}),
			FocalLength: 1200,
		})
	}
	return cameras
}

// spherePoints samples points on a unit sphere around the origin with a
// grey-to-white color ramp by height.
func spherePoints(n int, rng *rand.Rand) []sfm.PointSample {
	points := make([]sfm.PointSample, 0, n)
	for i := 0; i < n; i++ {
		v := r3.Vector{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}
		if v.Norm() == 0 {
			v = r3.Vector{Z: 1}
		}
		p := v.Normalize()
		shade := 0.5 + p.Z/4
		points = append(points, sfm.PointSample{
			Position: p,
			Color:    [3]float64{shade, shade, shade},
		})
	}
	return points
}

// lookAtRotation builds a world rotation for a camera at eye looking at
// target with the world Z axis as up reference.
func lookAtRotation(eye, target r3.Vector) sfm.Quaternion {
	forward := target.Sub(eye).Normalize()
	zc := forward.Mul(-1) // camera looks down its -Z axis
	xc := r3.Vector{Z: 1}.Cross(zc)
	if xc.Norm() < 1e-12 {
		xc = r3.Vector{X: 1}
	}
	xc = xc.Normalize()
	yc := zc.Cross(xc)
	// Camera basis vectors as matrix columns.
	return sfm.QuaternionFromMatrix([9]float64{
		xc.X, yc.X, zc.X,
		xc.Y, yc.Y, zc.Y,
		xc.Z, yc.Z, zc.Z,
	})
}

// hiddenTransform builds the similarity transform the evaluation should
// recover: uniform scale, rotation about Z, and a fixed translation.
func hiddenTransform(scale, rotRad float64) sfm.SimilarityTransform {
	c, s := math.Cos(rotRad), math.Sin(rotRad)
	return sfm.SimilarityTransform{
		Scale: scale,
		Rotation: [9]float64{
			c, -s, 0,
			s, c, 0,
			0, 0, 1,
		},
		Translation: r3.Vector{X: 1.5, Y: -2.0, Z: 0.5},
	}
}

// perturbedModel maps the ground truth through the inverse of hidden and
// adds Gaussian position noise, producing the "reconstructed" model.
func perturbedModel(cameras []sfm.CameraPose, points []sfm.PointSample, hidden sfm.SimilarityTransform, noise float64, rng *rand.Rand) *sfm.Model {
	inv := invert(hidden)
	invQ := inv.RotationQuaternion()

	model := sfm.NewModel("synthetic")
	for _, cam := range cameras {
		model.Cameras = append(model.Cameras, sfm.CameraPose{
			ID:          cam.ID + ".jpg",
			Frame:       cam.Frame,
			Position:    inv.Apply(cam.Position).Add(jitter(rng, noise)),
			Rotation:    invQ.Mul(cam.Rotation),
			FocalLength: cam.FocalLength,
		})
	}

	samples := make([]sfm.PointSample, 0, len(points))
	for _, pt := range points {
		samples = append(samples, sfm.PointSample{
			Position: inv.Apply(pt.Position).Add(jitter(rng, noise)),
			Color:    pt.Color,
		})
	}
	model.Cloud = sfm.NewPointCloud(samples)
	return model
}

// invert returns the inverse similarity transform.
func invert(t sfm.SimilarityTransform) sfm.SimilarityTransform {
	r := t.Rotation
	rt := [9]float64{
		r[0], r[3], r[6],
		r[1], r[4], r[7],
		r[2], r[5], r[8],
	}
	inv := sfm.SimilarityTransform{Scale: 1 / t.Scale, Rotation: rt}
	inv.Translation = inv.Apply(t.Translation).Mul(-1)
	return inv
}

func jitter(rng *rand.Rand, sigma float64) r3.Vector {
	if sigma == 0 {
		return r3.Vector{}
	}
	return r3.Vector{
		X: rng.NormFloat64() * sigma,
		Y: rng.NormFloat64() * sigma,
		Z: rng.NormFloat64() * sigma,
	}
}

func pad4(n int) string { return fmt.Sprintf("%04d", n) }
