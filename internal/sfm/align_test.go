package sfm

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
)

func randomPoints(n int, rng *rand.Rand) []r3.Vector {
	ps := make([]r3.Vector, n)
	for i := range ps {
		ps[i] = r3.Vector{
			X: rng.Float64()*10 - 5,
			Y: rng.Float64()*10 - 5,
			Z: rng.Float64()*10 - 5,
		}
	}
	return ps
}

func transformsClose(t *testing.T, got, want SimilarityTransform, tol float64) {
	t.Helper()
	if math.Abs(got.Scale-want.Scale) > tol {
		t.Errorf("scale = %g, want %g", got.Scale, want.Scale)
	}
	for i := range got.Rotation {
		if math.Abs(got.Rotation[i]-want.Rotation[i]) > tol {
			t.Errorf("rotation[%d] = %g, want %g", i, got.Rotation[i], want.Rotation[i])
		}
	}
	if !vecsClose(got.Translation, want.Translation, tol) {
		t.Errorf("translation = %v, want %v", got.Translation, want.Translation)
	}
}

func TestSolveSimilarityIdentity(t *testing.T) {
	pts := randomPoints(20, rand.New(rand.NewSource(1)))
	got, err := SolveSimilarity(pts, pts)
	if err != nil {
		t.Fatalf("SolveSimilarity failed: %v", err)
	}
	transformsClose(t, got, IdentityTransform(), 1e-9)
}

func TestSolveSimilarityRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	src := randomPoints(50, rng)

	angle := math.Pi / 5
	c, s := math.Cos(angle), math.Sin(angle)
	want := SimilarityTransform{
		Scale: 2.5,
		Rotation: [9]float64{
			c, -s, 0,
			s, c, 0,
			0, 0, 1,
		},
		Translation: r3.Vector{X: 3, Y: -1, Z: 7},
	}
	dst := want.ApplyAll(src)

	got, err := SolveSimilarity(src, dst)
	if err != nil {
		t.Fatalf("SolveSimilarity failed: %v", err)
	}
	transformsClose(t, got, want, 1e-9)

	// Residuals of the solved transform are zero on noise-free input.
	for i, p := range src {
		if d := got.Apply(p).Sub(dst[i]).Norm(); d > 1e-9 {
			t.Fatalf("residual %d = %g", i, d)
		}
	}
}

func TestSolveSimilarityRecoversArbitraryRotation(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	src := randomPoints(30, rng)

	q := Quaternion{W: 0.4, X: 0.6, Y: -0.2, Z: 0.67}.Normalized()
	want := SimilarityTransform{
		Scale:       0.35,
		Rotation:    q.RotationMatrix(),
		Translation: r3.Vector{X: -4, Y: 0.5, Z: 2},
	}
	dst := want.ApplyAll(src)

	got, err := SolveSimilarity(src, dst)
	if err != nil {
		t.Fatalf("SolveSimilarity failed: %v", err)
	}
	transformsClose(t, got, want, 1e-9)
	if err := got.Validate(); err != nil {
		t.Errorf("solved transform invalid: %v", err)
	}
}

func TestSolveRigidKeepsUnitScale(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	src := randomPoints(25, rng)
	scaled := SimilarityTransform{Scale: 3, Rotation: IdentityTransform().Rotation}
	dst := scaled.ApplyAll(src)

	got, err := solveRigid(src, dst)
	if err != nil {
		t.Fatalf("solveRigid failed: %v", err)
	}
	if got.Scale != 1 {
		t.Errorf("rigid solve scale = %g, want 1", got.Scale)
	}
}

func TestSolveSimilarityInsufficientCorrespondences(t *testing.T) {
	src := []r3.Vector{{X: 1}, {Y: 1}}
	_, err := SolveSimilarity(src, src)
	if !errors.Is(err, ErrInsufficientCorrespondences) {
		t.Errorf("error = %v, want ErrInsufficientCorrespondences", err)
	}
}

func TestSolveSimilarityCollinear(t *testing.T) {
	src := make([]r3.Vector, 10)
	dst := make([]r3.Vector, 10)
	for i := range src {
		src[i] = r3.Vector{X: float64(i)}
		dst[i] = r3.Vector{X: float64(i) * 2, Y: 1}
	}
	_, err := SolveSimilarity(src, dst)
	if !errors.Is(err, ErrDegenerateGeometry) {
		t.Errorf("error = %v, want ErrDegenerateGeometry", err)
	}
}

func TestSolveSimilarityCoincident(t *testing.T) {
	src := []r3.Vector{{X: 1, Y: 1, Z: 1}, {X: 1, Y: 1, Z: 1}, {X: 1, Y: 1, Z: 1}}
	dst := []r3.Vector{{X: 2}, {Y: 2}, {Z: 2}}
	_, err := SolveSimilarity(src, dst)
	if !errors.Is(err, ErrDegenerateGeometry) {
		t.Errorf("error = %v, want ErrDegenerateGeometry", err)
	}
}

func TestSolveSimilarityLengthMismatch(t *testing.T) {
	if _, err := SolveSimilarity(make([]r3.Vector, 4), make([]r3.Vector, 5)); err == nil {
		t.Error("expected error on length mismatch")
	}
}

func TestComposeMatchesSequentialApply(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	a := SimilarityTransform{
		Scale:       1.5,
		Rotation:    quatZ(math.Pi / 7).RotationMatrix(),
		Translation: r3.Vector{X: 1, Y: 2, Z: 3},
	}
	b := SimilarityTransform{
		Scale:       0.8,
		Rotation:    Quaternion{W: 0.9, X: 0.3, Y: 0.2, Z: 0.25}.Normalized().RotationMatrix(),
		Translation: r3.Vector{X: -2, Y: 0, Z: 1},
	}

	combined := a.Compose(b)
	for _, p := range randomPoints(10, rng) {
		want := b.Apply(a.Apply(p))
		got := combined.Apply(p)
		if !vecsClose(got, want, 1e-9) {
			t.Fatalf("compose apply = %v, sequential = %v", got, want)
		}
	}
}

func TestValidateRejectsReflection(t *testing.T) {
	reflection := SimilarityTransform{
		Scale: 1,
		Rotation: [9]float64{
			-1, 0, 0,
			0, 1, 0,
			0, 0, 1,
		},
	}
	if err := reflection.Validate(); err == nil {
		t.Error("expected Validate to reject reflection")
	}
}

func TestValidateRejectsNonPositiveScale(t *testing.T) {
	bad := IdentityTransform()
	bad.Scale = 0
	if err := bad.Validate(); err == nil {
		t.Error("expected Validate to reject zero scale")
	}
}
