package sfm

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// degenerateRatio is the relative singular value below which the Procrustes
// solve is considered rank deficient: coincident correspondences collapse all
// singular values, collinear ones collapse the second.
const degenerateRatio = 1e-9

// SimilarityTransform maps reconstructed coordinates onto ground truth
// coordinates: p' = scale * R * p + translation.
type SimilarityTransform struct {
	Scale       float64    `json:"scale"`
	Rotation    [9]float64 `json:"rotation"` // row-major proper rotation, det +1
	Translation r3.Vector  `json:"translation"`
}

// IdentityTransform returns the identity similarity transform.
func IdentityTransform() SimilarityTransform {
	return SimilarityTransform{
		Scale:    1,
		Rotation: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
	}
}

// Apply maps a point through the transform.
func (t SimilarityTransform) Apply(p r3.Vector) r3.Vector {
	m := t.Rotation
	r := r3.Vector{
		X: m[0]*p.X + m[1]*p.Y + m[2]*p.Z,
		Y: m[3]*p.X + m[4]*p.Y + m[5]*p.Z,
		Z: m[6]*p.X + m[7]*p.Y + m[8]*p.Z,
	}
	return r.Mul(t.Scale).Add(t.Translation)
}

// ApplyAll maps a point slice through the transform.
func (t SimilarityTransform) ApplyAll(ps []r3.Vector) []r3.Vector {
	out := make([]r3.Vector, len(ps))
	for i, p := range ps {
		out[i] = t.Apply(p)
	}
	return out
}

// RotationQuaternion returns the rotation part as a quaternion.
func (t SimilarityTransform) RotationQuaternion() Quaternion {
	return QuaternionFromMatrix(t.Rotation)
}

// Compose returns the transform equivalent to applying t first, then u.
func (t SimilarityTransform) Compose(u SimilarityTransform) SimilarityTransform {
	a, b := u.Rotation, t.Rotation
	var m [9]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m[3*i+j] = a[3*i]*b[j] + a[3*i+1]*b[3+j] + a[3*i+2]*b[6+j]
		}
	}
	return SimilarityTransform{
		Scale:       u.Scale * t.Scale,
		Rotation:    m,
		Translation: u.Apply(t.Translation),
	}
}

// Validate checks for positive scale and a proper orthonormal rotation.
func (t SimilarityTransform) Validate() error {
	if !(t.Scale > 0) || !isFinite(t.Scale) {
		return fmt.Errorf("similarity scale must be positive, got %v", t.Scale)
	}
	r := mat.NewDense(3, 3, t.Rotation[:])
	var rtr mat.Dense
	rtr.Mul(r.T(), r)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(rtr.At(i, j)-want) > 1e-6 {
				return fmt.Errorf("similarity rotation is not orthonormal")
			}
		}
	}
	if d := mat.Det(r); math.Abs(d-1) > 1e-6 {
		return fmt.Errorf("similarity rotation has determinant %v, want +1", d)
	}
	return nil
}

// SolveSimilarity computes the least-squares similarity transform mapping the
// source points onto the destination points (absolute orientation, Umeyama
// style): both sets are centred on their centroids, the scale is the ratio of
// RMS distances from centroid, the rotation is the SVD-based orthogonal
// Procrustes solution with determinant sign correction, and the translation
// follows from the centroid offset.
//
// Fails with ErrInsufficientCorrespondences for fewer than three pairs and
// with ErrDegenerateGeometry when the pairs are coincident or collinear.
func SolveSimilarity(src, dst []r3.Vector) (SimilarityTransform, error) {
	return solveTransform(src, dst, true)
}

// solveRigid is the scale-free variant used by ICP iterations, where the
// initial similarity solve has already fixed the scale.
func solveRigid(src, dst []r3.Vector) (SimilarityTransform, error) {
	return solveTransform(src, dst, false)
}

func solveTransform(src, dst []r3.Vector, withScale bool) (SimilarityTransform, error) {
	if len(src) != len(dst) {
		return SimilarityTransform{}, fmt.Errorf("correspondence size mismatch: %d vs %d", len(src), len(dst))
	}
	n := len(src)
	if n < DefaultMinCorrespondences {
		return SimilarityTransform{}, fmt.Errorf("%w: %d pairs", ErrInsufficientCorrespondences, n)
	}

	srcC := centroid(src)
	dstC := centroid(dst)

	// RMS spread of each set about its centroid; the scale is their ratio.
	var srcVar, dstVar float64
	for i := 0; i < n; i++ {
		ds := src[i].Sub(srcC)
		dd := dst[i].Sub(dstC)
		srcVar += ds.Dot(ds)
		dstVar += dd.Dot(dd)
	}
	if srcVar == 0 || dstVar == 0 {
		return SimilarityTransform{}, fmt.Errorf("%w: coincident points", ErrDegenerateGeometry)
	}
	scale := 1.0
	if withScale {
		scale = math.Sqrt(dstVar / srcVar)
	}

	// Cross covariance H = sum(dst_c * src_c^T).
	h := mat.NewDense(3, 3, nil)
	for i := 0; i < n; i++ {
		ds := src[i].Sub(srcC)
		dd := dst[i].Sub(dstC)
		d := []float64{dd.X, dd.Y, dd.Z}
		s := []float64{ds.X, ds.Y, ds.Z}
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				h.Set(r, c, h.At(r, c)+d[r]*s[c])
			}
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(h, mat.SVDFull); !ok {
		return SimilarityTransform{}, fmt.Errorf("%w: SVD factorization failed", ErrDegenerateGeometry)
	}
	sv := svd.Values(nil)
	// Collinear points leave the rotation about the line axis free: the
	// second singular value vanishes.
	if sv[0] == 0 || sv[1] <= degenerateRatio*sv[0] {
		return SimilarityTransform{}, fmt.Errorf("%w: collinear correspondences", ErrDegenerateGeometry)
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// R = U * diag(1,1,det(U V^T)) * V^T keeps the rotation proper.
	var uvt mat.Dense
	uvt.Mul(&u, v.T())
	d := 1.0
	if mat.Det(&uvt) < 0 {
		d = -1
	}
	sign := mat.NewDiagDense(3, []float64{1, 1, d})
	var r mat.Dense
	r.Mul(&u, sign)
	r.Mul(&r, v.T())

	var rot [9]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rot[3*i+j] = r.At(i, j)
		}
	}

	t := SimilarityTransform{Scale: scale, Rotation: rot}
	t.Translation = dstC.Sub(t.Apply(srcC))
	return t, nil
}

// SolveCorrespondences runs the similarity solve over the matched pairs of a
// correspondence set.
func SolveCorrespondences(truth, recon []r3.Vector, cs *CorrespondenceSet) (SimilarityTransform, error) {
	src := make([]r3.Vector, len(cs.Pairs))
	dst := make([]r3.Vector, len(cs.Pairs))
	for i, pair := range cs.Pairs {
		src[i] = recon[pair.ReconIdx]
		dst[i] = truth[pair.TruthIdx]
	}
	return SolveSimilarity(src, dst)
}

func centroid(ps []r3.Vector) r3.Vector {
	var sum r3.Vector
	for _, p := range ps {
		sum = sum.Add(p)
	}
	return sum.Mul(1 / float64(len(ps)))
}
