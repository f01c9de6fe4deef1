package sfm

import (
	"math"

	"github.com/golang/geo/r3"
)

// unitTolerance is the allowed deviation of a quaternion norm from 1 before a
// pose is considered malformed. Parsers renormalise on load, so anything worse
// than this indicates corrupt input rather than rounding.
const unitTolerance = 1e-6

// Quaternion is a rotation quaternion in WXYZ order, matching the NVM camera
// entry layout.
type Quaternion struct {
	W, X, Y, Z float64
}

// QuaternionIdentity returns the identity rotation.
func QuaternionIdentity() Quaternion {
	return Quaternion{W: 1}
}

// Norm returns the quaternion norm.
func (q Quaternion) Norm() float64 {
	return math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
}

// IsUnit reports whether the quaternion has unit norm within tolerance.
func (q Quaternion) IsUnit() bool {
	n := q.Norm()
	return isFinite(n) && math.Abs(n-1) < unitTolerance
}

// Normalized returns the quaternion scaled to unit norm. The zero quaternion
// is returned unchanged.
func (q Quaternion) Normalized() Quaternion {
	n := q.Norm()
	if n == 0 {
		return q
	}
	return Quaternion{W: q.W / n, X: q.X / n, Y: q.Y / n, Z: q.Z / n}
}

// Conjugate returns the conjugate quaternion (inverse rotation for unit q).
func (q Quaternion) Conjugate() Quaternion {
	return Quaternion{W: q.W, X: -q.X, Y: -q.Y, Z: -q.Z}
}

// Mul returns the Hamilton product q*r (apply r first, then q).
func (q Quaternion) Mul(r Quaternion) Quaternion {
	return Quaternion{
		W: q.W*r.W - q.X*r.X - q.Y*r.Y - q.Z*r.Z,
		X: q.W*r.X + q.X*r.W + q.Y*r.Z - q.Z*r.Y,
		Y: q.W*r.Y - q.X*r.Z + q.Y*r.W + q.Z*r.X,
		Z: q.W*r.Z + q.X*r.Y - q.Y*r.X + q.Z*r.W,
	}
}

// Rotate applies the rotation to a vector.
func (q Quaternion) Rotate(v r3.Vector) r3.Vector {
	// v' = q * (0,v) * q^-1, expanded to avoid the intermediate products.
	u := r3.Vector{X: q.X, Y: q.Y, Z: q.Z}
	uv := u.Cross(v)
	uuv := u.Cross(uv)
	return v.Add(uv.Mul(2 * q.W)).Add(uuv.Mul(2))
}

// Angle returns the rotation angle of the quaternion in radians, in [0, pi].
func (q Quaternion) Angle() float64 {
	w := math.Abs(q.W)
	if w > 1 {
		w = 1
	}
	return 2 * math.Acos(w)
}

// AngleTo returns the smallest angle in radians between two rotations.
func (q Quaternion) AngleTo(r Quaternion) float64 {
	return q.Conjugate().Mul(r).Angle()
}

// RotationMatrix returns the row-major 3x3 rotation matrix of the quaternion.
func (q Quaternion) RotationMatrix() [9]float64 {
	w, x, y, z := q.W, q.X, q.Y, q.Z
	return [9]float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	}
}

// QuaternionFromMatrix converts a row-major 3x3 proper rotation matrix to a
// quaternion. Uses the Shepperd branch selection for numerical stability.
func QuaternionFromMatrix(m [9]float64) Quaternion {
	trace := m[0] + m[4] + m[8]
	var q Quaternion
	switch {
	case trace > 0:
		s := math.Sqrt(trace+1) * 2
		q = Quaternion{
			W: s / 4,
			X: (m[7] - m[5]) / s,
			Y: (m[2] - m[6]) / s,
			Z: (m[3] - m[1]) / s,
		}
	case m[0] > m[4] && m[0] > m[8]:
		s := math.Sqrt(1+m[0]-m[4]-m[8]) * 2
		q = Quaternion{
			W: (m[7] - m[5]) / s,
			X: s / 4,
			Y: (m[1] + m[3]) / s,
			Z: (m[2] + m[6]) / s,
		}
	case m[4] > m[8]:
		s := math.Sqrt(1+m[4]-m[0]-m[8]) * 2
		q = Quaternion{
			W: (m[2] - m[6]) / s,
			X: (m[1] + m[3]) / s,
			Y: s / 4,
			Z: (m[5] + m[7]) / s,
		}
	default:
		s := math.Sqrt(1+m[8]-m[0]-m[4]) * 2
		q = Quaternion{
			W: (m[3] - m[1]) / s,
			X: (m[2] + m[6]) / s,
			Y: (m[5] + m[7]) / s,
			Z: s / 4,
		}
	}
	return q.Normalized()
}

// AngleBetween returns the non-oriented angle in radians between two vectors,
// clamped against rounding above 1.
func AngleBetween(a, b r3.Vector) float64 {
	na, nb := a.Norm(), b.Norm()
	if na == 0 || nb == 0 {
		return 0
	}
	cos := a.Dot(b) / (na * nb)
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}
	return math.Acos(cos)
}
