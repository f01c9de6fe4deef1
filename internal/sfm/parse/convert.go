package parse

import (
	"github.com/golang/geo/r3"

	"github.com/davidemarelli/sfm-flow/internal/sfm"
)

// mat3 is a row-major 3x3 rotation matrix.
type mat3 [9]float64

// yupToZup rotates the Y-up right-handed frame used by Bundler and NVM
// output into the Z-up world frame (-90 degrees about X).
var yupToZup = mat3{
	1, 0, 0,
	0, 0, 1,
	0, -1, 0,
}

// flipZ rotates 180 degrees about X. NVM cameras look down +Z while the
// world convention used here has cameras looking down -Z.
var flipZ = mat3{
	1, 0, 0,
	0, -1, 0,
	0, 0, -1,
}

func (m mat3) mul(o mat3) mat3 {
	var r mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i*3+j] = m[i*3]*o[j] + m[i*3+1]*o[3+j] + m[i*3+2]*o[6+j]
		}
	}
	return r
}

func (m mat3) transpose() mat3 {
	return mat3{
		m[0], m[3], m[6],
		m[1], m[4], m[7],
		m[2], m[5], m[8],
	}
}

func (m mat3) apply(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m[0]*v.X + m[1]*v.Y + m[2]*v.Z,
		Y: m[3]*v.X + m[4]*v.Y + m[5]*v.Z,
		Z: m[6]*v.X + m[7]*v.Y + m[8]*v.Z,
	}
}

func (m mat3) quaternion() sfm.Quaternion {
	return sfm.QuaternionFromMatrix([9]float64(m))
}
