package parse

import (
	"bufio"
	"fmt"
	"math"
	"os"

	"github.com/davidemarelli/sfm-flow/internal/sfm"
)

// WriteNVM writes models to an NVM_V3 file, inverting the coordinate
// conversions applied by the parser: world poses go back to the Y-up frame
// and camera rotations to the world-to-camera quaternion NVM stores.
func WriteNVM(models []*sfm.Model, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create nvm file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "NVM_V3")
	fmt.Fprintln(w)

	zupToYup := yupToZup.transpose()
	for _, model := range models {
		fmt.Fprintln(w, len(model.Cameras))
		for _, cam := range model.Cameras {
			m := mat3(cam.Rotation.RotationMatrix())
			// Parser: R_world = yupToZup * R' * flipZ, so
			// R = (yupToZup' * R_world * flipZ)'.
			r := zupToYup.mul(m).mul(flipZ).transpose()
			q := r.quaternion()
			c := zupToYup.apply(cam.Position)
			fmt.Fprintf(w, "%s %.9g %.9g %.9g %.9g %.9g %.9g %.9g %.9g %.9g 0\n",
				cam.ID, cam.FocalLength, q.W, q.X, q.Y, q.Z, c.X, c.Y, c.Z, cam.RadialDistortion)
		}
		fmt.Fprintln(w)

		var points []sfm.PointSample
		if model.Cloud != nil {
			points = model.Cloud.Points
		}
		fmt.Fprintln(w, len(points))
		for _, pt := range points {
			p := zupToYup.apply(pt.Position)
			fmt.Fprintf(w, "%.9g %.9g %.9g %d %d %d 0\n",
				p.X, p.Y, p.Z,
				clampByte(pt.Color[0]*255), clampByte(pt.Color[1]*255), clampByte(pt.Color[2]*255))
		}
		fmt.Fprintln(w)
	}

	// Empty-model terminator.
	fmt.Fprintln(w, 0)
	return w.Flush()
}

func clampByte(v float64) int {
	return int(math.Min(255, math.Max(0, math.Round(v))))
}
