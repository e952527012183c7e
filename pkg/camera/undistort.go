package camera

import(
	"image"
	"math"

	"github.com/pkg/errors"

	"github.com/abworrall/panostitch/pkg/emath"
)

// Distortion is the Brown-Conrady lens model, with the optional rational, thin prism
// and tilted sensor terms, in the usual coefficient order:
//   k1 k2 p1 p2 [k3 [k4 k5 k6 [s1 s2 s3 s4 [tauX tauY]]]]
type Distortion struct {
	K1, K2, K3     float64 // radial
	K4, K5, K6     float64 // rational denominator
	P1, P2         float64 // tangential
	S1, S2, S3, S4 float64 // thin prism
	TauX, TauY     float64 // sensor tilt, radians
}

func NewDistortion(coeffs []float64) (Distortion, error) {
	c := make([]float64, 14)
	switch len(coeffs) {
	case 0, 4, 5, 8, 12, 14:
		copy(c, coeffs)
	default:
		return Distortion{}, errors.Errorf("distortion wants 0, 4, 5, 8, 12 or 14 coefficients, got %d", len(coeffs))
	}
	return Distortion{
		K1: c[0], K2: c[1], P1: c[2], P2: c[3], K3: c[4], K4: c[5], K5: c[6], K6: c[7],
		S1: c[8], S2: c[9], S3: c[10], S4: c[11], TauX: c[12], TauY: c[13],
	}, nil
}

func (d Distortion)IsZero() bool { return d == Distortion{} }

// tilt is the projection that models a sensor tilted by TauX about x then TauY about y.
func (d Distortion)tilt() emath.Mat3 {
	cx, sx := math.Cos(d.TauX), math.Sin(d.TauX)
	cy, sy := math.Cos(d.TauY), math.Sin(d.TauY)
	rotX := emath.Mat3{1, 0, 0, 0, cx, sx, 0, -sx, cx}
	rotY := emath.Mat3{cy, 0, -sy, 0, 1, 0, sy, 0, cy}
	rot := rotY.Mult(rotX)
	projZ := emath.Mat3{rot.At(2,2), 0, -rot.At(0,2), 0, rot.At(2,2), -rot.At(1,2), 0, 0, 1}
	return projZ.Mult(rot)
}

// Distort takes a point in normalized image coordinates to where the lens puts it.
func (d Distortion)Distort(x, y float64) (float64, float64) {
	r2 := x*x + y*y
	r4 := r2 * r2
	r6 := r4 * r2
	radial := (1 + d.K1*r2 + d.K2*r4 + d.K3*r6) / (1 + d.K4*r2 + d.K5*r4 + d.K6*r6)

	xd := x*radial + 2*d.P1*x*y + d.P2*(r2+2*x*x) + d.S1*r2 + d.S2*r4
	yd := y*radial + d.P1*(r2+2*y*y) + 2*d.P2*x*y + d.S3*r2 + d.S4*r4

	if d.TauX != 0 || d.TauY != 0 {
		v := d.tilt().Apply(emath.Vec3{xd, yd, 1})
		if v[2] != 0 {
			xd, yd = v[0]/v[2], v[1]/v[2]
		}
	}
	return xd, yd
}

// BuildUndistortMaps builds the table that, sampled over the raw frame, gives the
// pinhole-equivalent image of the same size (the new camera matrix is k itself).
func BuildUndistortMaps(k emath.Mat3, dist []float64, dims image.Point) (RemapTable, error) {
	d, err := NewDistortion(dist)
	if err != nil {
		return RemapTable{}, err
	}
	fx, fy := k.At(0,0)/k.At(2,2), k.At(1,1)/k.At(2,2)
	cx, cy := k.At(0,2)/k.At(2,2), k.At(1,2)/k.At(2,2)
	if fx == 0 || fy == 0 {
		return RemapTable{}, errors.Errorf("intrinsic has a zero focal length:\n%s", k)
	}

	if d.IsZero() {
		return IdentityTable(dims), nil
	}

	t := NewRemapTable(dims.X, dims.Y)
	parallelRows(dims.Y, func(y0, y1 int) {
		for v:=y0; v<y1; v++ {
			for u:=0; u<dims.X; u++ {
				x := (float64(u) - cx) / fx
				y := (float64(v) - cy) / fy
				xd, yd := d.Distort(x, y)
				t.X.Set(u, v, fx*xd+cx)
				t.Y.Set(u, v, fy*yd+cy)
			}
		}
	})

	return t, nil
}
