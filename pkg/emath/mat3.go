package emath

// 3x3 matrices and 3-vectors, used for camera matrices, rotations and homographies.

import(
	"fmt"
	"math"

	"github.com/pkg/errors"
	"golang.org/x/image/math/f64"  // Will be "image/math/f64" at some point
	"gonum.org/v1/gonum/mat"
)

// Use local types so we can hang methods off them. Mat3 is row-major.
type Vec3 f64.Vec3
type Mat3 f64.Mat3

var ErrSingular = errors.New("singular matrix")

func Identity3() Mat3 {
	return Mat3{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	}
}

// Mat3FromSlice takes 9 row-major values, as stored in the manifests.
func Mat3FromSlice(v []float64) (Mat3, error) {
	if len(v) != 9 {
		return Mat3{}, errors.Errorf("need 9 values for a 3x3 matrix, got %d", len(v))
	}
	m := Mat3{}
	copy(m[:], v)
	return m, nil
}

func Mat3FromDense(d mat.Matrix) Mat3 {
	m := Mat3{}
	for r:=0; r<3; r++ {
		for c:=0; c<3; c++ {
			m[3*r+c] = d.At(r, c)
		}
	}
	return m
}

func (m Mat3)Slice() []float64     { s := make([]float64, 9); copy(s, m[:]); return s }
func (m Mat3)At(r, c int) float64  { return m[3*r+c] }
func (m Mat3)Row(r int) Vec3       { return Vec3{m[3*r], m[3*r+1], m[3*r+2]} }
func (m Mat3)Col(c int) Vec3       { return Vec3{m[c], m[3+c], m[6+c]} }
func (m Mat3)Dense() *mat.Dense    { return mat.NewDense(3, 3, m.Slice()) }

func (a Mat3)Mult(b Mat3) Mat3 {
	return Mat3{
		a[3*0+0]*b[3*0+0] + a[3*0+1]*b[3*1+0] + a[3*0+2]*b[3*2+0],
		a[3*0+0]*b[3*0+1] + a[3*0+1]*b[3*1+1] + a[3*0+2]*b[3*2+1],
		a[3*0+0]*b[3*0+2] + a[3*0+1]*b[3*1+2] + a[3*0+2]*b[3*2+2],

		a[3*1+0]*b[3*0+0] + a[3*1+1]*b[3*1+0] + a[3*1+2]*b[3*2+0],
		a[3*1+0]*b[3*0+1] + a[3*1+1]*b[3*1+1] + a[3*1+2]*b[3*2+1],
		a[3*1+0]*b[3*0+2] + a[3*1+1]*b[3*1+2] + a[3*1+2]*b[3*2+2],

		a[3*2+0]*b[3*0+0] + a[3*2+1]*b[3*1+0] + a[3*2+2]*b[3*2+0],
		a[3*2+0]*b[3*0+1] + a[3*2+1]*b[3*1+1] + a[3*2+2]*b[3*2+1],
		a[3*2+0]*b[3*0+2] + a[3*2+1]*b[3*1+2] + a[3*2+2]*b[3*2+2],
	}
}

func (m Mat3)Apply(v Vec3) Vec3 {
	return Vec3{
		(m[3*0+0]*v[0] + m[3*0+1]*v[1] + m[3*0+2]*v[2]),
		(m[3*1+0]*v[0] + m[3*1+1]*v[1] + m[3*1+2]*v[2]),
		(m[3*2+0]*v[0] + m[3*2+1]*v[1] + m[3*2+2]*v[2]),
	}
}

func (m Mat3)Scale(f float64) Mat3 {
	for i := range m {
		m[i] *= f
	}
	return m
}

func (m Mat3)Transpose() Mat3 {
	return Mat3{
		m[0], m[3], m[6],
		m[1], m[4], m[7],
		m[2], m[5], m[8],
	}
}

func (m Mat3)Det() float64 {
	return m[0]*(m[4]*m[8]-m[5]*m[7]) - m[1]*(m[3]*m[8]-m[5]*m[6]) + m[2]*(m[3]*m[7]-m[4]*m[6])
}

// Inverse by the adjugate; fine for the well-conditioned camera matrices we see.
func (m Mat3)Inverse() (Mat3, error) {
	det := m.Det()
	if math.Abs(det) < 1e-15 {
		return Mat3{}, ErrSingular
	}
	inv := Mat3{
		m[4]*m[8] - m[5]*m[7], m[2]*m[7] - m[1]*m[8], m[1]*m[5] - m[2]*m[4],
		m[5]*m[6] - m[3]*m[8], m[0]*m[8] - m[2]*m[6], m[2]*m[3] - m[0]*m[5],
		m[3]*m[7] - m[4]*m[6], m[1]*m[6] - m[0]*m[7], m[0]*m[4] - m[1]*m[3],
	}
	return inv.Scale(1.0 / det), nil
}

// Orthonormalize returns the nearest rotation matrix (R = U*Vt), with the sign fixed so
// that det(R) = +1.
func (m Mat3)Orthonormalize() Mat3 {
	var svd mat.SVD
	if ok := svd.Factorize(m.Dense(), mat.SVDFull); !ok {
		return m
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var r mat.Dense
	r.Mul(&u, v.T())
	out := Mat3FromDense(&r)
	if out.Det() < 0 {
		// flip the column of U belonging to the smallest singular value
		for row:=0; row<3; row++ {
			u.Set(row, 2, -u.At(row, 2))
		}
		r.Mul(&u, v.T())
		out = Mat3FromDense(&r)
	}
	return out
}

// ApproxEqual compares elementwise.
func (a Mat3)ApproxEqual(b Mat3, tol float64) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}

func (m Mat3)String() string {
	str := fmt.Sprintf("[%10f, %10f, %10f]\n", m[3*0+0], m[3*0+1], m[3*0+2])
	str += fmt.Sprintf("[%10f, %10f, %10f]\n", m[3*1+0], m[3*1+1], m[3*1+2])
	str += fmt.Sprintf("[%10f, %10f, %10f]\n", m[3*2+0], m[3*2+1], m[3*2+2])
	return str
}

func (v Vec3)String() string {
	return fmt.Sprintf("[%12.10f, %12.10f, %12.10f]", v[0], v[1], v[2])
}

func (a Vec3)Dot(b Vec3) float64   { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }
func (a Vec3)Add(b Vec3) Vec3      { return Vec3{a[0]+b[0], a[1]+b[1], a[2]+b[2]} }
func (a Vec3)Sub(b Vec3) Vec3      { return Vec3{a[0]-b[0], a[1]-b[1], a[2]-b[2]} }
func (a Vec3)Scale(f float64) Vec3 { return Vec3{a[0]*f, a[1]*f, a[2]*f} }
func (a Vec3)Norm() float64        { return math.Sqrt(a.Dot(a)) }

func (a Vec3)Cross(b Vec3) Vec3 {
	return Vec3{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func (a Vec3)Normalize() Vec3 {
	n := a.Norm()
	if n == 0 {
		return a
	}
	return a.Scale(1.0 / n)
}

// Rodrigues turns an axis-angle vector into a rotation matrix.
func Rodrigues(rv Vec3) Mat3 {
	theta := rv.Norm()
	if theta < 1e-12 {
		return Identity3()
	}
	k := rv.Scale(1.0 / theta)
	K := Mat3{
		0, -k[2], k[1],
		k[2], 0, -k[0],
		-k[1], k[0], 0,
	}
	K2 := K.Mult(K)
	s, c := math.Sin(theta), 1.0-math.Cos(theta)

	R := Identity3()
	for i := range R {
		R[i] += s*K[i] + c*K2[i]
	}
	return R
}

// RodriguesVec is the inverse of Rodrigues, for a proper rotation matrix.
func (m Mat3)RodriguesVec() Vec3 {
	c := (m[0] + m[4] + m[8] - 1.0) / 2.0
	c = math.Max(-1, math.Min(1, c))
	theta := math.Acos(c)
	s := math.Sin(theta)

	if s < 1e-9 {
		if c > 0 {
			return Vec3{}
		}
		// theta ~ pi; recover the axis from the diagonal
		axis := Vec3{
			math.Sqrt(math.Max(0, (m[0]+1)/2)),
			math.Sqrt(math.Max(0, (m[4]+1)/2)),
			math.Sqrt(math.Max(0, (m[8]+1)/2)),
		}
		if m[1] < 0 { axis[1] = -axis[1] }
		if m[2] < 0 { axis[2] = -axis[2] }
		return axis.Normalize().Scale(theta)
	}

	k := theta / (2 * s)
	return Vec3{(m[7] - m[5]) * k, (m[2] - m[6]) * k, (m[3] - m[1]) * k}
}
