package calib

import(
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/abworrall/panostitch/pkg/emath"
)

// WaveCorrectHorizontal levels the horizon of a rotation set. The camera x axes should
// all lie in the horizontal plane, so the "up" vector is the direction they spread
// least along; every rotation is then re-based so that up is the y axis.
func WaveCorrectHorizontal(rmats []emath.Mat3) []emath.Mat3 {
	out := append([]emath.Mat3{}, rmats...)
	if len(rmats) <= 1 {
		return out
	}

	moment := mat.NewSymDense(3, nil)
	imgK := emath.Vec3{}
	for _, r := range rmats {
		col := r.Col(0)
		for i:=0; i<3; i++ {
			for j:=i; j<3; j++ {
				moment.SetSym(i, j, moment.At(i, j) + col[i]*col[j])
			}
		}
		imgK = imgK.Add(r.Col(2))
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(moment, true); !ok {
		return out
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// eigenvalues come back ascending, so column 0 is the least spread direction
	rg1 := emath.Vec3{vecs.At(0, 0), vecs.At(1, 0), vecs.At(2, 0)}
	rg0 := rg1.Cross(imgK)
	if n := rg0.Norm(); n <= 1e-300 {
		return out
	} else {
		rg0 = rg0.Scale(1.0 / n)
	}
	rg2 := rg0.Cross(rg1)

	conf := 0.0
	for _, r := range rmats {
		conf += rg0.Dot(r.Col(0))
	}
	if conf < 0 {
		rg0 = rg0.Scale(-1)
		rg1 = rg1.Scale(-1)
	}

	rebase := emath.Mat3{
		rg0[0], rg0[1], rg0[2],
		rg1[0], rg1[1], rg1[2],
		rg2[0], rg2[1], rg2[2],
	}
	for i := range out {
		out[i] = rebase.Mult(rmats[i])
	}
	return out
}

// MedianFocal is the median of the focals, averaging the middle two for an even count.
func MedianFocal(focals []float64) (float64, error) {
	if len(focals) == 0 {
		return 0, errors.New("median of no focals")
	}
	return stats.Median(focals)
}
