package geosolver

import(
	"math"
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/abworrall/panostitch/pkg/emath"
)

var ErrDegenerate = errors.New("degenerate point configuration")

// normalizer returns the similarity that moves the points' centroid to the origin and
// scales their mean distance from it to sqrt(2).
func normalizer(pts []r2.Point) emath.Mat3 {
	c := r2.Point{}
	for _, p := range pts {
		c = c.Add(p)
	}
	c = c.Mul(1.0 / float64(len(pts)))

	d := 0.0
	for _, p := range pts {
		d += p.Sub(c).Norm()
	}
	d /= float64(len(pts))

	s := 1.0
	if d > 0 {
		s = math.Sqrt2 / d
	}
	return emath.Mat3{
		s, 0, -s*c.X,
		0, s, -s*c.Y,
		0, 0, 1,
	}
}

func transfer(h emath.Mat3, p r2.Point) (r2.Point, bool) {
	v := h.Apply(emath.Vec3{p.X, p.Y, 1})
	if math.Abs(v[2]) < 1e-12 {
		return r2.Point{}, false
	}
	return r2.Point{X: v[0]/v[2], Y: v[1]/v[2]}, true
}

// fitHomography is the normalised direct linear transform: H is the null vector of the
// stacked point constraints, taken as the eigenvector of AᵀA with the smallest
// eigenvalue.
func fitHomography(src, dst []r2.Point) (emath.Mat3, error) {
	if len(src) < 4 || len(src) != len(dst) {
		return emath.Mat3{}, errors.Wrapf(ErrDegenerate, "need 4 or more point pairs, have %d", len(src))
	}

	ts, td := normalizer(src), normalizer(dst)
	ata := mat.NewSymDense(9, nil)
	addRow := func(r [9]float64) {
		for i:=0; i<9; i++ {
			for j:=i; j<9; j++ {
				ata.SetSym(i, j, ata.At(i, j) + r[i]*r[j])
			}
		}
	}
	for i := range src {
		p := ts.Apply(emath.Vec3{src[i].X, src[i].Y, 1})
		q := td.Apply(emath.Vec3{dst[i].X, dst[i].Y, 1})
		x, y, u, v := p[0], p[1], q[0], q[1]
		addRow([9]float64{-x, -y, -1, 0, 0, 0, u*x, u*y, u})
		addRow([9]float64{0, 0, 0, -x, -y, -1, v*x, v*y, v})
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(ata, true); !ok {
		return emath.Mat3{}, errors.Wrap(ErrDegenerate, "eigen decomposition failed")
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	hn := emath.Mat3{}
	for i:=0; i<9; i++ {
		hn[i] = vecs.At(i, 0)
	}

	tdInv, err := td.Inverse()
	if err != nil {
		return emath.Mat3{}, errors.Wrap(ErrDegenerate, "destination points coincide")
	}
	h := tdInv.Mult(hn).Mult(ts)
	if math.Abs(h[8]) < 1e-12 {
		return emath.Mat3{}, errors.Wrap(ErrDegenerate, "homography sends the origin to infinity")
	}
	return h.Scale(1.0 / h[8]), nil
}

func countInliers(h emath.Mat3, src, dst []r2.Point, thresh float64) ([]bool, int) {
	mask := make([]bool, len(src))
	n := 0
	for i := range src {
		p, ok := transfer(h, src[i])
		if ok && p.Sub(dst[i]).Norm() <= thresh {
			mask[i] = true
			n++
		}
	}
	return mask, n
}

// ransacHomography fits H (src -> dst) robustly, refitting on the winning consensus set.
// The seed makes results repeatable.
func ransacHomography(src, dst []r2.Point, thresh float64, iters int, seed int64) (emath.Mat3, []bool, error) {
	n := len(src)
	if n < 4 {
		return emath.Mat3{}, nil, errors.Wrapf(ErrDegenerate, "%d matches", n)
	}
	rng := rand.New(rand.NewSource(seed))

	var bestH emath.Mat3
	var bestMask []bool
	bestN := 0
	for it:=0; it<iters; it++ {
		idx := rng.Perm(n)[:4]
		s := []r2.Point{src[idx[0]], src[idx[1]], src[idx[2]], src[idx[3]]}
		d := []r2.Point{dst[idx[0]], dst[idx[1]], dst[idx[2]], dst[idx[3]]}
		h, err := fitHomography(s, d)
		if err != nil {
			continue
		}
		if mask, k := countInliers(h, src, dst, thresh); k > bestN {
			bestH, bestMask, bestN = h, mask, k
			if k == n {
				break
			}
		}
	}
	if bestN < 4 {
		return emath.Mat3{}, nil, errors.Wrapf(ErrDegenerate, "no consensus among %d matches", n)
	}

	in := func(pts []r2.Point) []r2.Point {
		out := []r2.Point{}
		for i, ok := range bestMask {
			if ok {
				out = append(out, pts[i])
			}
		}
		return out
	}
	if h, err := fitHomography(in(src), in(dst)); err == nil {
		if mask, k := countInliers(h, src, dst, thresh); k >= bestN {
			bestH, bestMask = h, mask
		}
	}
	return bestH, bestMask, nil
}
