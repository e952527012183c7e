package geosolver

import(
	"context"
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"

	"github.com/abworrall/panostitch/pkg/calib"
	"github.com/abworrall/panostitch/pkg/emath"
)

type observation struct {
	i, j   int       // image indices
	pi, pj r2.Point  // the same scene point, seen in each image
}

func observations(matches []calib.PairwiseMatch, confThresh float64) []observation {
	out := []observation{}
	for _, m := range matches {
		if m.Confidence < confThresh {
			continue
		}
		for _, in := range m.Inliers {
			out = append(out, observation{m.A, m.B, in[0], in[1]})
		}
	}
	return out
}

type bundle struct {
	variant calib.BundleAdjuster
	params  []calib.CameraParams
	kInv    []emath.Mat3
	obs     []observation
}

func (b bundle)rotations(x []float64) []emath.Mat3 {
	rs := make([]emath.Mat3, len(b.params))
	for i := range rs {
		rs[i] = emath.Rodrigues(emath.Vec3{x[3*i], x[3*i+1], x[3*i+2]})
	}
	return rs
}

// cost is the sum of squared residuals for rotations packed as Rodrigues vectors in x.
func (b bundle)cost(x []float64) float64 {
	rs := b.rotations(x)
	total := 0.0

	for _, o := range b.obs {
		switch b.variant {
		case calib.AdjustReproj:
			// carry the point seen in j over into image i
			h := b.params[o.i].K().Mult(rs[o.i].Transpose()).Mult(rs[o.j]).Mult(b.kInv[o.j])
			q, ok := transfer(h, o.pj)
			if !ok {
				total += 1e6
				continue
			}
			d := q.Sub(o.pi)
			total += d.X*d.X + d.Y*d.Y

		default:
			ri := rs[o.i].Apply(b.kInv[o.i].Apply(emath.Vec3{o.pi.X, o.pi.Y, 1})).Normalize()
			rj := rs[o.j].Apply(b.kInv[o.j].Apply(emath.Vec3{o.pj.X, o.pj.Y, 1})).Normalize()
			d := ri.Sub(rj).Scale(math.Sqrt(b.params[o.i].Focal * b.params[o.j].Focal))
			total += d.Dot(d)
		}
	}
	return total
}

// AdjustBundle refines the rotations only; focals and principal points stay as seeded.
// Only matches at least as confident as confThresh contribute.
func (s *Solver)AdjustBundle(ctx context.Context, variant calib.BundleAdjuster, features []calib.FeatureSet, matches []calib.PairwiseMatch, params []calib.CameraParams, confThresh float64) ([]calib.CameraParams, error) {
	if variant == calib.AdjustNone {
		return params, nil
	}
	if len(params) != len(features) {
		return nil, errors.Errorf("%d cameras for %d feature sets", len(params), len(features))
	}

	b := bundle{variant: variant, params: params, obs: observations(matches, confThresh)}
	if len(b.obs) == 0 {
		return nil, errors.Errorf("no inliers from matches above confidence %.2f", confThresh)
	}
	for _, p := range params {
		kInv, err := p.K().Inverse()
		if err != nil {
			return nil, errors.Wrap(err, "camera matrix")
		}
		b.kInv = append(b.kInv, kInv)
	}

	x0 := make([]float64, 3*len(params))
	for i, p := range params {
		rv := p.R.RodriguesVec()
		copy(x0[3*i:], rv[:])
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	initial := b.cost(x0)
	problem := optimize.Problem{
		Func: b.cost,
		Grad: func(grad, x []float64) {
			fd.Gradient(grad, b.cost, x, nil)
		},
	}
	settings := &optimize.Settings{MajorIterations: s.AdjustIterations}

	res, err := optimize.Minimize(problem, x0, settings, &optimize.LBFGS{})
	if res == nil {
		return nil, errors.Wrapf(err, "%s adjustment", variant)
	}
	if err != nil && res.F > initial {
		return nil, errors.Wrapf(err, "%s adjustment", variant)
	}
	if math.IsNaN(res.F) || math.IsInf(res.F, 0) {
		return nil, errors.Errorf("%s adjustment diverged", variant)
	}
	s.log.Infof("%s adjustment: %d observations, rms %.3f -> %.3f (%s)", variant, len(b.obs),
		math.Sqrt(initial/float64(len(b.obs))), math.Sqrt(res.F/float64(len(b.obs))), res.Status)

	out := append([]calib.CameraParams{}, params...)
	for i, r := range b.rotations(res.X) {
		out[i].R = r
	}
	return out, ctx.Err()
}
