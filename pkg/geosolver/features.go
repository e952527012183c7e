package geosolver

import(
	"image"
	"math"
	"math/rand"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/floats"

	"github.com/abworrall/panostitch/pkg/camera"
	"github.com/abworrall/panostitch/pkg/emath"
)

const(
	patchSize   = 31
	patchRadius = patchSize / 2
	nSampleBits = 256
)

// samplePairs are the fixed BRIEF comparison offsets, drawn from a gaussian around the
// patch center and clipped to the patch.
var samplePairs = generateSamplePairs(nSampleBits, 0x5eed)

func generateSamplePairs(n int, seed int64) [][2]image.Point {
	rng := rand.New(rand.NewSource(seed))
	sample := func() int {
		v := int(math.Round(rng.NormFloat64() * float64(patchSize) / 5.0))
		return emath.ClampInt(v, -patchRadius, patchRadius)
	}

	out := make([][2]image.Point, n)
	for i := range out {
		out[i] = [2]image.Point{{sample(), sample()}, {sample(), sample()}}
	}
	return out
}

// luminance returns a grid of gray levels in [0,255].
func luminance(img image.Image) emath.FloatGrid {
	rgba := camera.ToRGBA(img)
	w, h := rgba.Rect.Dx(), rgba.Rect.Dy()
	g := emath.NewFloatGrid(w, h)
	for y:=0; y<h; y++ {
		for x:=0; x<w; x++ {
			i := rgba.PixOffset(rgba.Rect.Min.X+x, rgba.Rect.Min.Y+y)
			r, gr, b := float64(rgba.Pix[i]), float64(rgba.Pix[i+1]), float64(rgba.Pix[i+2])
			g.Set(x, y, 0.299*r + 0.587*gr + 0.114*b)
		}
	}
	return g
}

// harrisResponse is det(M) - k*trace(M)^2 of the smoothed structure tensor M.
func harrisResponse(lum emath.FloatGrid, k float64) emath.FloatGrid {
	w, h := lum.Dx(), lum.Dy()
	xx, yy, xy := emath.NewFloatGrid(w, h), emath.NewFloatGrid(w, h), emath.NewFloatGrid(w, h)

	for y:=1; y<h-1; y++ {
		for x:=1; x<w-1; x++ {
			ix := (lum.Get(x+1,y) - lum.Get(x-1,y)) / 2.0
			iy := (lum.Get(x,y+1) - lum.Get(x,y-1)) / 2.0
			xx.Set(x, y, ix*ix)
			yy.Set(x, y, iy*iy)
			xy.Set(x, y, ix*iy)
		}
	}
	xx = xx.GaussianBlur().GaussianBlur()
	yy = yy.GaussianBlur().GaussianBlur()
	xy = xy.GaussianBlur().GaussianBlur()

	resp := emath.NewFloatGrid(w, h)
	for y:=0; y<h; y++ {
		for x:=0; x<w; x++ {
			a, b, c := xx.Get(x,y), yy.Get(x,y), xy.Get(x,y)
			tr := a + b
			resp.Set(x, y, a*b - c*c - k*tr*tr)
		}
	}
	return resp
}

type corner struct {
	pt   image.Point
	resp float64
}

// detectCorners finds local maxima of the Harris response that are strong relative to
// the best one, keeping at most limit of them. Corners too near the edge to carry a full
// descriptor patch are skipped.
func detectCorners(resp emath.FloatGrid, relThresh float64, limit int) []corner {
	_, top := resp.MinMax()
	if top <= 0 {
		return nil
	}
	thresh := top * relThresh
	border := patchRadius + 1

	out := []corner{}
	for y:=border; y<resp.Dy()-border; y++ {
		for x:=border; x<resp.Dx()-border; x++ {
			v := resp.Get(x, y)
			if v <= thresh || !isLocalMax(resp, x, y) {
				continue
			}
			out = append(out, corner{image.Point{x, y}, v})
		}
	}

	// strongest first
	neg := make([]float64, len(out))
	for i, c := range out {
		neg[i] = -c.resp
	}
	inds := make([]int, len(out))
	floats.Argsort(neg, inds)

	if limit > 0 && len(inds) > limit {
		inds = inds[:limit]
	}
	sorted := make([]corner, len(inds))
	for i, idx := range inds {
		sorted[i] = out[idx]
	}
	return sorted
}

// isLocalMax breaks plateaus by requiring a strict win over the neighbours that come
// earlier in raster order.
func isLocalMax(g emath.FloatGrid, x, y int) bool {
	v := g.Get(x, y)
	for dy:=-1; dy<=1; dy++ {
		for dx:=-1; dx<=1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			n := g.Get(x+dx, y+dy)
			earlier := dy < 0 || (dy == 0 && dx < 0)
			if n > v || (earlier && n == v) {
				return false
			}
		}
	}
	return true
}

// describe computes a BRIEF descriptor: bit i is set when the smoothed image is darker
// at the first point of sample pair i than at the second.
func describe(smooth emath.FloatGrid, c image.Point) [4]uint64 {
	var d [4]uint64
	for i, sp := range samplePairs {
		a := smooth.Get(c.X+sp[0].X, c.Y+sp[0].Y)
		b := smooth.Get(c.X+sp[1].X, c.Y+sp[1].Y)
		if a < b {
			d[i/64] |= 1 << uint(i%64)
		}
	}
	return d
}

func (s *Solver)features(img image.Image) ([]r2.Point, [][4]uint64) {
	lum := luminance(img)
	corners := detectCorners(harrisResponse(lum, s.HarrisK), s.HarrisRelThresh, s.MaxFeatures)

	smooth := lum.GaussianBlur().GaussianBlur()
	kps := make([]r2.Point, len(corners))
	descs := make([][4]uint64, len(corners))
	for i, c := range corners {
		kps[i] = r2.Point{X: float64(c.pt.X), Y: float64(c.pt.Y)}
		descs[i] = describe(smooth, c.pt)
	}
	return kps, descs
}
