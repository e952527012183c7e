package stitch

import(
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

// pairSeamer splits the overlap of two masks between them, editing the masks in place.
// Masks and images are at seam scale, placed on the canvas at tl.
type pairSeamer interface {
	findInPair(a, b seamView, roi image.Rectangle)
}

type seamView struct {
	img  *image.NRGBA
	mask *image.Gray
	tl   image.Point
}

func (v seamView)in(cx, cy int) bool {
	x, y := cx - v.tl.X, cy - v.tl.Y
	if !(image.Point{x, y}).In(v.mask.Rect) {
		return false
	}
	return v.mask.Pix[v.mask.PixOffset(x, y)] != 0
}

func (v seamView)clear(cx, cy int) {
	x, y := cx - v.tl.X, cy - v.tl.Y
	if (image.Point{x, y}).In(v.mask.Rect) {
		v.mask.Pix[v.mask.PixOffset(x, y)] = 0
	}
}

func (v seamView)rgb(cx, cy int) [3]float64 {
	x, y := cx - v.tl.X, cy - v.tl.Y
	if !(image.Point{x, y}).In(v.img.Rect) {
		return [3]float64{}
	}
	o := v.img.PixOffset(x, y)
	return [3]float64{float64(v.img.Pix[o]), float64(v.img.Pix[o+1]), float64(v.img.Pix[o+2])}
}

func (v seamView)rect() image.Rectangle { return v.mask.Rect.Add(v.tl) }

// The MaskSeamFinder runs a pairwise seam finder over a downscaled copy of the
// frame-set, then scales the resulting masks back up. A nil pairwise finder leaves the
// masks as they are.
type MaskSeamFinder struct {
	Name      string
	Downscale float64  // (0,1]

	pairs pairSeamer
	masks []*image.Gray

	log *zap.SugaredLogger
}

func newMaskSeamFinder(name string, p pairSeamer, downscale float64, log *zap.SugaredLogger) (*MaskSeamFinder, error) {
	if downscale <= 0 || downscale > 1 {
		return nil, errors.Errorf("seam downscale %.3f outside (0,1]", downscale)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &MaskSeamFinder{Name: name, Downscale: downscale, pairs: p, log: log}, nil
}

func NewNoSeamFinder(downscale float64, log *zap.SugaredLogger) (*MaskSeamFinder, error) {
	return newMaskSeamFinder("none", nil, downscale, log)
}

func NewVoronoiSeamFinder(downscale float64, log *zap.SugaredLogger) (*MaskSeamFinder, error) {
	return newMaskSeamFinder("voronoi", voronoiSeamer{}, downscale, log)
}

func NewDpColorSeamFinder(downscale float64, log *zap.SugaredLogger) (*MaskSeamFinder, error) {
	return newMaskSeamFinder("dpcolor", dpColorSeamer{}, downscale, log)
}

func (sf *MaskSeamFinder)Masks() []*image.Gray { return sf.masks }

func (sf *MaskSeamFinder)scaled(n int) int {
	return max(1, int(math.Round(float64(n) * sf.Downscale)))
}

// Init computes seam masks for this frame-set. Each result is the original mask, limited
// to a slightly dilated version of the camera's seam region.
func (sf *MaskSeamFinder)Init(frames []*image.RGBA, masks []*image.Gray, topLefts []image.Point) error {
	if err := checkLens("seams", len(frames), len(masks), len(topLefts)); err != nil {
		return err
	}

	views := make([]seamView, len(frames))
	for i, f := range frames {
		if err := checkDims("seams", i, f, masks[i]); err != nil {
			return err
		}
		w, h := sf.scaled(f.Rect.Dx()), sf.scaled(f.Rect.Dy())
		small := image.NewGray(image.Rect(0, 0, w, h))
		draw.NearestNeighbor.Scale(small, small.Rect, masks[i], masks[i].Rect, draw.Src, nil)
		views[i] = seamView{
			img:  imaging.Resize(f, w, h, imaging.Linear),
			mask: small,
			tl:   image.Point{int(math.Round(float64(topLefts[i].X) * sf.Downscale)), int(math.Round(float64(topLefts[i].Y) * sf.Downscale))},
		}
	}

	sf.log.Infof("finding %s seams at scale %.2f", sf.Name, sf.Downscale)
	if sf.pairs != nil {
		for i:=0; i<len(views); i++ {
			for j:=i+1; j<len(views); j++ {
				roi := views[i].rect().Intersect(views[j].rect())
				if roi.Empty() {
					continue
				}
				sf.pairs.findInPair(views[i], views[j], roi)
			}
		}
	}

	sf.masks = make([]*image.Gray, len(frames))
	for i, v := range views {
		big := image.NewGray(masks[i].Rect)
		draw.ApproxBiLinear.Scale(big, big.Rect, dilate(v.mask), v.mask.Rect, draw.Src, nil)
		for k := range big.Pix {
			if masks[i].Pix[k] == 0 || big.Pix[k] == 0 {
				big.Pix[k] = 0
			} else {
				big.Pix[k] = masks[i].Pix[k]
			}
		}
		sf.masks[i] = big
	}
	return nil
}

// dilate is a 3x3 maximum filter.
func dilate(m *image.Gray) *image.Gray {
	out := image.NewGray(m.Rect)
	b := m.Rect
	for y:=b.Min.Y; y<b.Max.Y; y++ {
		for x:=b.Min.X; x<b.Max.X; x++ {
			v := uint8(0)
			for dy:=-1; dy<=1; dy++ {
				for dx:=-1; dx<=1; dx++ {
					p := image.Point{x+dx, y+dy}
					if p.In(b) && m.GrayAt(p.X, p.Y).Y > v {
						v = m.GrayAt(p.X, p.Y).Y
					}
				}
			}
			out.Pix[out.PixOffset(x, y)] = v
		}
	}
	return out
}

// voronoiSeamer gives each overlapping pixel to the camera whose unshared area is
// nearest.
type voronoiSeamer struct{}

const voronoiGap = 10

func (voronoiSeamer)findInPair(a, b seamView, roi image.Rectangle) {
	win := roi.Inset(-voronoiGap)
	w, h := win.Dx(), win.Dy()

	inA := func(x, y int) bool { return a.in(win.Min.X+x, win.Min.Y+y) }
	inB := func(x, y int) bool { return b.in(win.Min.X+x, win.Min.Y+y) }
	distA := distanceL1(w, h, func(x, y int) bool { return inA(x, y) && !inB(x, y) }, false)
	distB := distanceL1(w, h, func(x, y int) bool { return inB(x, y) && !inA(x, y) }, false)

	for cy:=roi.Min.Y; cy<roi.Max.Y; cy++ {
		for cx:=roi.Min.X; cx<roi.Max.X; cx++ {
			x, y := cx - win.Min.X, cy - win.Min.Y
			if distA.Get(x, y) < distB.Get(x, y) {
				b.clear(cx, cy)
			} else {
				a.clear(cx, cy)
			}
		}
	}
}

// dpColorSeamer cuts the overlap along the path of least colour difference, found by
// dynamic programming. The path runs across the shorter dimension of the overlap.
type dpColorSeamer struct{}

// The cost of running the seam through a pixel only one camera sees.
const dpOffOverlap = 1e6

func (dpColorSeamer)findInPair(a, b seamView, roi image.Rectangle) {
	vertical := roi.Dx() <= roi.Dy() // the seam runs top to bottom
	ca, cb := a.rect().Min.Add(a.rect().Max), b.rect().Min.Add(b.rect().Max)

	// work in (u along the seam, v across it)
	long, short := roi.Dy(), roi.Dx()
	toCanvas := func(u, v int) (int, int) { return roi.Min.X + v, roi.Min.Y + u }
	aFirst := ca.X <= cb.X
	if !vertical {
		long, short = roi.Dx(), roi.Dy()
		toCanvas = func(u, v int) (int, int) { return roi.Min.X + u, roi.Min.Y + v }
		aFirst = ca.Y <= cb.Y
	}

	cost := make([][]float64, long)
	from := make([][]int, long)
	for u:=0; u<long; u++ {
		cost[u] = make([]float64, short)
		from[u] = make([]int, short)
		for v:=0; v<short; v++ {
			cx, cy := toCanvas(u, v)
			c := dpOffOverlap
			if a.in(cx, cy) && b.in(cx, cy) {
				pa, pb := a.rgb(cx, cy), b.rgb(cx, cy)
				c = math.Abs(pa[0]-pb[0]) + math.Abs(pa[1]-pb[1]) + math.Abs(pa[2]-pb[2])
			}
			if u == 0 {
				cost[u][v] = c
				continue
			}
			best := v
			for dv:=-1; dv<=1; dv++ {
				if pv := v+dv; pv >= 0 && pv < short && cost[u-1][pv] < cost[u-1][best] {
					best = pv
				}
			}
			cost[u][v] = c + cost[u-1][best]
			from[u][v] = best
		}
	}

	seam := make([]int, long)
	v := 0
	for k:=1; k<short; k++ {
		if cost[long-1][k] < cost[long-1][v] {
			v = k
		}
	}
	for u:=long-1; u>=0; u-- {
		seam[u] = v
		v = from[u][v]
	}

	// only shared pixels change hands
	shared := make([][]bool, long)
	for u:=0; u<long; u++ {
		shared[u] = make([]bool, short)
		for v:=0; v<short; v++ {
			cx, cy := toCanvas(u, v)
			shared[u][v] = a.in(cx, cy) && b.in(cx, cy)
		}
	}

	for u:=0; u<long; u++ {
		for v:=0; v<short; v++ {
			if !shared[u][v] {
				continue
			}
			cx, cy := toCanvas(u, v)
			if (v < seam[u]) == aFirst {
				b.clear(cx, cy)
			} else {
				a.clear(cx, cy)
			}
		}
	}
}
