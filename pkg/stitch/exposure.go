package stitch

import(
	"image"
	"math"

	"github.com/pkg/errors"
	"github.com/skypies/util/histogram"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gonum.org/v1/gonum/mat"

	"github.com/abworrall/panostitch/pkg/emath"
)

const(
	gainAlpha = 0.01  // weight of the intensity-matching term
	gainBeta  = 100.0 // weight of the pull towards unit gain
)

// A GainCompensator matches the brightness of overlapping cameras by solving for the
// gains that minimise the intensity differences in the overlaps, while keeping every
// gain near 1. With PerChannel each colour channel gets its own gain; with BlockSize > 0
// each camera is cut into blocks that get their own gains, smoothed into a gain map.
type GainCompensator struct {
	PerChannel       bool
	BlockSize        int  // 0 means one gain per camera
	NrFeeds          int  // solves per Init; each one works on the output of the last
	FilterIterations int  // smoothing passes over block gain maps

	gains [][3]emath.FloatGrid  // per camera, per channel; 1x1 grids unless using blocks

	log *zap.SugaredLogger
}

func NewGainCompensator(perChannel bool, blockSize int, log *zap.SugaredLogger) *GainCompensator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &GainCompensator{
		PerChannel:       perChannel,
		BlockSize:        blockSize,
		NrFeeds:          1,
		FilterIterations: 2,
		log:              log,
	}
}

// A patch is a piece of one camera's frame that gets a single gain. Rect is in frame
// coordinates; tl places the frame on the canvas.
type patch struct {
	frame *image.RGBA
	mask  *image.Gray
	rect  image.Rectangle
	tl    image.Point
	cam   int
	bx,by int
	gain  [3]float64  // applied while measuring, for second and later feeds
}

func (p patch)canvasRect() image.Rectangle { return p.rect.Add(p.tl) }

// value is what a gain scales: one channel, or the length of the RGB vector.
func (p patch)value(x, y, channel int) (float64, bool) {
	mo := p.mask.PixOffset(p.mask.Rect.Min.X+x, p.mask.Rect.Min.Y+y)
	if p.mask.Pix[mo] == 0 {
		return 0, false
	}
	o := p.frame.PixOffset(p.frame.Rect.Min.X+x, p.frame.Rect.Min.Y+y)
	if channel >= 0 {
		return float64(p.frame.Pix[o+channel]) * p.gain[channel], true
	}
	r := float64(p.frame.Pix[o])   * p.gain[0]
	g := float64(p.frame.Pix[o+1]) * p.gain[1]
	b := float64(p.frame.Pix[o+2]) * p.gain[2]
	return math.Sqrt(r*r + g*g + b*b), true
}

// blockGrid is how many blocks a frame splits into, and their size.
func blockGrid(size image.Point, blockSize int) (image.Point, image.Point) {
	if blockSize <= 0 {
		return image.Point{1, 1}, size
	}
	n := image.Point{(size.X + blockSize - 1) / blockSize, (size.Y + blockSize - 1) / blockSize}
	n.X, n.Y = max(1, n.X), max(1, n.Y)
	bs := image.Point{(size.X + n.X - 1) / n.X, (size.Y + n.Y - 1) / n.Y}
	return n, bs
}

func (gc *GainCompensator)patches(frames []*image.RGBA, masks []*image.Gray, topLefts []image.Point) ([]patch, []image.Point) {
	out := []patch{}
	grids := make([]image.Point, len(frames))
	for i, f := range frames {
		size := f.Rect.Size()
		n, bs := blockGrid(size, gc.BlockSize)
		grids[i] = n
		for by:=0; by<n.Y; by++ {
			for bx:=0; bx<n.X; bx++ {
				r := image.Rect(bx*bs.X, by*bs.Y, (bx+1)*bs.X, (by+1)*bs.Y).Intersect(image.Rectangle{Max: size})
				if r.Empty() {
					continue
				}
				out = append(out, patch{frame: f, mask: masks[i], rect: r, tl: topLefts[i], cam: i, bx: bx, by: by, gain: [3]float64{1, 1, 1}})
			}
		}
	}
	return out, grids
}

// solve builds and solves the gain system for one channel (-1 for all together).
func solve(patches []patch, channel int) ([]float64, error) {
	n := len(patches)
	counts := mat.NewDense(n, n, nil)
	means  := mat.NewDense(n, n, nil)

	for i:=0; i<n; i++ {
		for j:=i; j<n; j++ {
			overlap := patches[i].canvasRect().Intersect(patches[j].canvasRect())
			var sumI, sumJ float64
			count := 0
			for cy:=overlap.Min.Y; cy<overlap.Max.Y; cy++ {
				for cx:=overlap.Min.X; cx<overlap.Max.X; cx++ {
					vi, okI := patches[i].value(cx - patches[i].tl.X, cy - patches[i].tl.Y, channel)
					vj, okJ := patches[j].value(cx - patches[j].tl.X, cy - patches[j].tl.Y, channel)
					if !okI || !okJ {
						continue
					}
					sumI += vi
					sumJ += vj
					count++
				}
			}
			nij := float64(max(1, count))
			counts.Set(i, j, nij)
			counts.Set(j, i, nij)
			means.Set(i, j, sumI / nij)
			means.Set(j, i, sumJ / nij)
		}
	}

	a := mat.NewDense(n, n, nil)
	b := mat.NewVecDense(n, nil)
	for i:=0; i<n; i++ {
		for j:=0; j<n; j++ {
			nij := counts.At(i, j)
			b.SetVec(i, b.AtVec(i) + gainBeta*nij)
			a.Set(i, i, a.At(i, i) + gainBeta*nij)
			if j == i {
				continue
			}
			iij, iji := means.At(i, j), means.At(j, i)
			a.Set(i, i, a.At(i, i) + 2*gainAlpha*iij*iij*nij)
			a.Set(i, j, a.At(i, j) - 2*gainAlpha*iij*iji*nij)
		}
	}

	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		return nil, errors.Wrap(err, "gain system")
	}
	return x.RawVector().Data, nil
}

// Init learns the gains from this frame-set.
func (gc *GainCompensator)Init(frames []*image.RGBA, masks []*image.Gray, topLefts []image.Point) error {
	if err := checkLens("exposure", len(frames), len(masks), len(topLefts)); err != nil {
		return err
	}
	for i := range frames {
		if err := checkDims("exposure", i, frames[i], masks[i]); err != nil {
			return err
		}
	}

	patches, grids := gc.patches(frames, masks, topLefts)
	channels := []int{-1}
	if gc.PerChannel {
		channels = []int{0, 1, 2}
	}

	for feed:=0; feed<max(1, gc.NrFeeds); feed++ {
		for _, c := range channels {
			g, err := solve(patches, c)
			if err != nil {
				return err
			}
			for k := range patches {
				if c < 0 {
					for cc:=0; cc<3; cc++ {
						patches[k].gain[cc] *= g[k]
					}
				} else {
					patches[k].gain[c] *= g[k]
				}
			}
		}
	}

	gc.gains = make([][3]emath.FloatGrid, len(frames))
	for i, n := range grids {
		for c:=0; c<3; c++ {
			gc.gains[i][c] = emath.NewFloatGrid(n.X, n.Y)
		}
	}
	for _, p := range patches {
		for c:=0; c<3; c++ {
			gc.gains[p.cam][c].Set(p.bx, p.by, p.gain[c])
		}
	}
	if gc.BlockSize > 0 {
		for i := range gc.gains {
			for c:=0; c<3; c++ {
				for it:=0; it<gc.FilterIterations; it++ {
					gc.gains[i][c] = gc.gains[i][c].GaussianBlur()
				}
			}
		}
	}

	for i := range gc.gains {
		gc.log.Debugf("camera %d gain %s", i, gc.gains[i][0].Stats())
	}
	return nil
}

// MeanGains is the average gain of camera i on each channel.
func (gc *GainCompensator)MeanGains(i int) [3]float64 {
	out := [3]float64{}
	for c:=0; c<3; c++ {
		g := gc.gains[i][c]
		for _, v := range g.Values() {
			out[c] += v
		}
		out[c] /= float64(len(g.Values()))
	}
	return out
}

// Apply scales every frame by its learned gains, in place.
func (gc *GainCompensator)Apply(frames []*image.RGBA) error {
	if len(frames) != len(gc.gains) {
		return errors.Errorf("exposure: %d frames but gains for %d (not initialised?)", len(frames), len(gc.gains))
	}
	debug := gc.log.Level().Enabled(zapcore.DebugLevel)

	for i, f := range frames {
		var before, after histogram.Histogram
		if debug {
			before = histogram.Histogram{NumBuckets:32, ValMin:0, ValMax:256}
			after = histogram.Histogram{NumBuckets:32, ValMin:0, ValMax:256}
		}

		size := f.Rect.Size()
		var maps [3]emath.FloatGrid
		for c:=0; c<3; c++ {
			if g := gc.gains[i][c]; g.Dx() == 1 && g.Dy() == 1 {
				maps[c] = g
			} else {
				maps[c] = g.Resize(size.X, size.Y)
			}
		}
		gain := func(c, x, y int) float64 {
			if maps[c].Dx() == 1 && maps[c].Dy() == 1 {
				return maps[c].Get(0, 0)
			}
			return maps[c].Get(x, y)
		}

		for y:=0; y<size.Y; y++ {
			for x:=0; x<size.X; x++ {
				o := f.PixOffset(f.Rect.Min.X+x, f.Rect.Min.Y+y)
				if debug {
					before.Add(histogram.ScalarVal(int(f.Pix[o+1])))
				}
				for c:=0; c<3; c++ {
					f.Pix[o+c] = emath.ClampU8(float64(f.Pix[o+c]) * gain(c, x, y))
				}
				if debug {
					after.Add(histogram.ScalarVal(int(f.Pix[o+1])))
				}
			}
		}
		if debug {
			gc.log.Debugf("camera %d green levels before gain:\n%v", i, before)
			gc.log.Debugf("camera %d green levels after gain:\n%v", i, after)
		}
	}
	return nil
}
