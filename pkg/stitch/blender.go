package stitch

import(
	"fmt"
	"image"
	"math"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/abworrall/panostitch/pkg/emath"
)

var ErrBlendWidth = errors.New("blend width below 1 pixel")

const weightEps = 1e-5

// layout is what every blender learns at Init.
type blendLayout struct {
	masks    []*image.Gray  // current (seam) masks
	topLefts []image.Point
	sizes    []image.Point
	roi      image.Rectangle
	width    float64        // sqrt(area(roi)) * strength/100
}

func (l *blendLayout)init(strength float64, masks []*image.Gray, topLefts, sizes []image.Point) error {
	if err := checkLens("blender", len(masks), len(topLefts), len(sizes)); err != nil {
		return err
	}
	if len(masks) == 0 {
		return errors.New("blender: no cameras")
	}
	roi := canvasRect(topLefts, sizes)
	width := math.Sqrt(float64(roi.Dx()*roi.Dy())) * strength / 100.0
	if !(width >= 1) {
		return errors.Wrapf(ErrBlendWidth, "%.3f (canvas %v, strength %.1f)", width, roi.Size(), strength)
	}

	l.masks = append([]*image.Gray{}, masks...)
	l.topLefts = append([]image.Point{}, topLefts...)
	l.sizes = append([]image.Point{}, sizes...)
	l.roi = roi
	l.width = width
	return nil
}

func (l *blendLayout)check(frames []*image.RGBA) error {
	if l.roi.Empty() {
		return errors.New("blender not initialised")
	}
	if err := checkLens("blender", len(frames), len(l.masks)); err != nil {
		return err
	}
	for i, f := range frames {
		if err := checkDims("blender", i, f, l.masks[i]); err != nil {
			return err
		}
	}
	return nil
}

// planes holds a float image on the canvas, one grid per colour channel.
type planes [3]emath.FloatGrid

func newPlanes(w, h int) planes {
	return planes{emath.NewFloatGrid(w, h), emath.NewFloatGrid(w, h), emath.NewFloatGrid(w, h)}
}

// toRGBA turns accumulated sums into an image, dividing by the accumulated weight. Canvas
// pixels nobody contributed to stay black and transparent.
func toRGBA(sum planes, weight emath.FloatGrid, w, h int) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for y:=0; y<h; y++ {
		for x:=0; x<w; x++ {
			wt := weight.Get(x, y)
			if wt <= weightEps {
				continue
			}
			o := out.PixOffset(x, y)
			for c:=0; c<3; c++ {
				out.Pix[o+c] = emath.ClampU8(sum[c].Get(x, y) / wt)
			}
			out.Pix[o+3] = 0xFF
		}
	}
	return out
}

// The FeatherBlender weights each camera by its distance from the edge of its mask,
// ramping up to full weight over the blend width.
type FeatherBlender struct {
	Strength float64  // blend width as a percentage of the canvas diagonal-ish size
	DebugDir string   // if set, each camera's weight map is written here on every blend
	blendLayout

	log *zap.SugaredLogger
}

func NewFeatherBlender(strength float64, log *zap.SugaredLogger) (*FeatherBlender, error) {
	if strength <= 0 {
		return nil, errors.Errorf("blend strength %.2f must be positive", strength)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &FeatherBlender{Strength: strength, log: log}, nil
}

func (fb *FeatherBlender)Init(masks []*image.Gray, topLefts, sizes []image.Point) error {
	if err := fb.blendLayout.init(fb.Strength, masks, topLefts, sizes); err != nil {
		return err
	}
	fb.log.Infof("feather blender: canvas %v, blend width %.1f", fb.roi, fb.width)
	return nil
}

func (fb *FeatherBlender)UpdateMasks(masks []*image.Gray) { fb.masks = append([]*image.Gray{}, masks...) }

// Sharpness is how fast the weights ramp up from a mask edge.
func (fb *FeatherBlender)Sharpness() float64 { return 1.0 / fb.width }

// weightMap is min(1, sharpness * distance to the nearest unmasked pixel).
func weightMap(mask *image.Gray, sharpness float64) emath.FloatGrid {
	w, h := mask.Rect.Dx(), mask.Rect.Dy()
	d := distanceL1(w, h, func(x, y int) bool {
		return mask.Pix[mask.PixOffset(mask.Rect.Min.X+x, mask.Rect.Min.Y+y)] == 0
	}, true)
	vals := d.Values()
	for i, v := range vals {
		vals[i] = math.Min(1.0, v * sharpness)
	}
	return d
}

func (fb *FeatherBlender)Blend(frames []*image.RGBA) (*image.RGBA, error) {
	if err := fb.check(frames); err != nil {
		return nil, err
	}
	w, h := fb.roi.Dx(), fb.roi.Dy()
	sum := newPlanes(w, h)
	weight := emath.NewFloatGrid(w, h)

	for i, f := range frames {
		wm := weightMap(fb.masks[i], fb.Sharpness())
		if fb.DebugDir != "" {
			filename := filepath.Join(fb.DebugDir, fmt.Sprintf("weights-%02d.png", i))
			if err := wm.ToImg(fmt.Sprintf("feather weights, camera %d", i), filename); err != nil {
				fb.log.Warnf("weight map: %v", err)
			}
		}
		off := fb.topLefts[i].Sub(fb.roi.Min)
		fw, fh := f.Rect.Dx(), f.Rect.Dy()
		for y:=0; y<fh; y++ {
			cy := y + off.Y
			if cy < 0 || cy >= h {
				continue
			}
			for x:=0; x<fw; x++ {
				cx := x + off.X
				wt := wm.Get(x, y)
				if cx < 0 || cx >= w || wt == 0 {
					continue
				}
				o := f.PixOffset(f.Rect.Min.X+x, f.Rect.Min.Y+y)
				for c:=0; c<3; c++ {
					sum[c].Set(cx, cy, sum[c].Get(cx, cy) + wt*float64(f.Pix[o+c]))
				}
				weight.Set(cx, cy, weight.Get(cx, cy) + wt)
			}
		}
	}
	return toRGBA(sum, weight, w, h), nil
}

// The MultiBandBlender blends each spatial frequency band separately: coarse bands over
// a wide area, fine detail over a narrow one.
type MultiBandBlender struct {
	Strength float64
	blendLayout

	bands int
	pad   image.Point  // canvas size, rounded up to a multiple of 2^bands

	log *zap.SugaredLogger
}

func NewMultiBandBlender(strength float64, log *zap.SugaredLogger) (*MultiBandBlender, error) {
	if strength <= 0 {
		return nil, errors.Errorf("blend strength %.2f must be positive", strength)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &MultiBandBlender{Strength: strength, log: log}, nil
}

func (mb *MultiBandBlender)Init(masks []*image.Gray, topLefts, sizes []image.Point) error {
	if err := mb.blendLayout.init(mb.Strength, masks, topLefts, sizes); err != nil {
		return err
	}

	mb.bands = max(0, int(math.Ceil(math.Log2(mb.width))) - 1)
	maxLen := float64(max(mb.roi.Dx(), mb.roi.Dy()))
	mb.bands = min(mb.bands, int(math.Ceil(math.Log2(maxLen))))

	step := 1 << mb.bands
	roundUp := func(n int) int { return n + (step - n%step) % step }
	mb.pad = image.Point{roundUp(mb.roi.Dx()), roundUp(mb.roi.Dy())}

	mb.log.Infof("multiband blender: canvas %v, blend width %.1f, %d bands", mb.roi, mb.width, mb.bands)
	return nil
}

func (mb *MultiBandBlender)UpdateMasks(masks []*image.Gray) { mb.masks = append([]*image.Gray{}, masks...) }

func (mb *MultiBandBlender)Bands() int { return mb.bands }

// place puts a frame and a mask onto an empty padded canvas, as floats. The mask
// becomes 0/1.
func (mb *MultiBandBlender)place(f *image.RGBA, mask *image.Gray, tl image.Point) (planes, emath.FloatGrid) {
	p := newPlanes(mb.pad.X, mb.pad.Y)
	m := emath.NewFloatGrid(mb.pad.X, mb.pad.Y)
	off := tl.Sub(mb.roi.Min)
	for y:=0; y<f.Rect.Dy(); y++ {
		for x:=0; x<f.Rect.Dx(); x++ {
			cx, cy := x+off.X, y+off.Y
			if cx < 0 || cy < 0 || cx >= mb.pad.X || cy >= mb.pad.Y {
				continue
			}
			if mask.Pix[mask.PixOffset(mask.Rect.Min.X+x, mask.Rect.Min.Y+y)] == 0 {
				continue
			}
			m.Set(cx, cy, 1)
			o := f.PixOffset(f.Rect.Min.X+x, f.Rect.Min.Y+y)
			for c:=0; c<3; c++ {
				p[c].Set(cx, cy, float64(f.Pix[o+c]))
			}
		}
	}
	return p, m
}

func reduce(g emath.FloatGrid) emath.FloatGrid {
	b := g.GaussianBlur()
	return b.DownSample()
}

func expand(g emath.FloatGrid, w, h int) emath.FloatGrid {
	out := emath.NewFloatGrid(w, h)
	g.UpSampleInto(&out)
	return out.GaussianBlur()
}

// laplacian builds the band-pass pyramid of a frame that only covers part of the canvas.
// Each level is normalised by the blurred coverage, so the missing area does not drag
// the frame's edges towards black.
func (mb *MultiBandBlender)laplacian(img planes, cover emath.FloatGrid) [][3]emath.FloatGrid {
	gauss := make([]planes, mb.bands+1)
	covers := make([]emath.FloatGrid, mb.bands+1)
	gauss[0], covers[0] = img, cover
	for k:=1; k<=mb.bands; k++ {
		for c:=0; c<3; c++ {
			gauss[k][c] = reduce(gauss[k-1][c])
		}
		covers[k] = reduce(covers[k-1])
	}

	filled := make([]planes, mb.bands+1)
	for k := range gauss {
		w, h := covers[k].Dx(), covers[k].Dy()
		filled[k] = newPlanes(w, h)
		for y:=0; y<h; y++ {
			for x:=0; x<w; x++ {
				cv := covers[k].Get(x, y)
				if cv <= weightEps {
					continue
				}
				for c:=0; c<3; c++ {
					filled[k][c].Set(x, y, gauss[k][c].Get(x, y) / cv)
				}
			}
		}
	}

	out := make([][3]emath.FloatGrid, mb.bands+1)
	for k:=0; k<mb.bands; k++ {
		w, h := filled[k][0].Dx(), filled[k][0].Dy()
		for c:=0; c<3; c++ {
			out[k][c] = filled[k][c].Sub(expand(filled[k+1][c], w, h))
		}
	}
	out[mb.bands] = filled[mb.bands]
	return out
}

func (mb *MultiBandBlender)Blend(frames []*image.RGBA) (*image.RGBA, error) {
	if err := mb.check(frames); err != nil {
		return nil, err
	}

	sums := make([]planes, mb.bands+1)
	weights := make([]emath.FloatGrid, mb.bands+1)
	for i, f := range frames {
		img, w := mb.place(f, mb.masks[i], mb.topLefts[i])
		for c:=0; c<3; c++ {
			img[c] = img[c].Mul(w)
		}
		lap := mb.laplacian(img, w)

		for k:=0; k<=mb.bands; k++ {
			if k > 0 {
				w = reduce(w)
			}
			if i == 0 {
				sums[k] = newPlanes(w.Dx(), w.Dy())
				weights[k] = emath.NewFloatGrid(w.Dx(), w.Dy())
			}
			for c:=0; c<3; c++ {
				sums[k][c] = sums[k][c].Add(lap[k][c].Mul(w))
			}
			weights[k] = weights[k].Add(w)
		}
	}

	// normalise each band, then collapse the pyramid from the top
	var result planes
	for k:=mb.bands; k>=0; k-- {
		w, h := weights[k].Dx(), weights[k].Dy()
		for c:=0; c<3; c++ {
			band := emath.NewFloatGrid(w, h)
			for y:=0; y<h; y++ {
				for x:=0; x<w; x++ {
					if wt := weights[k].Get(x, y); wt > weightEps {
						band.Set(x, y, sums[k][c].Get(x, y) / wt)
					}
				}
			}
			if k < mb.bands {
				band = band.Add(expand(result[c], w, h))
			}
			result[c] = band
		}
	}

	out := toRGBA(result, onesWhere(weights[0]), mb.roi.Dx(), mb.roi.Dy())
	return out, nil
}

// onesWhere is 1 where g carries weight, 0 elsewhere.
func onesWhere(g emath.FloatGrid) emath.FloatGrid {
	out := g.NewFromThis()
	for y:=0; y<g.Dy(); y++ {
		for x:=0; x<g.Dx(); x++ {
			if g.Get(x, y) > weightEps {
				out.Set(x, y, 1)
			}
		}
	}
	return out
}
