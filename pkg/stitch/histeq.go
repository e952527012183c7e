package stitch

import(
	"image"
	"math"

	"github.com/lucasb-eyer/go-colorful"
	"go.uber.org/zap"
)

const histBins = 256

// The HistogramEqualizer spreads out the lightness of each frame, inside its mask. It
// works on the L channel of Lab so colours keep their hue. The histogram is clipped at
// ClipLimit times its mean height and the excess handed back evenly, which stops large
// flat areas (sky) from taking over the whole range.
type HistogramEqualizer struct {
	ClipLimit float64

	log *zap.SugaredLogger
}

func NewHistogramEqualizer(clipLimit float64, log *zap.SugaredLogger) *HistogramEqualizer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if clipLimit <= 0 {
		clipLimit = 4
	}
	return &HistogramEqualizer{ClipLimit: clipLimit, log: log}
}

func lBin(l float64) int {
	return max(0, min(histBins-1, int(l * (histBins-1) + 0.5)))
}

// lookup builds the clipped CDF as a lightness mapping.
func (he *HistogramEqualizer)lookup(hist []float64, total float64) []float64 {
	limit := math.Max(1, he.ClipLimit * total / histBins)
	excess := 0.0
	for i, v := range hist {
		if v > limit {
			excess += v - limit
			hist[i] = limit
		}
	}
	for i := range hist {
		hist[i] += excess / histBins
	}

	lut := make([]float64, histBins)
	sum := 0.0
	for i, v := range hist {
		sum += v
		lut[i] = sum / total
	}
	return lut
}

// Apply works in place. Pixels outside the mask are not touched.
func (he *HistogramEqualizer)Apply(frames []*image.RGBA, masks []*image.Gray) error {
	if err := checkLens("equalize", len(frames), len(masks)); err != nil {
		return err
	}

	for i, f := range frames {
		m := masks[i]
		if err := checkDims("equalize", i, f, m); err != nil {
			return err
		}
		w, h := f.Rect.Dx(), f.Rect.Dy()
		labs := make([][3]float64, w*h)
		hist := make([]float64, histBins)
		total := 0.0

		for y:=0; y<h; y++ {
			for x:=0; x<w; x++ {
				if m.Pix[m.PixOffset(m.Rect.Min.X+x, m.Rect.Min.Y+y)] == 0 {
					continue
				}
				o := f.PixOffset(f.Rect.Min.X+x, f.Rect.Min.Y+y)
				c := colorful.Color{R: float64(f.Pix[o])/255, G: float64(f.Pix[o+1])/255, B: float64(f.Pix[o+2])/255}
				l, a, b := c.Lab()
				labs[y*w+x] = [3]float64{l, a, b}
				hist[lBin(l)]++
				total++
			}
		}
		if total == 0 {
			continue
		}
		lut := he.lookup(hist, total)

		for y:=0; y<h; y++ {
			for x:=0; x<w; x++ {
				if m.Pix[m.PixOffset(m.Rect.Min.X+x, m.Rect.Min.Y+y)] == 0 {
					continue
				}
				lab := labs[y*w+x]
				r, g, b := colorful.Lab(lut[lBin(lab[0])], lab[1], lab[2]).Clamped().RGB255()
				o := f.PixOffset(f.Rect.Min.X+x, f.Rect.Min.Y+y)
				f.Pix[o], f.Pix[o+1], f.Pix[o+2] = r, g, b
			}
		}
		he.log.Debugf("equalized frame %d over %.0f pixels", i, total)
	}
	return nil
}
