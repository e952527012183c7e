package stitch

import(
	"image"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// The GammaCorrector is a linear brighten, limited by a mask: every channel becomes
// min(Alpha*v + Beta, mask). It learns nothing, so it has no Init.
type GammaCorrector struct {
	Alpha float64  // [1,3]
	Beta  float64  // [0,100]

	log *zap.SugaredLogger
}

func NewGammaCorrector(alpha, beta float64, log *zap.SugaredLogger) (*GammaCorrector, error) {
	if alpha < 1 || alpha > 3 {
		return nil, errors.Errorf("gamma alpha %.2f outside [1,3]", alpha)
	}
	if beta < 0 || beta > 100 {
		return nil, errors.Errorf("gamma beta %.2f outside [0,100]", beta)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &GammaCorrector{Alpha: alpha, Beta: beta, log: log}, nil
}

// Apply works in place. Pixels outside the mask end up black.
func (g *GammaCorrector)Apply(frames []*image.RGBA, masks []*image.Gray) error {
	if err := checkLens("gamma", len(frames), len(masks)); err != nil {
		return err
	}
	g.log.Debugf("gamma correction alpha=%.2f beta=%.0f", g.Alpha, g.Beta)

	lut := [256]float64{}
	for v := range lut {
		lut[v] = g.Alpha * float64(v) + g.Beta
	}

	for i, f := range frames {
		m := masks[i]
		if err := checkDims("gamma", i, f, m); err != nil {
			return err
		}
		w, h := f.Rect.Dx(), f.Rect.Dy()
		for y:=0; y<h; y++ {
			for x:=0; x<w; x++ {
				lim := float64(m.Pix[m.PixOffset(m.Rect.Min.X+x, m.Rect.Min.Y+y)])
				o := f.PixOffset(f.Rect.Min.X+x, f.Rect.Min.Y+y)
				for c:=0; c<3; c++ {
					v := lut[f.Pix[o+c]]
					if v > lim { v = lim }
					if v > 255 { v = 255 }
					f.Pix[o+c] = uint8(v + 0.5)
				}
			}
		}
	}
	return nil
}
