package stitch

import(
	"fmt"
	"image"
	"math"

	"github.com/pkg/errors"

	"github.com/abworrall/panostitch/pkg/emath"
)

// NCC is the normalised cross-correlation of the luminance of two images over the
// rectangle r (in both images' coordinates): 1 for images that differ only in
// brightness and contrast, around 0 for unrelated ones. Pixels that are transparent in
// either image are skipped. If diffFile is set, the per-pixel luminance difference is
// written there as a PNG.
func NCC(a, b *image.RGBA, r image.Rectangle, diffFile string) (float64, error) {
	r = r.Intersect(a.Rect).Intersect(b.Rect)
	if r.Empty() {
		return 0, errors.New("ncc: images do not overlap the region")
	}

	lum := func(img *image.RGBA, x, y int) (float64, bool) {
		o := img.PixOffset(x, y)
		if img.Pix[o+3] == 0 {
			return 0, false
		}
		return 0.299*float64(img.Pix[o]) + 0.587*float64(img.Pix[o+1]) + 0.114*float64(img.Pix[o+2]), true
	}

	diff := emath.NewFloatGrid(r.Dx(), r.Dy())
	var sa, sb, saa, sbb, sab, n float64
	for y:=r.Min.Y; y<r.Max.Y; y++ {
		for x:=r.Min.X; x<r.Max.X; x++ {
			la, okA := lum(a, x, y)
			lb, okB := lum(b, x, y)
			if !okA || !okB {
				continue
			}
			diff.Set(x-r.Min.X, y-r.Min.Y, math.Abs(la-lb))
			sa += la
			sb += lb
			saa += la*la
			sbb += lb*lb
			sab += la*lb
			n++
		}
	}
	if n == 0 {
		return 0, errors.New("ncc: no pixels in common")
	}

	cov := sab/n - (sa/n)*(sb/n)
	va := saa/n - (sa/n)*(sa/n)
	vb := sbb/n - (sb/n)*(sb/n)
	score := 0.0
	if va > 1e-9 && vb > 1e-9 {
		score = cov / math.Sqrt(va*vb)
	} else if va <= 1e-9 && vb <= 1e-9 {
		score = 1 // both flat
	}

	if diffFile != "" {
		title := fmt.Sprintf("ncc=%.4f over %d pixels", score, int(n))
		if err := diff.ToImg(title, diffFile); err != nil {
			return score, err
		}
	}
	return score, nil
}
