package stitch

import(
	"image"
	"image/color"
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scene is a textured test image: random 4x4 blocks over a gentle gradient.
func scene(w, h int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	bw, bh := (w+3)/4, (h+3)/4
	blocks := make([]uint8, bw*bh)
	for i := range blocks {
		blocks[i] = uint8(rng.Intn(120))
	}
	for y:=0; y<h; y++ {
		for x:=0; x<w; x++ {
			v := blocks[(y/4)*bw + x/4]
			img.SetRGBA(x, y, color.RGBA{v + uint8(x), v + uint8(y), v + 60, 0xFF})
		}
	}
	return img
}

// crop copies a rectangle of src into a new image at the origin.
func crop(src *image.RGBA, r image.Rectangle) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y:=0; y<r.Dy(); y++ {
		copy(out.Pix[out.PixOffset(0, y):out.PixOffset(r.Dx(), y)], src.Pix[src.PixOffset(r.Min.X, r.Min.Y+y):src.PixOffset(r.Max.X, r.Min.Y+y)])
	}
	return out
}

func whiteMask(w, h int) *image.Gray {
	m := image.NewGray(image.Rect(0, 0, w, h))
	for i := range m.Pix {
		m.Pix[i] = 0xFF
	}
	return m
}

// twoViews cuts two 60x40 frames out of a 100x40 scene, overlapping on canvas x in [40,60).
func twoViews() ([]*image.RGBA, []*image.Gray, []image.Point) {
	sc := scene(100, 40, 7)
	frames := []*image.RGBA{crop(sc, image.Rect(0, 0, 60, 40)), crop(sc, image.Rect(40, 0, 100, 40))}
	masks := []*image.Gray{whiteMask(60, 40), whiteMask(60, 40)}
	return frames, masks, []image.Point{{0, 0}, {40, 0}}
}

func TestDistanceL1(t *testing.T) {
	atZero := func(x, y int) bool { return x == 0 }
	middleRow := func(borderIsZero bool) []float64 {
		g := distanceL1(5, 3, atZero, borderIsZero)
		return []float64{g.Get(0, 1), g.Get(1, 1), g.Get(2, 1), g.Get(3, 1), g.Get(4, 1)}
	}
	if diff := cmp.Diff([]float64{0, 1, 2, 3, 4}, middleRow(false)); diff != "" {
		t.Errorf("no border (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{0, 1, 2, 2, 1}, middleRow(true)); diff != "" {
		t.Errorf("border is zero (-want +got):\n%s", diff)
	}

	none := distanceL1(3, 3, func(x, y int) bool { return false }, false)
	assert.True(t, math.IsInf(none.Get(1, 1), 1))
}

func TestGammaCorrector(t *testing.T) {
	_, err := NewGammaCorrector(0.5, 10, nil)
	assert.Error(t, err)
	_, err = NewGammaCorrector(2, 101, nil)
	assert.Error(t, err)

	g, err := NewGammaCorrector(2, 10, nil)
	require.NoError(t, err)

	f := image.NewRGBA(image.Rect(0, 0, 3, 1))
	f.SetRGBA(0, 0, color.RGBA{20, 20, 20, 0xFF})
	f.SetRGBA(1, 0, color.RGBA{60, 60, 60, 0xFF})
	f.SetRGBA(2, 0, color.RGBA{60, 60, 60, 0xFF})
	m := image.NewGray(image.Rect(0, 0, 3, 1))
	m.Pix[0], m.Pix[1], m.Pix[2] = 100, 100, 0

	require.NoError(t, g.Apply([]*image.RGBA{f}, []*image.Gray{m}))
	assert.Equal(t, uint8(50), f.RGBAAt(0, 0).R)
	assert.Equal(t, uint8(100), f.RGBAAt(1, 0).G, "capped by the mask")
	assert.Equal(t, uint8(0), f.RGBAAt(2, 0).B, "outside the mask")

	assert.Error(t, g.Apply([]*image.RGBA{f}, nil))
}

func TestGammaIdentity(t *testing.T) {
	frames, masks, _ := twoViews()
	orig := append([]uint8{}, frames[0].Pix...)
	g, err := NewGammaCorrector(1, 0, nil)
	require.NoError(t, err)
	require.NoError(t, g.Apply(frames, masks))
	assert.Equal(t, orig, frames[0].Pix)
}

func meanLum(f *image.RGBA, r image.Rectangle) float64 {
	sum, n := 0.0, 0.0
	for y:=r.Min.Y; y<r.Max.Y; y++ {
		for x:=r.Min.X; x<r.Max.X; x++ {
			c := f.RGBAAt(x, y)
			sum += (float64(c.R) + float64(c.G) + float64(c.B)) / 3
			n++
		}
	}
	return sum / n
}

func darken(f *image.RGBA, factor float64) {
	for i := range f.Pix {
		if i%4 != 3 {
			f.Pix[i] = uint8(float64(f.Pix[i]) * factor)
		}
	}
}

func TestGainCompensatorEvensOutExposure(t *testing.T) {
	for _, tc := range []struct{
		name       string
		perChannel bool
		blockSize  int
	}{
		{"gain", false, 0},
		{"channels", true, 0},
		{"gain_blocks", false, 32},
		{"channels_blocks", true, 32},
	} {
		t.Run(tc.name, func(t *testing.T) {
			frames, masks, tls := twoViews()
			darken(frames[1], 0.6)
			overlapA, overlapB := image.Rect(40, 0, 60, 40), image.Rect(0, 0, 20, 40)
			before := meanLum(frames[0], overlapA) - meanLum(frames[1], overlapB)

			gc := NewGainCompensator(tc.perChannel, tc.blockSize, nil)
			require.NoError(t, gc.Init(frames, masks, tls))
			gA, gB := gc.MeanGains(0), gc.MeanGains(1)
			assert.Greater(t, gB[1], gA[1], "the darker camera is brightened relative to the other")

			require.NoError(t, gc.Apply(frames))
			after := meanLum(frames[0], overlapA) - meanLum(frames[1], overlapB)
			assert.Less(t, math.Abs(after), math.Abs(before))
		})
	}
}

func TestGainCompensatorKeepsMatchingFrames(t *testing.T) {
	frames, masks, tls := twoViews()
	orig := append([]uint8{}, frames[1].Pix...)
	gc := NewGainCompensator(true, 0, nil)
	require.NoError(t, gc.Init(frames, masks, tls))
	for i := range frames {
		for _, g := range gc.MeanGains(i) {
			assert.InDelta(t, 1.0, g, 1e-9)
		}
	}
	require.NoError(t, gc.Apply(frames))
	assert.Equal(t, orig, frames[1].Pix)
}

func TestGainCompensatorApplyBeforeInit(t *testing.T) {
	frames, _, _ := twoViews()
	assert.Error(t, NewGainCompensator(false, 0, nil).Apply(frames))
}

func TestSeamFinderDownscaleRange(t *testing.T) {
	_, err := NewVoronoiSeamFinder(0, nil)
	assert.Error(t, err)
	_, err = NewDpColorSeamFinder(1.5, nil)
	assert.Error(t, err)
}

// onCanvas reports whether mask i covers canvas pixel (cx,cy).
func onCanvas(masks []*image.Gray, tls []image.Point, i, cx, cy int) bool {
	p := image.Point{cx, cy}.Sub(tls[i])
	return p.In(masks[i].Rect) && masks[i].GrayAt(p.X, p.Y).Y != 0
}

func assertCoversCanvas(t *testing.T, masks []*image.Gray, tls []image.Point) {
	t.Helper()
	for cy:=0; cy<40; cy++ {
		for cx:=0; cx<100; cx++ {
			if !onCanvas(masks, tls, 0, cx, cy) && !onCanvas(masks, tls, 1, cx, cy) {
				t.Fatalf("canvas pixel (%d,%d) belongs to nobody", cx, cy)
			}
		}
	}
	for cy:=0; cy<40; cy++ {
		assert.True(t, onCanvas(masks, tls, 0, 10, cy), "unshared pixels stay with their camera")
		assert.True(t, onCanvas(masks, tls, 1, 90, cy), "unshared pixels stay with their camera")
	}
}

func TestVoronoiSeams(t *testing.T) {
	frames, masks, tls := twoViews()
	sf, err := NewVoronoiSeamFinder(1, nil)
	require.NoError(t, err)
	require.NoError(t, sf.Init(frames, masks, tls))

	got := sf.Masks()
	require.Len(t, got, 2)
	assertCoversCanvas(t, got, tls)

	// the overlap splits down the middle
	assert.True(t, onCanvas(got, tls, 0, 42, 20))
	assert.False(t, onCanvas(got, tls, 1, 42, 20))
	assert.False(t, onCanvas(got, tls, 0, 57, 20))
	assert.True(t, onCanvas(got, tls, 1, 57, 20))

	// the input masks are left alone
	assert.Equal(t, uint8(0xFF), masks[1].GrayAt(2, 20).Y)
}

func TestDpColorSeams(t *testing.T) {
	frames, masks, tls := twoViews()

	// the views only agree down canvas column 50, so that is where the cut goes
	b := frames[1]
	for y:=0; y<40; y++ {
		for x:=0; x<20; x++ {
			if x == 10 {
				continue
			}
			o := b.PixOffset(x, y)
			b.Pix[o], b.Pix[o+1], b.Pix[o+2] = 255-b.Pix[o], 255-b.Pix[o+1], 255-b.Pix[o+2]
		}
	}

	sf, err := NewDpColorSeamFinder(1, nil)
	require.NoError(t, err)
	require.NoError(t, sf.Init(frames, masks, tls))

	got := sf.Masks()
	assertCoversCanvas(t, got, tls)
	for cy:=0; cy<40; cy++ {
		assert.True(t, onCanvas(got, tls, 0, 45, cy))
		assert.False(t, onCanvas(got, tls, 1, 45, cy))
		assert.False(t, onCanvas(got, tls, 0, 55, cy))
		assert.True(t, onCanvas(got, tls, 1, 55, cy))
	}
}

func TestSeamsDownscaled(t *testing.T) {
	frames, masks, tls := twoViews()
	sf, err := NewVoronoiSeamFinder(0.5, nil)
	require.NoError(t, err)
	require.NoError(t, sf.Init(frames, masks, tls))
	got := sf.Masks()
	assert.Equal(t, masks[0].Rect, got[0].Rect, "masks come back at full size")
	assert.True(t, onCanvas(got, tls, 0, 5, 20))
	assert.False(t, onCanvas(got, tls, 0, 58, 20))
}

func TestNoSeamFinderKeepsMasks(t *testing.T) {
	frames, masks, tls := twoViews()
	sf, err := NewNoSeamFinder(1, nil)
	require.NoError(t, err)
	require.NoError(t, sf.Init(frames, masks, tls))
	assert.Equal(t, masks[0].Pix, sf.Masks()[0].Pix)
	assert.Equal(t, masks[1].Pix, sf.Masks()[1].Pix)
}

func TestHistogramEqualizerStretches(t *testing.T) {
	f := image.NewRGBA(image.Rect(0, 0, 32, 8))
	for y:=0; y<8; y++ {
		for x:=0; x<32; x++ {
			v := uint8(100 + x/2)
			f.SetRGBA(x, y, color.RGBA{v, v, v, 0xFF})
		}
	}
	m := whiteMask(32, 8)
	m.Pix[0] = 0
	before := f.RGBAAt(0, 0)

	he := NewHistogramEqualizer(4, nil)
	require.NoError(t, he.Apply([]*image.RGBA{f}, []*image.Gray{m}))

	assert.Equal(t, before, f.RGBAAt(0, 0), "masked out")
	lo, hi := f.RGBAAt(1, 1).G, f.RGBAAt(31, 1).G
	assert.Greater(t, int(hi) - int(lo), 15, "lightness range widens")
}
