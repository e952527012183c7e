package camera

import(
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abworrall/panostitch/pkg/emath"
)

func testIntrinsic(t *testing.T, dims image.Point, dist []float64) *Intrinsic {
	t.Helper()
	base, err := NewBase("cam", dims)
	require.NoError(t, err)
	k := emath.Mat3{
		float64(dims.X), 0, float64(dims.X)/2,
		0, float64(dims.X), float64(dims.Y)/2,
		0, 0, 1,
	}
	in, err := NewIntrinsic(base, k, dist)
	require.NoError(t, err)
	return in
}

func gradientImage(dims image.Point) *image.RGBA {
	img := image.NewRGBA(image.Rectangle{Max: dims})
	for y:=0; y<dims.Y; y++ {
		for x:=0; x<dims.X; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 3), uint8(y * 5), uint8((x + y) % 256), 0xFF})
		}
	}
	return img
}

func TestUndistortZeroCoeffsIsIdentity(t *testing.T) {
	dims := image.Point{40, 30}
	for _, k := range []emath.Mat3{emath.Identity3().Scale(2), {500, 0, 20, 0, 500, 15, 0, 0, 1}} {
		maps, err := BuildUndistortMaps(k, []float64{0, 0, 0, 0, 0}, dims)
		require.NoError(t, err)
		for y:=0; y<dims.Y; y++ {
			for x:=0; x<dims.X; x++ {
				assert.Equal(t, float64(x), maps.X.Get(x, y))
				assert.Equal(t, float64(y), maps.Y.Get(x, y))
			}
		}
	}
}

func TestUndistortRejectsBadCoeffs(t *testing.T) {
	_, err := BuildUndistortMaps(emath.Identity3(), []float64{1, 2, 3}, image.Point{4, 4})
	assert.Error(t, err)
	_, err = NewDistortion(make([]float64, 9))
	assert.Error(t, err)

	for _, n := range []int{12, 14} {
		d, err := NewDistortion(make([]float64, n))
		require.NoError(t, err, "%d coefficients", n)
		assert.True(t, d.IsZero())
	}
}

func TestThinPrismAndTilt(t *testing.T) {
	prism, err := NewDistortion([]float64{0, 0, 0, 0, 0, 0, 0, 0, 0.5, 0, 0, 0})
	require.NoError(t, err)
	xd, yd := prism.Distort(0.1, 0.2)
	assert.InDelta(t, 0.1+0.5*0.05, xd, 1e-12)
	assert.InDelta(t, 0.2, yd, 1e-12)

	tilted, err := NewDistortion([]float64{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0.1, 0})
	require.NoError(t, err)
	xd, yd = tilted.Distort(0, 0)
	assert.InDelta(t, 0.0, xd, 1e-12, "the principal point stays put")
	assert.InDelta(t, 0.0, yd, 1e-12)
	xd, yd = tilted.Distort(0, 0.2)
	assert.InDelta(t, 0.0, xd, 1e-12)
	assert.InDelta(t, 0.2/(math.Cos(0.1)-0.2*math.Sin(0.1)), yd, 1e-12)
}

func TestUndistortBarrelMasksCorners(t *testing.T) {
	in := testIntrinsic(t, image.Point{60, 40}, []float64{0.8, 0, 0, 0})
	mask := in.Mask()
	assert.Equal(t, uint8(0xFF), mask.GrayAt(30, 20).Y, "centre is always visible")
	assert.Equal(t, uint8(0), mask.GrayAt(0, 0).Y, "strong distortion pushes the corner out of frame")
}

func TestIntrinsicRemapIdentity(t *testing.T) {
	dims := image.Point{24, 16}
	in := testIntrinsic(t, dims, nil)
	src := gradientImage(dims)
	assert.Equal(t, src.Pix, in.Remap(src).Pix)
	assert.Equal(t, image.Rect(0, 0, 24, 16), in.Corners())
	assert.InDelta(t, 24.0, in.Focal(), 1e-12)
}

func TestExtrinsicCorners(t *testing.T) {
	in := testIntrinsic(t, image.Point{64, 48}, nil)

	ext, err := NewExtrinsic(in, emath.Identity3())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 48), ext.Corners())

	shifted, err := NewExtrinsic(in, emath.Mat3{1, 0, 100, 0, 1, 7, 0, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(100, 7, 164, 55), shifted.Corners())
	assert.Equal(t, StageExtrinsic, shifted.Stage())
}

func TestChainRejectsMissingStage(t *testing.T) {
	_, err := NewIntrinsic(nil, emath.Identity3(), nil)
	assert.ErrorIs(t, err, ErrMissingStage)
	_, err = NewExtrinsic(nil, emath.Identity3())
	assert.ErrorIs(t, err, ErrMissingStage)
	_, err = NewRotation(nil, emath.Identity3(), 1)
	assert.ErrorIs(t, err, ErrMissingStage)
	_, err = NewProjected(nil, Cylindrical, nil)
	assert.ErrorIs(t, err, ErrMissingStage)

	_, err = NewBase("empty", image.Point{0, 10})
	assert.Error(t, err)
}

func TestWarpProjectorIdentityCentre(t *testing.T) {
	dims := image.Point{80, 60}
	in := testIntrinsic(t, dims, nil)
	ext, err := NewExtrinsic(in, in.IntrinsicMatrix())
	require.NoError(t, err)
	rot, err := NewRotation(ext, emath.Identity3(), in.Focal())
	require.NoError(t, err)

	for _, kind := range []Projection{Cylindrical, Spherical} {
		proj, err := NewProjected(rot, kind, WarpProjector{})
		require.NoError(t, err)

		rect := proj.Corners()
		assert.Equal(t, rect.Size(), proj.Mask().Bounds().Size())
		assert.Equal(t, rect.Size(), proj.Maps().Dims())

		// the optical axis maps back to the principal point; on the sphere the
		// equator sits at radius*pi/2
		axis := image.Point{0, 0}
		if kind == Spherical {
			axis.Y = int(math.Floor(80 * math.Pi / 2))
		}
		require.True(t, axis.In(rect), "%s rect %v", kind, rect)
		ox, oy := axis.X-rect.Min.X, axis.Y-rect.Min.Y
		sx, sy, ok := proj.Maps().Lookup(ox, oy, dims)
		require.True(t, ok)
		assert.InDelta(t, 40.0, sx, 1e-6)
		assert.InDelta(t, 30.0, sy, 1.0)
		assert.Equal(t, uint8(0xFF), proj.Mask().GrayAt(ox, oy).Y)
	}
}

func TestWarpProjectorRotationShiftsRect(t *testing.T) {
	dims := image.Point{80, 60}
	in := testIntrinsic(t, dims, nil)
	ext, err := NewExtrinsic(in, in.IntrinsicMatrix())
	require.NoError(t, err)

	straight, err := NewRotation(ext, emath.Identity3(), 80)
	require.NoError(t, err)
	turned, err := NewRotation(ext, emath.Rodrigues(emath.Vec3{0, 0.3, 0}), 80)
	require.NoError(t, err)

	p1, err := NewProjected(straight, Cylindrical, WarpProjector{})
	require.NoError(t, err)
	p2, err := NewProjected(turned, Cylindrical, WarpProjector{})
	require.NoError(t, err)

	// a yaw of 0.3 rad moves the image 0.3*radius along the cylinder
	shift := float64(p2.Corners().Min.X - p1.Corners().Min.X)
	assert.InDelta(t, 0.3*80, shift, 2)
	assert.Equal(t, p1.Corners().Min.Y, p2.Corners().Min.Y, "yaw leaves the vertical extent alone")
	assert.Equal(t, p1.Corners().Max.Y, p2.Corners().Max.Y)
	assert.Equal(t, -30, p1.Corners().Min.Y)

	for _, yaw := range []float64{-0.7, -0.2, 0.1, 0.45, 1.1} {
		r, err := NewRotation(ext, emath.Rodrigues(emath.Vec3{0, yaw, 0}), 80)
		require.NoError(t, err)
		p, err := NewProjected(r, Cylindrical, WarpProjector{})
		require.NoError(t, err)
		assert.Equal(t, p1.Corners().Min.Y, p.Corners().Min.Y, "yaw %.2f", yaw)
		assert.Equal(t, p1.Corners().Max.Y, p.Corners().Max.Y, "yaw %.2f", yaw)
	}
}

func TestSnap(t *testing.T) {
	assert.Equal(t, -30.0, snap(-30.000000000000004))
	assert.Equal(t, -30.0, snap(-29.999999999999996))
	assert.Equal(t, 12.0, snap(12))
	assert.Equal(t, -26.8328, snap(-26.8328))
}

func TestSurfaceProjectorMarksOutOfFrame(t *testing.T) {
	dims := image.Point{60, 40}
	in := testIntrinsic(t, dims, nil)
	ext, err := NewExtrinsic(in, emath.Identity3())
	require.NoError(t, err)
	rot, err := NewRotation(ext, emath.Identity3(), 30)
	require.NoError(t, err)

	proj, err := NewProjected(rot, Cylindrical, SurfaceProjector{})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 60, 40), proj.Corners())

	// the centre column maps to itself; far columns bend outwards past the frame
	sx, _, ok := proj.WarpMaps().Lookup(30, 20, dims)
	require.True(t, ok)
	assert.InDelta(t, 30.0, sx, 1e-9)

	wm := proj.WarpMaps()
	assert.Equal(t, Invalid, wm.X.Get(0, 20))
	assert.Equal(t, uint8(0), proj.Mask().GrayAt(0, 20).Y)
	assert.Equal(t, uint8(0xFF), proj.Mask().GrayAt(30, 20).Y)
}

func TestComposeMatchesTwoPasses(t *testing.T) {
	dims := image.Point{30, 20}
	src := gradientImage(dims)

	shift := NewRemapTable(dims.X, dims.Y)
	for y:=0; y<dims.Y; y++ {
		for x:=0; x<dims.X; x++ {
			shift.X.Set(x, y, float64(x+2))
			shift.Y.Set(x, y, float64(y))
		}
	}

	once := IdentityTable(dims).Compose(shift).Apply(src)
	twice := shift.Apply(IdentityTable(dims).Apply(src))
	assert.Equal(t, twice.Pix, once.Pix)

	// the last two columns have no source
	assert.Equal(t, color.RGBA{}, once.RGBAAt(29, 5))
}

func TestParseProjection(t *testing.T) {
	p, err := ParseProjection("spherical")
	require.NoError(t, err)
	assert.Equal(t, Spherical, p)
	_, err = ParseProjection("mercator")
	assert.Error(t, err)
}
