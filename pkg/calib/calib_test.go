package calib

import(
	"context"
	"image"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abworrall/panostitch/pkg/camera"
	"github.com/abworrall/panostitch/pkg/emath"
)

// fakeSolver returns canned matches and records what it was asked to do.
type fakeSolver struct {
	camera.SurfaceProjector

	matches      []PairwiseMatch
	homographyErr error
	adjustErr     error

	estimateCalls int
	adjustCalls   int
	gotMatchConf  float64
	gotSeeds      []CameraParams
}

func (f *fakeSolver)DetectFeatures(_ context.Context, img image.Image) (FeatureSet, error) {
	return FeatureSet{Size: img.Bounds().Size()}, nil
}

func (f *fakeSolver)MatchPairwise(_ context.Context, _ []FeatureSet, matchConf float64) ([]PairwiseMatch, error) {
	f.gotMatchConf = matchConf
	return f.matches, nil
}

func (f *fakeSolver)EstimateHomography(features []FeatureSet, _ []PairwiseMatch, seeds []CameraParams) ([]CameraParams, error) {
	f.estimateCalls++
	f.gotSeeds = seeds
	if f.homographyErr != nil {
		return nil, f.homographyErr
	}
	out := make([]CameraParams, len(seeds))
	for i, s := range seeds {
		s.R = emath.Rodrigues(emath.Vec3{0, 0.2 * float64(i), 0})
		out[i] = s
	}
	return out, nil
}

func (f *fakeSolver)AdjustBundle(_ context.Context, _ BundleAdjuster, _ []FeatureSet, _ []PairwiseMatch, params []CameraParams, _ float64) ([]CameraParams, error) {
	f.adjustCalls++
	return params, f.adjustErr
}

func testImages(t *testing.T, focals ...float64) []Image {
	t.Helper()
	out := []Image{}
	for i, f := range focals {
		base, err := camera.NewBase(string(rune('a'+i)), image.Point{32, 24})
		require.NoError(t, err)
		in, err := camera.NewIntrinsic(base, emath.Mat3{f, 0, 16, 0, f, 12, 0, 0, 1}, nil)
		require.NoError(t, err)
		out = append(out, Image{Camera: in, Image: image.NewRGBA(image.Rect(0, 0, 32, 24))})
	}
	return out
}

func chain(n int, conf float64) []PairwiseMatch {
	out := []PairwiseMatch{}
	for i:=0; i+1<n; i++ {
		out = append(out, PairwiseMatch{A: i, B: i+1, Confidence: conf, InlierCount: 50})
	}
	return out
}

func TestMedianFocal(t *testing.T) {
	m, err := MedianFocal([]float64{10, 20, 30})
	require.NoError(t, err)
	assert.Equal(t, 20.0, m)

	m, err = MedianFocal([]float64{10, 20})
	require.NoError(t, err)
	assert.Equal(t, 15.0, m)

	m, err = MedianFocal([]float64{30, 10, 1000, 20})
	require.NoError(t, err)
	assert.Equal(t, 25.0, m)

	_, err = MedianFocal(nil)
	assert.Error(t, err)
}

func TestLargestComponent(t *testing.T) {
	matches := []PairwiseMatch{
		{A: 0, B: 1, Confidence: 2.0},
		{A: 3, B: 4, Confidence: 1.5},
		{A: 4, B: 5, Confidence: 1.2},
		{A: 1, B: 2, Confidence: 0.5},  // too weak to join 2 in
	}
	assert.Equal(t, []int{3, 4, 5}, LargestComponent(6, matches, 0.95))

	// equal sizes: the component with the lowest index wins
	assert.Equal(t, []int{0, 1}, LargestComponent(4, []PairwiseMatch{{A: 2, B: 3, Confidence: 1}, {A: 0, B: 1, Confidence: 1}}, 0.95))

	// a match exactly at the threshold still joins its images
	atThresh := []PairwiseMatch{
		{A: 0, B: 1, Confidence: 0.95},
		{A: 1, B: 2, Confidence: 0.9499},
	}
	assert.Equal(t, []int{0, 1}, LargestComponent(3, atThresh, 0.95))
}

func TestCalibrateTooFewFails(t *testing.T) {
	solver := &fakeSolver{matches: []PairwiseMatch{{A: 0, B: 1, Confidence: 2}, {A: 1, B: 2, Confidence: 0.3}}}
	c := NewCalibrator(solver, nil)

	res, err := c.Calibrate(context.Background(), testImages(t, 100, 100, 100))
	assert.ErrorIs(t, err, ErrInsufficientImages)
	assert.True(t, res.Empty())
	assert.Equal(t, 0, solver.adjustCalls)
	assert.Equal(t, 0, solver.estimateCalls)
	assert.Equal(t, DefaultFeaturesConfThresh, solver.gotMatchConf)
}

func TestCalibrateExcludesOutsiders(t *testing.T) {
	matches := append(chain(3, 2.0), PairwiseMatch{A: 3, B: 4, Confidence: 3})
	solver := &fakeSolver{matches: matches}
	c := NewCalibrator(solver, nil)

	res, err := c.Calibrate(context.Background(), testImages(t, 100, 200, 300, 400, 500))
	require.NoError(t, err)

	assert.Equal(t, []int{3, 4}, res.Excluded)
	require.Len(t, res.Cameras, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{res.Cameras[0].Index, res.Cameras[1].Index, res.Cameras[2].Index})
	assert.Equal(t, 300.0, res.Focal, "median over every input camera")
	for _, cc := range res.Cameras {
		assert.Equal(t, 300.0, cc.Focal)
	}
	assert.Equal(t, 1, solver.adjustCalls)

	// seeds come from the known intrinsics
	require.Len(t, solver.gotSeeds, 3)
	assert.Equal(t, 200.0, solver.gotSeeds[1].Focal)
	assert.Equal(t, 1.0, solver.gotSeeds[1].Aspect)
	assert.Equal(t, 16.0, solver.gotSeeds[1].PPX)
	assert.Equal(t, 12.0, solver.gotSeeds[1].PPY)

	rot, err := res.Cameras[1].Build()
	require.NoError(t, err)
	assert.Equal(t, camera.StageRotation, rot.Stage())
	assert.Equal(t, 300.0, rot.Radius())
}

func TestCalibrateNoAdjuster(t *testing.T) {
	solver := &fakeSolver{matches: chain(4, 2.0)}
	c := NewCalibrator(solver, nil)
	c.Adjuster = AdjustNone

	res, err := c.Calibrate(context.Background(), testImages(t, 100, 100, 100, 100))
	require.NoError(t, err)
	assert.Len(t, res.Cameras, 4)
	assert.Empty(t, res.Excluded)
	assert.Equal(t, 0, solver.adjustCalls)
}

func TestCalibrateSolverFailures(t *testing.T) {
	solver := &fakeSolver{matches: chain(3, 2.0), homographyErr: errors.New("degenerate")}
	_, err := NewCalibrator(solver, nil).Calibrate(context.Background(), testImages(t, 100, 100, 100))
	assert.ErrorIs(t, err, ErrHomographyEstimation)

	solver = &fakeSolver{matches: chain(3, 2.0), adjustErr: errors.New("diverged")}
	res, err := NewCalibrator(solver, nil).Calibrate(context.Background(), testImages(t, 100, 100, 100))
	assert.ErrorIs(t, err, ErrBundleAdjustment)
	assert.True(t, res.Empty())
}

func TestWaveCorrectLevelsAndIsIdempotent(t *testing.T) {
	tilt := emath.Rodrigues(emath.Vec3{0.15, 0, 0.05})
	rmats := []emath.Mat3{}
	for _, yaw := range []float64{-0.5, -0.2, 0.1, 0.4} {
		rmats = append(rmats, tilt.Mult(emath.Rodrigues(emath.Vec3{0, yaw, 0})))
	}

	once := WaveCorrectHorizontal(rmats)
	twice := WaveCorrectHorizontal(once)
	require.Len(t, twice, len(rmats))
	for i := range once {
		assert.True(t, once[i].ApproxEqual(twice[i], 1e-7), "rotation %d:\n%s\n%s", i, once[i], twice[i])

		// every camera x axis now lies in the horizontal plane
		assert.InDelta(t, 0.0, once[i].Col(0)[1], 1e-7)
		assert.InDelta(t, 1.0, once[i].Det(), 1e-9)
	}

	// relative rotations are untouched
	rel := once[0].Transpose().Mult(once[1])
	want := rmats[0].Transpose().Mult(rmats[1])
	assert.True(t, rel.ApproxEqual(want, 1e-7))
}

func TestWaveCorrectSingle(t *testing.T) {
	r := emath.Rodrigues(emath.Vec3{0.3, 0.1, 0})
	out := WaveCorrectHorizontal([]emath.Mat3{r})
	assert.Equal(t, r, out[0])
}

func TestParseBundleAdjuster(t *testing.T) {
	for s, want := range map[string]BundleAdjuster{"no": AdjustNone, "ray": AdjustRay, "reproj": AdjustReproj} {
		got, err := ParseBundleAdjuster(s)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, s, got.String())
	}
	_, err := ParseBundleAdjuster("magic")
	assert.Error(t, err)
}
