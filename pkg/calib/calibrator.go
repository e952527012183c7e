package calib

import(
	"context"
	"fmt"
	"image"
	"runtime"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/abworrall/panostitch/pkg/camera"
	"github.com/abworrall/panostitch/pkg/emath"
)

var(
	ErrInsufficientImages   = errors.New("not enough images in the largest matched component")
	ErrHomographyEstimation = errors.New("homography estimation failed")
	ErrBundleAdjustment     = errors.New("bundle adjustment failed")
)

const(
	DefaultFeaturesConfThresh = 0.65
	DefaultConfThresh         = 0.95
)

// Image is one lens-corrected calibration image and the camera that took it.
type Image struct {
	Camera *camera.Intrinsic
	Image  image.Image
}

// CalibratedCamera is what calibration learns about one camera.
type CalibratedCamera struct {
	Index     int              // position in the Calibrate input
	Camera    *camera.Intrinsic
	Extrinsic emath.Mat3       // the refined camera matrix
	Rotation  emath.Mat3
	Focal     float64          // the shared (median) focal
}

// Build turns the calibration into a camera ready for projection.
func (cc CalibratedCamera)Build() (*camera.Rotation, error) {
	ext, err := camera.NewExtrinsic(cc.Camera, cc.Extrinsic)
	if err != nil {
		return nil, err
	}
	return camera.NewRotation(ext, cc.Rotation, cc.Focal)
}

type Result struct {
	Cameras  []CalibratedCamera
	Excluded []int            // input indices outside the largest component, ascending
	Focal    float64
}

func (r Result)Empty() bool { return len(r.Cameras) == 0 }

func (r Result)String() string {
	str := fmt.Sprintf("Calibration[focal=%.2f, excluded=%v] [\n", r.Focal, r.Excluded)
	for _, c := range r.Cameras {
		str += fmt.Sprintf("  %d %s rot=%v\n", c.Index, c.Camera.Name(), c.Rotation.RodriguesVec())
	}
	return str + "]\n"
}

// The Calibrator turns overlapping images into a consistent set of rotations and one
// shared focal, driving a Solver for the numerical work.
type Calibrator struct {
	Solver             Solver
	FeaturesConfThresh float64         // matcher confidence
	ConfThresh         float64         // edge threshold for the component graph, and bundle adjustment
	Adjuster           BundleAdjuster
	Workers            int             // parallel feature detection

	log *zap.SugaredLogger
}

func NewCalibrator(solver Solver, log *zap.SugaredLogger) *Calibrator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Calibrator{
		Solver:             solver,
		FeaturesConfThresh: DefaultFeaturesConfThresh,
		ConfThresh:         DefaultConfThresh,
		Adjuster:           AdjustRay,
		Workers:            runtime.NumCPU(),
		log:                log,
	}
}

// Calibrate returns an empty result and an error wrapping one of the Err* values when
// calibration is not possible.
func (c *Calibrator)Calibrate(ctx context.Context, images []Image) (Result, error) {
	n := len(images)
	c.log.Infof("calibrating %d images (features conf %.2f, conf %.2f, adjuster %s)",
		n, c.FeaturesConfThresh, c.ConfThresh, c.Adjuster)

	features, err := c.detectAll(ctx, images)
	if err != nil {
		return Result{}, err
	}

	matches, err := c.Solver.MatchPairwise(ctx, features, c.FeaturesConfThresh)
	if err != nil {
		return Result{}, errors.Wrap(err, "pairwise matching")
	}
	for _, m := range matches {
		c.log.Debugf("%s", m)
	}

	keep := LargestComponent(n, matches, c.ConfThresh)
	excluded := lo.Without(lo.Range(n), keep...)
	for _, idx := range excluded {
		c.log.Warnf("excluding image %d (%s): not in the largest set of confidently matched images",
			idx, images[idx].Camera.Name())
	}

	if len(keep) <= 2 {
		c.log.Errorf("largest component has %d images, need at least 3", len(keep))
		return Result{}, errors.Wrapf(ErrInsufficientImages, "%d of %d images connected", len(keep), n)
	}

	kept := make([]FeatureSet, len(keep))
	seeds := make([]CameraParams, len(keep))
	for i, idx := range keep {
		kept[i] = features[idx]
		kept[i].ImgIdx = i
		seeds[i] = SeedFromIntrinsic(images[idx].Camera.IntrinsicMatrix())
	}
	keptMatches := subsetMatches(matches, keep)

	params, err := c.Solver.EstimateHomography(kept, keptMatches, seeds)
	if err != nil {
		c.log.Errorf("homography estimation: %v", err)
		return Result{}, errors.Wrap(ErrHomographyEstimation, err.Error())
	}

	if c.Adjuster != AdjustNone {
		params, err = c.Solver.AdjustBundle(ctx, c.Adjuster, kept, keptMatches, params, c.ConfThresh)
		if err != nil {
			c.log.Errorf("bundle adjustment (%s): %v", c.Adjuster, err)
			return Result{}, errors.Wrap(ErrBundleAdjustment, err.Error())
		}
	}

	rmats := WaveCorrectHorizontal(lo.Map(params, func(p CameraParams, _ int) emath.Mat3 { return p.R }))

	focal, err := MedianFocal(lo.Map(images, func(im Image, _ int) float64 { return im.Camera.Focal() }))
	if err != nil {
		return Result{}, err
	}

	res := Result{Excluded: excluded, Focal: focal}
	for i, idx := range keep {
		res.Cameras = append(res.Cameras, CalibratedCamera{
			Index:     idx,
			Camera:    images[idx].Camera,
			Extrinsic: params[i].K(),
			Rotation:  rmats[i],
			Focal:     focal,
		})
	}

	c.log.Infof("calibrated %d cameras, focal %.2f", len(res.Cameras), focal)
	return res, nil
}

// detectAll runs feature detection over a small pool of workers.
func (c *Calibrator)detectAll(ctx context.Context, images []Image) ([]FeatureSet, error) {
	features := make([]FeatureSet, len(images))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, c.Workers))
	for i, im := range images {
		i, im := i, im
		g.Go(func() error {
			fs, err := c.Solver.DetectFeatures(gctx, im.Image)
			if err != nil {
				return errors.Wrapf(err, "features of image %d (%s)", i, im.Camera.Name())
			}
			fs.ImgIdx = i
			features[i] = fs
			c.log.Debugf("image %d (%s): %d features", i, im.Camera.Name(), len(fs.Keypoints))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return features, nil
}
