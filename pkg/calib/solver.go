package calib

import(
	"context"
	"fmt"
	"image"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"github.com/abworrall/panostitch/pkg/camera"
	"github.com/abworrall/panostitch/pkg/emath"
)

// FeatureSet holds the keypoints and binary descriptors found in one image.
type FeatureSet struct {
	ImgIdx      int
	Size        image.Point
	Keypoints   []r2.Point
	Descriptors [][4]uint64 // 256-bit binary descriptors, one per keypoint
}

// PairwiseMatch is the matching result between images A < B. H maps points in A to
// points in B; Inliers holds the point pairs consistent with H.
type PairwiseMatch struct {
	A, B        int
	Confidence  float64
	InlierCount int

	H       emath.Mat3
	Inliers [][2]r2.Point
}

func (m PairwiseMatch)String() string {
	return fmt.Sprintf("Match[%d-%d conf=%.3f inliers=%d]", m.A, m.B, m.Confidence, m.InlierCount)
}

// CameraParams is a camera's estimated matrix and rotation. Rotation takes camera rays
// into the shared panorama frame.
type CameraParams struct {
	Focal    float64
	Aspect   float64
	PPX, PPY float64
	R        emath.Mat3
}

func (p CameraParams)K() emath.Mat3 {
	return emath.Mat3{
		p.Focal, 0, p.PPX,
		0, p.Focal * p.Aspect, p.PPY,
		0, 0, 1,
	}
}

// SeedFromIntrinsic fills focal, aspect and principal point from a known camera matrix.
func SeedFromIntrinsic(k emath.Mat3) CameraParams {
	return CameraParams{
		Focal:  k.At(0,0),
		Aspect: k.At(1,1) / k.At(0,0),
		PPX:    k.At(0,2),
		PPY:    k.At(1,2),
		R:      emath.Identity3(),
	}
}

type BundleAdjuster int

const(
	AdjustNone BundleAdjuster = iota
	AdjustRay
	AdjustReproj
)

func (b BundleAdjuster)String() string {
	return [...]string{"no", "ray", "reproj"}[b]
}

func ParseBundleAdjuster(s string) (BundleAdjuster, error) {
	switch s {
	case "no":          return AdjustNone, nil
	case "ray", "":     return AdjustRay, nil
	case "reproj":      return AdjustReproj, nil
	default:
		return 0, errors.Errorf("no bundle adjuster named '%s' (want no|ray|reproj)", s)
	}
}

// Solver is the numerical capability the Calibrator drives. It also builds projection
// maps, so a Solver can stand in as a camera.Projector.
type Solver interface {
	DetectFeatures(ctx context.Context, img image.Image) (FeatureSet, error)
	MatchPairwise(ctx context.Context, features []FeatureSet, matchConf float64) ([]PairwiseMatch, error)
	EstimateHomography(features []FeatureSet, matches []PairwiseMatch, seeds []CameraParams) ([]CameraParams, error)
	AdjustBundle(ctx context.Context, variant BundleAdjuster, features []FeatureSet, matches []PairwiseMatch, params []CameraParams, confThresh float64) ([]CameraParams, error)

	camera.Projector
}
