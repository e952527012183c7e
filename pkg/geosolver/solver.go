// Package geosolver is a pure Go calib.Solver: Harris corners with BRIEF descriptors,
// ratio-tested Hamming matching, RANSAC homographies, rotation chaining over a maximum
// spanning tree, and rotation-only bundle adjustment.
package geosolver

import(
	"context"
	"fmt"
	"image"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/abworrall/panostitch/pkg/calib"
	"github.com/abworrall/panostitch/pkg/camera"
)

type Solver struct {
	camera.WarpProjector

	MaxFeatures      int
	HarrisK          float64
	HarrisRelThresh  float64  // corners weaker than this fraction of the strongest are dropped
	RansacThresh     float64  // reprojection tolerance in pixels
	RansacIters      int
	AdjustIterations int
	Seed             int64

	DebugDir string // if set, keypoint plots are written here

	log *zap.SugaredLogger
}

var _ calib.Solver = (*Solver)(nil)

func New(log *zap.SugaredLogger) *Solver {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Solver{
		MaxFeatures:      500,
		HarrisK:          0.04,
		HarrisRelThresh:  0.01,
		RansacThresh:     3.0,
		RansacIters:      500,
		AdjustIterations: 200,
		Seed:             1,
		log:              log,
	}
}

func (s *Solver)DetectFeatures(ctx context.Context, img image.Image) (calib.FeatureSet, error) {
	if err := ctx.Err(); err != nil {
		return calib.FeatureSet{}, err
	}
	kps, descs := s.features(img)
	return calib.FeatureSet{
		Size:        img.Bounds().Size(),
		Keypoints:   kps,
		Descriptors: descs,
	}, nil
}

// MatchPairwise matches every pair of images, returning one PairwiseMatch per pair with
// A < B, ordered by (A, B).
func (s *Solver)MatchPairwise(ctx context.Context, features []calib.FeatureSet, matchConf float64) ([]calib.PairwiseMatch, error) {
	if s.DebugDir != "" {
		for _, fs := range features {
			filename := filepath.Join(s.DebugDir, fmt.Sprintf("keypoints-%02d.png", fs.ImgIdx))
			if err := PlotKeypoints(fs, filename); err != nil {
				s.log.Warnf("keypoint plot: %v", err)
			}
		}
	}

	n := len(features)
	out := make([]calib.PairwiseMatch, 0, n*(n-1)/2)
	for i:=0; i<n; i++ {
		for j:=i+1; j<n; j++ {
			out = append(out, calib.PairwiseMatch{A: i, B: j})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for k := range out {
		k := k
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			a, b := features[out[k].A], features[out[k].B]
			a.ImgIdx, b.ImgIdx = out[k].A, out[k].B
			out[k] = s.matchPair(a, b, matchConf)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
