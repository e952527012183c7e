package geosolver

import(
	"math/bits"

	"github.com/golang/geo/r2"

	"github.com/abworrall/panostitch/pkg/calib"
)

// minMatches is the fewest putative matches worth fitting a homography to.
const minMatches = 6

func hamming(a, b [4]uint64) int {
	return bits.OnesCount64(a[0]^b[0]) + bits.OnesCount64(a[1]^b[1]) +
		bits.OnesCount64(a[2]^b[2]) + bits.OnesCount64(a[3]^b[3])
}

// bestOf2Nearest returns, for each query descriptor, the index of its nearest train
// descriptor when that is clearly better than the second nearest; -1 otherwise.
func bestOf2Nearest(query, train [][4]uint64, matchConf float64) []int {
	out := make([]int, len(query))
	for i, q := range query {
		out[i] = -1
		best, second := -1, -1
		d1, d2 := nSampleBits+1, nSampleBits+1
		for j, t := range train {
			d := hamming(q, t)
			if d < d1 {
				second, d2 = best, d1
				best, d1 = j, d
			} else if d < d2 {
				second, d2 = j, d
			}
		}
		if best < 0 || second < 0 {
			continue
		}
		if float64(d1) < (1.0 - matchConf) * float64(d2) {
			out[i] = best
		}
	}
	return out
}

// putativeMatches unions the ratio-tested matches found in both directions.
func putativeMatches(a, b calib.FeatureSet, matchConf float64) [][2]int {
	seen := map[[2]int]bool{}
	out := [][2]int{}
	add := func(ia, ib int) {
		k := [2]int{ia, ib}
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}

	for ia, ib := range bestOf2Nearest(a.Descriptors, b.Descriptors, matchConf) {
		if ib >= 0 {
			add(ia, ib)
		}
	}
	for ib, ia := range bestOf2Nearest(b.Descriptors, a.Descriptors, matchConf) {
		if ia >= 0 {
			add(ia, ib)
		}
	}
	return out
}

// confidence follows the usual inliers-versus-matches model; implausibly high values
// mean the two images are the same picture, which is no use for stitching.
func confidence(inliers, matches int) float64 {
	c := float64(inliers) / (8.0 + 0.3*float64(matches))
	if c > 3.0 {
		return 0
	}
	return c
}

// matchPair matches two feature sets and fits the homography that maps points in a onto
// points in b.
func (s *Solver)matchPair(a, b calib.FeatureSet, matchConf float64) calib.PairwiseMatch {
	pm := calib.PairwiseMatch{A: a.ImgIdx, B: b.ImgIdx}

	pairs := putativeMatches(a, b, matchConf)
	if len(pairs) < minMatches {
		return pm
	}

	src := make([]r2.Point, len(pairs))
	dst := make([]r2.Point, len(pairs))
	for i, p := range pairs {
		src[i] = a.Keypoints[p[0]]
		dst[i] = b.Keypoints[p[1]]
	}

	h, inliers, err := ransacHomography(src, dst, s.RansacThresh, s.RansacIters, s.Seed + int64(a.ImgIdx*7919 + b.ImgIdx))
	if err != nil {
		s.log.Debugf("images %d-%d: %v", a.ImgIdx, b.ImgIdx, err)
		return pm
	}

	pm.H = h
	for i, in := range inliers {
		if in {
			pm.Inliers = append(pm.Inliers, [2]r2.Point{src[i], dst[i]})
		}
	}
	pm.InlierCount = len(pm.Inliers)
	pm.Confidence = confidence(pm.InlierCount, len(pairs))
	return pm
}
