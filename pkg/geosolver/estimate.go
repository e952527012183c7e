package geosolver

import(
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/abworrall/panostitch/pkg/calib"
	"github.com/abworrall/panostitch/pkg/emath"
)

// spanningTree is the maximum spanning tree of the match graph, weighted by inlier
// counts, so the rotation chain is built from the most trustworthy homographies.
func spanningTree(n int, matches []calib.PairwiseMatch) *simple.WeightedUndirectedGraph {
	g := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for i:=0; i<n; i++ {
		g.AddNode(simple.Node(i))
	}
	for _, m := range matches {
		if m.InlierCount == 0 || m.Confidence <= 0 || m.A == m.B {
			continue
		}
		// Prim finds minimum trees
		g.SetWeightedEdge(g.NewWeightedEdge(simple.Node(m.A), simple.Node(m.B), -float64(m.InlierCount)))
	}

	tree := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	path.Prim(tree, g)
	return tree
}

// bfsOrder walks the tree from root, returning each node's parent (-1 for the root and
// for unreachable nodes) and the visiting order.
func bfsOrder(tree *simple.WeightedUndirectedGraph, n, root int) ([]int, []int) {
	parent := make([]int, n)
	seen := make([]bool, n)
	for i := range parent {
		parent[i] = -1
	}

	order := []int{root}
	seen[root] = true
	for q:=0; q<len(order); q++ {
		cur := order[q]
		if tree.Node(int64(cur)) == nil {
			continue
		}
		it := tree.From(int64(cur))
		for it.Next() {
			nb := int(it.Node().ID())
			if !seen[nb] {
				seen[nb] = true
				parent[nb] = cur
				order = append(order, nb)
			}
		}
	}
	return parent, order
}

// treeCenter is the node whose furthest tree neighbour is nearest.
func treeCenter(tree *simple.WeightedUndirectedGraph, n int) int {
	best, bestDepth := 0, n+1
	for root:=0; root<n; root++ {
		parent, order := bfsOrder(tree, n, root)
		if len(order) < n {
			continue
		}
		depth := make([]int, n)
		maxDepth := 0
		for _, v := range order[1:] {
			depth[v] = depth[parent[v]] + 1
			maxDepth = max(maxDepth, depth[v])
		}
		if maxDepth < bestDepth {
			best, bestDepth = root, maxDepth
		}
	}
	return best
}

// relativeRotation is R_from^T * R_to, recovered from the homography taking points in
// image `from` to image `to`.
func relativeRotation(kFrom, kTo, hFromTo emath.Mat3) (emath.Mat3, error) {
	kFromInv, err := kFrom.Inverse()
	if err != nil {
		return emath.Mat3{}, err
	}
	hInv, err := hFromTo.Inverse()
	if err != nil {
		return emath.Mat3{}, err
	}
	return kFromInv.Mult(hInv).Mult(kTo), nil
}

// EstimateHomography keeps the seeded camera matrices and chains rotations outward from
// the center of the maximum spanning tree of matches.
func (s *Solver)EstimateHomography(features []calib.FeatureSet, matches []calib.PairwiseMatch, seeds []calib.CameraParams) ([]calib.CameraParams, error) {
	n := len(seeds)
	if n != len(features) {
		return nil, errors.Errorf("%d seeds for %d feature sets", n, len(features))
	}
	out := append([]calib.CameraParams{}, seeds...)
	if n == 0 {
		return out, nil
	}

	hs := map[[2]int]emath.Mat3{}
	for _, m := range matches {
		hs[[2]int{m.A, m.B}] = m.H
		if inv, err := m.H.Inverse(); err == nil {
			hs[[2]int{m.B, m.A}] = inv
		}
	}

	tree := spanningTree(n, matches)
	root := treeCenter(tree, n)
	parent, order := bfsOrder(tree, n, root)
	if len(order) < n {
		return nil, errors.Errorf("only %d of %d images are linked by matches", len(order), n)
	}
	s.log.Debugf("rotation chain rooted at image %d", root)

	out[root].R = emath.Identity3()
	for _, to := range order[1:] {
		from := parent[to]
		h, ok := hs[[2]int{from, to}]
		if !ok {
			return nil, errors.Errorf("no homography between images %d and %d", from, to)
		}
		rel, err := relativeRotation(out[from].K(), out[to].K(), h)
		if err != nil {
			return nil, errors.Wrapf(err, "images %d-%d", from, to)
		}
		out[to].R = out[from].R.Mult(rel).Orthonormalize()
	}
	return out, nil
}
