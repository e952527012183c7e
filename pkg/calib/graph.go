package calib

import(
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// LargestComponent returns, in ascending order, the image indices of the biggest
// connected component of the graph whose edges are the matches with confidence of at
// least thresh. Ties go to the component holding the lowest index.
func LargestComponent(n int, matches []PairwiseMatch, thresh float64) []int {
	g := simple.NewUndirectedGraph()
	for i:=0; i<n; i++ {
		g.AddNode(simple.Node(i))
	}
	for _, m := range matches {
		if m.Confidence >= thresh && m.A != m.B {
			g.SetEdge(g.NewEdge(simple.Node(m.A), simple.Node(m.B)))
		}
	}

	var best []int
	for _, cc := range topo.ConnectedComponents(g) {
		ids := make([]int, len(cc))
		for i, node := range cc {
			ids[i] = int(node.ID())
		}
		sort.Ints(ids)
		if len(ids) > len(best) || (len(ids) == len(best) && len(ids) > 0 && ids[0] < best[0]) {
			best = ids
		}
	}
	return best
}

// subsetMatches keeps the matches between kept images, renumbered to positions in keep.
func subsetMatches(matches []PairwiseMatch, keep []int) []PairwiseMatch {
	pos := map[int]int{}
	for i, idx := range keep {
		pos[idx] = i
	}

	out := []PairwiseMatch{}
	for _, m := range matches {
		a, okA := pos[m.A]
		b, okB := pos[m.B]
		if !okA || !okB {
			continue
		}
		m.A, m.B = a, b
		out = append(out, m)
	}
	return out
}
