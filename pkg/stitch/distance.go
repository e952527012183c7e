package stitch

import(
	"math"

	"github.com/abworrall/panostitch/pkg/emath"
)

// distanceL1 is a two-pass city-block distance transform: each cell gets its distance to
// the nearest cell where zero is true. If borderIsZero, everything beyond the grid edge
// counts as a zero cell too. With no zero cells anywhere, all distances are +Inf.
func distanceL1(w, h int, zero func(x, y int) bool, borderIsZero bool) emath.FloatGrid {
	d := emath.NewFloatGrid(w, h)
	outside := math.Inf(1)
	if borderIsZero {
		outside = 0
	}
	at := func(x, y int) float64 {
		if x < 0 || y < 0 || x >= w || y >= h {
			return outside
		}
		return d.Get(x, y)
	}

	for y:=0; y<h; y++ {
		for x:=0; x<w; x++ {
			if zero(x, y) {
				d.Set(x, y, 0)
				continue
			}
			d.Set(x, y, math.Min(at(x-1,y), at(x,y-1)) + 1)
		}
	}
	for y:=h-1; y>=0; y-- {
		for x:=w-1; x>=0; x-- {
			v := math.Min(at(x+1,y), at(x,y+1)) + 1
			if v < d.Get(x, y) {
				d.Set(x, y, v)
			}
		}
	}
	return d
}
