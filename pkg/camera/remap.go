package camera

import(
	"image"
	"image/draw"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/abworrall/panostitch/pkg/emath"
)

// Invalid is the source address written into a remap table for destination pixels that
// have no source pixel; sampling treats them as transparent.
const Invalid = -1.0

// A RemapTable maps each output pixel to a (fractional) source pixel address.
type RemapTable struct {
	X emath.FloatGrid
	Y emath.FloatGrid
}

func NewRemapTable(w, h int) RemapTable {
	return RemapTable{X: emath.NewFloatGrid(w, h), Y: emath.NewFloatGrid(w, h)}
}

func IdentityTable(dims image.Point) RemapTable {
	t := NewRemapTable(dims.X, dims.Y)
	for y:=0; y<dims.Y; y++ {
		for x:=0; x<dims.X; x++ {
			t.X.Set(x, y, float64(x))
			t.Y.Set(x, y, float64(y))
		}
	}
	return t
}

func (t RemapTable)Dims() image.Point { return t.X.Dims() }
func (t RemapTable)Empty() bool       { return t.X.Empty() }

// Lookup returns the source address for an output pixel, and whether it lands inside a
// source of the given size.
func (t RemapTable)Lookup(x, y int, src image.Point) (float64, float64, bool) {
	sx, sy := t.X.Get(x, y), t.Y.Get(x, y)
	return sx, sy, inside(sx, sy, src)
}

func inside(sx, sy float64, src image.Point) bool {
	return sx >= 0 && sy >= 0 && sx <= float64(src.X-1) && sy <= float64(src.Y-1)
}

// Compose remaps this table through `outer`: the result maps outer's output pixels
// straight to this table's source pixels, so one sampling pass does both steps.
func (t RemapTable)Compose(outer RemapTable) RemapTable {
	dims := outer.Dims()
	inner := t.Dims()
	out := NewRemapTable(dims.X, dims.Y)

	parallelRows(dims.Y, func(y0, y1 int) {
		for y:=y0; y<y1; y++ {
			for x:=0; x<dims.X; x++ {
				ox, oy, ok := outer.Lookup(x, y, inner)
				if !ok {
					out.X.Set(x, y, Invalid)
					out.Y.Set(x, y, Invalid)
					continue
				}
				out.X.Set(x, y, t.X.Bilinear(ox, oy))
				out.Y.Set(x, y, t.Y.Bilinear(ox, oy))
			}
		}
	})

	return out
}

// Apply samples src bilinearly through the table. Pixels with no source are left
// transparent black.
func (t RemapTable)Apply(src image.Image) *image.RGBA {
	in := ToRGBA(src)
	sdims := in.Bounds().Size()
	dims := t.Dims()
	dst := image.NewRGBA(image.Rectangle{Max: dims})

	parallelRows(dims.Y, func(y0, y1 int) {
		for y:=y0; y<y1; y++ {
			for x:=0; x<dims.X; x++ {
				sx, sy, ok := t.Lookup(x, y, sdims)
				if !ok {
					continue
				}
				sampleBilinear(in, sx, sy, dst.Pix[dst.PixOffset(x, y):])
			}
		}
	})

	return dst
}

// Mask pushes an all-white source of the given size through the table with
// nearest-neighbour sampling and a zero border.
func (t RemapTable)Mask(src image.Point) *image.Gray {
	dims := t.Dims()
	mask := image.NewGray(image.Rectangle{Max: dims})
	for y:=0; y<dims.Y; y++ {
		for x:=0; x<dims.X; x++ {
			sx, sy := t.X.Get(x, y), t.Y.Get(x, y)
			nx, ny := math.Round(sx), math.Round(sy)
			if sx != Invalid && sy != Invalid && inside(nx, ny, src) {
				mask.Pix[mask.PixOffset(x, y)] = 0xFF
			}
		}
	}
	return mask
}

func sampleBilinear(src *image.RGBA, sx, sy float64, out []uint8) {
	b := src.Bounds()
	x0, y0 := int(sx), int(sy)
	x1, y1 := x0+1, y0+1
	if x1 >= b.Dx() { x1 = x0 }
	if y1 >= b.Dy() { y1 = y0 }
	fx, fy := sx-float64(x0), sy-float64(y0)

	p00 := src.Pix[src.PixOffset(b.Min.X+x0, b.Min.Y+y0):]
	p10 := src.Pix[src.PixOffset(b.Min.X+x1, b.Min.Y+y0):]
	p01 := src.Pix[src.PixOffset(b.Min.X+x0, b.Min.Y+y1):]
	p11 := src.Pix[src.PixOffset(b.Min.X+x1, b.Min.Y+y1):]
	for c:=0; c<4; c++ {
		top := float64(p00[c])*(1-fx) + float64(p10[c])*fx
		bot := float64(p01[c])*(1-fx) + float64(p11[c])*fx
		out[c] = emath.ClampU8(top*(1-fy) + bot*fy)
	}
}

// ToRGBA returns img as an *image.RGBA anchored at the origin, copying only if needed.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rectangle{Max: b.Size()})
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

// WhiteMask is the mask of a camera that sees everything.
func WhiteMask(dims image.Point) *image.Gray {
	mask := image.NewGray(image.Rectangle{Max: dims})
	for i := range mask.Pix {
		mask.Pix[i] = 0xFF
	}
	return mask
}

// parallelRows splits [0,h) into bands, one goroutine each.
func parallelRows(h int, fn func(y0, y1 int)) {
	var g errgroup.Group
	n := runtime.NumCPU()
	band := (h + n - 1) / n
	if band < 1 {
		band = 1
	}
	for y0:=0; y0<h; y0+=band {
		y0, y1 := y0, min(y0+band, h)
		g.Go(func() error {
			fn(y0, y1)
			return nil
		})
	}
	g.Wait()
}
