package emath

import(
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg" // Move to https://pkg.go.dev/golang.org/x/image/font#Drawer sometime
)

// A FloatGrid is a dense grid of floats, with some operations. Remap tables, blend
// weights, pyramid levels and gain maps are all FloatGrids.
type FloatGrid struct {
	stride int
	values []float64
}

func NewFloatGrid(w, h int) FloatGrid {
	return FloatGrid{
		stride: w,
		values: make([]float64, w*h),
	}
}

func (g1 *FloatGrid)NewFromThis() FloatGrid  { return NewFloatGrid(g1.Dx(), g1.Dy()) }
func (fg *FloatGrid)Set(x, y int, v float64) { fg.values[fg.stride*y + x] = v }
func (fg *FloatGrid)Get(x, y int) float64    { return fg.values[fg.stride*y + x] }
func (fg *FloatGrid)Dx() int                 { return fg.stride }
func (fg *FloatGrid)Dims() image.Point       { return image.Point{fg.Dx(), fg.Dy()} }
func (fg *FloatGrid)Empty() bool             { return len(fg.values) == 0 }
func (fg *FloatGrid)Values() []float64       { return fg.values }

func (fg *FloatGrid)Dy() int {
	if fg.stride == 0 {
		return 0
	}
	return len(fg.values) / fg.stride
}

func (g1 *FloatGrid)Copy() *FloatGrid {
	g2 := FloatGrid{stride: g1.stride, values:make([]float64, len(g1.values))}
	copy(g2.values, g1.values)
	return &g2
}

func (fg *FloatGrid)Fill(v float64) {
	for i := range fg.values {
		fg.values[i] = v
	}
}

// Bilinear samples the grid at a fractional location, clamping at the edges.
func (fg *FloatGrid)Bilinear(x, y float64) float64 {
	w, h := fg.Dx(), fg.Dy()
	if x < 0 { x = 0 }
	if y < 0 { y = 0 }
	if x > float64(w-1) { x = float64(w-1) }
	if y > float64(h-1) { y = float64(h-1) }

	x0, y0 := int(x), int(y)
	x1, y1 := x0+1, y0+1
	if x1 >= w { x1 = w-1 }
	if y1 >= h { y1 = h-1 }
	fx, fy := x-float64(x0), y-float64(y0)

	top := fg.Get(x0,y0)*(1-fx) + fg.Get(x1,y0)*fx
	bot := fg.Get(x0,y1)*(1-fx) + fg.Get(x1,y1)*fx
	return top*(1-fy) + bot*fy
}

// Resize returns a w*h grid, bilinearly sampled from this one (pixel centers aligned).
func (g1 *FloatGrid)Resize(w, h int) FloatGrid {
	g2 := NewFloatGrid(w, h)
	sx := float64(g1.Dx()) / float64(w)
	sy := float64(g1.Dy()) / float64(h)
	for y:=0; y<h; y++ {
		for x:=0; x<w; x++ {
			g2.Set(x, y, g1.Bilinear((float64(x)+0.5)*sx-0.5, (float64(y)+0.5)*sy-0.5))
		}
	}
	return g2
}

// Add, Sub and Mul are elementwise; the grids must match in size.
func (g1 FloatGrid)Add(g2 FloatGrid) FloatGrid {
	out := g1.NewFromThis()
	for i := range out.values {
		out.values[i] = g1.values[i] + g2.values[i]
	}
	return out
}

func (g1 FloatGrid)Sub(g2 FloatGrid) FloatGrid {
	out := g1.NewFromThis()
	for i := range out.values {
		out.values[i] = g1.values[i] - g2.values[i]
	}
	return out
}

func (g1 FloatGrid)Mul(g2 FloatGrid) FloatGrid {
	out := g1.NewFromThis()
	for i := range out.values {
		out.values[i] = g1.values[i] * g2.values[i]
	}
	return out
}

// GaussianBlur is a separable [1 2 1]/4 blur.
func (g1 FloatGrid)GaussianBlur() FloatGrid {
	width := g1.Dx()
	height := g1.Dy()
	if width < 2 || height < 2 {
		return *g1.Copy()
	}
	g2 := g1.NewFromThis()

	T  := g1.NewFromThis()

	//--- X blur, build up in T
	for y:=0; y<height; y++ {
		for x:=1; x<width-1; x++ {
			t := 2.0*g1.Get(x,y)
			t += g1.Get(x-1,y)
			t += g1.Get(x+1,y)
			T.Set(x, y, t/4.0)
		}
		T.Set(0, y,       (3.0*g1.Get(0,      y) + g1.Get(1,      y)) / 4.0)
		T.Set(width-1, y, (3.0*g1.Get(width-1,y) + g1.Get(width-2,y)) / 4.0)
	}

	//--- Y blur, read from T and generate output
	for x:=0; x<width; x++ {
		for y:=1; y<height-1; y++ {
			t := 2.0*T.Get(x,y)
			t += T.Get(x,y-1)
			t += T.Get(x,y+1)
			g2.Set(x, y, t/4.0)
		}
		g2.Set(x, 0,        (3.0*T.Get(x,       0) + T.Get(x,       1)) / 4.0)
		g2.Set(x, height-1, (3.0*T.Get(x,height-1) + T.Get(x,height-2)) / 4.0)
	}

	return g2
}

// DownSample returns a grid that is 1/4 of the size, averaging the values from the
// original.
func (g1 *FloatGrid)DownSample() FloatGrid {
	width := g1.Dx() / 2
	height := g1.Dy() / 2
	g2 := NewFloatGrid(width, height)

	for y:=0; y<height; y++ {
		for x:=0; x<width; x++ {
			p := g1.Get(2*x,   2*y)
			p += g1.Get(2*x+1, 2*y)
			p += g1.Get(2*x,   2*y+1)
			p += g1.Get(2*x+1, 2*y+1)
			g2.Set(x, y, p/4.0)
		}
	}

	return g2
}

// UpSampleInto populates a grid `B`, which is assumed be 2x as big,
// by simply copying each value from `A` four times into a 2x2 block
// of values in `B`
func (A *FloatGrid)UpSampleInto(B *FloatGrid) {
	awidth  := A.Dx()
	aheight := A.Dy()
	width   := B.Dx()
	height  := B.Dy()

	for y:=0; y<height; y++ {
		for x:=0; x<width; x++ {
			ax := x/2
			ay := y/2
			if ax >= awidth  { ax = awidth-1 }
			if ay >= aheight { ay = aheight-1 }
			B.Set(x, y, A.Get(ax, ay))
		}
	}
}

func (fg *FloatGrid)MinMax() (float64, float64) {
	min := math.MaxFloat64
	max := -1.0  * min

	for i:=0 ; i<len(fg.values) ; i++ {
		if fg.values[i] > max { max = fg.values[i] }
		if fg.values[i] < min { min = fg.values[i] }
	}
	return min, max
}

func (fg *FloatGrid)Stats() string {
	min, max := fg.MinMax()
	return fmt.Sprintf("fg[%dx%d, vals{%f,%f}]", fg.Dx(), fg.Dy(), min, max)
}

// ToImg saves a simple grayscale, based on the range of values in the grid, and gamma scaling the
// gray to look normal for human vision
func (fg *FloatGrid)ToImg(title, filename string) error {
	min, max := fg.MinMax()
	if max <= min {
		max = min + 1
	}

	img := image.NewRGBA64(image.Rectangle{Max:image.Point{fg.Dx(), fg.Dy()}})
	for x:=0; x<fg.Dx(); x++ {
		for y:=0; y<fg.Dy(); y++ {
			lum := fg.Get(x,y)
			gray := GammaExpand_F64 ((lum - min) / (max - min))
			col := color.RGBA64{uint16(gray * 65535.0), uint16(gray * 65535.0), uint16(gray * 65535.0), 0xFFFF}
			img.Set(x, y, col)
		}
	}

	dc := gg.NewContextForImage(img)
	dc.SetRGB(1,0,0)
	dc.DrawString(title, 10, 20)
	return dc.SavePNG(filename)
}
