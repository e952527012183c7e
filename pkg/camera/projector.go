package camera

import(
	"image"
	"math"

	"github.com/pkg/errors"

	"github.com/abworrall/panostitch/pkg/emath"
)

// Projection is the surface the panorama is painted onto.
type Projection int

const(
	Cylindrical Projection = iota
	Spherical
)

func (p Projection)String() string {
	switch p {
	case Cylindrical: return "cylindrical"
	case Spherical:   return "spherical"
	default:          return "unknown"
	}
}

func ParseProjection(s string) (Projection, error) {
	switch s {
	case "cylindrical", "": return Cylindrical, nil
	case "spherical":       return Spherical, nil
	default:
		return 0, errors.Errorf("no projection named '%s'", s)
	}
}

// A Projector builds the warp table of a projected camera: for each destination pixel
// in `rect` (panorama coordinates), the address in the undistorted frame of size `dims`.
type Projector interface {
	BuildProjectionMaps(kind Projection, radius float64, rotation, extrinsic emath.Mat3, dims image.Point) (RemapTable, image.Rectangle, error)
}

// surfacePoint puts normalized coords (angle, height) onto the unit surface.
func surfacePoint(kind Projection, a, b float64) emath.Vec3 {
	if kind == Spherical {
		return emath.Vec3{math.Sin(a) * math.Cos(b), math.Sin(b), math.Cos(a) * math.Cos(b)}
	}
	return emath.Vec3{math.Sin(a), b, math.Cos(a)}
}

// SurfaceProjector wraps the undistorted frame around a virtual camera of focal `radius`
// centred on the frame; the extrinsic places the result in the panorama and the rotation
// turns the surface before it is projected back into the frame.
type SurfaceProjector struct{}

func (SurfaceProjector)BuildProjectionMaps(kind Projection, radius float64, rotation, extrinsic emath.Mat3, dims image.Point) (RemapTable, image.Rectangle, error) {
	if radius <= 0 {
		return RemapTable{}, image.Rectangle{}, errors.Errorf("projection radius must be positive, got %f", radius)
	}
	extInv, err := extrinsic.Inverse()
	if err != nil {
		return RemapTable{}, image.Rectangle{}, errors.Wrap(err, "extrinsic")
	}

	virtual := emath.Mat3{
		radius, 0, float64(dims.X)/2,
		0, radius, float64(dims.Y)/2,
		0, 0, 1,
	}
	virtualInv, _ := virtual.Inverse()
	toSource := virtual.Mult(rotation)

	rect := emath.ProjectCorners(extrinsic, dims)
	t := NewRemapTable(rect.Dx(), rect.Dy())

	parallelRows(rect.Dy(), func(y0, y1 int) {
		for y:=y0; y<y1; y++ {
			for x:=0; x<rect.Dx(); x++ {
				p := extInv.Apply(emath.Vec3{float64(rect.Min.X+x), float64(rect.Min.Y+y), 1})
				n := virtualInv.Apply(emath.Vec3{p[0]/p[2], p[1]/p[2], 1})
				s := toSource.Apply(surfacePoint(kind, n[0], n[1]))

				sx, sy := Invalid, Invalid
				if s[2] > 0 {
					sx, sy = s[0]/s[2], s[1]/s[2]
				}
				if sx < 0 || sx > float64(dims.X) { sx = Invalid }
				if sy < 0 || sy > float64(dims.Y) { sy = Invalid }
				t.X.Set(x, y, sx)
				t.Y.Set(x, y, sy)
			}
		}
	})

	return t, rect, nil
}

// WarpProjector is the rotation warper: the extrinsic acts as the camera matrix K, the
// rotation R takes camera rays into the panorama frame, and `radius` scales the surface.
// The rectangle is where the frame's border lands on the surface.
type WarpProjector struct{}

type warper struct {
	kind  Projection
	scale float64
	rKinv emath.Mat3 // R * K^-1, pixel -> world ray
	kRinv emath.Mat3 // K * R^-1, world ray -> pixel
}

func newWarper(kind Projection, scale float64, k, r emath.Mat3) (warper, error) {
	kInv, err := k.Inverse()
	if err != nil {
		return warper{}, errors.Wrap(err, "camera matrix")
	}
	return warper{
		kind:  kind,
		scale: scale,
		rKinv: r.Mult(kInv),
		kRinv: k.Mult(r.Transpose()),
	}, nil
}

func (w warper)forward(x, y float64) (float64, float64) {
	ray := w.rKinv.Apply(emath.Vec3{x, y, 1})
	u := w.scale * math.Atan2(ray[0], ray[2])
	if w.kind == Spherical {
		return u, w.scale * (math.Pi - math.Acos(ray[1]/ray.Norm()))
	}
	return u, w.scale * ray[1] / math.Hypot(ray[0], ray[2])
}

func (w warper)backward(u, v float64) (float64, float64, bool) {
	u /= w.scale
	v /= w.scale

	var ray emath.Vec3
	if w.kind == Spherical {
		sinv := math.Sin(math.Pi - v)
		ray = emath.Vec3{sinv * math.Sin(u), math.Cos(math.Pi - v), sinv * math.Cos(u)}
	} else {
		ray = emath.Vec3{math.Sin(u), v, math.Cos(u)}
	}

	p := w.kRinv.Apply(ray)
	if p[2] <= 0 {
		return Invalid, Invalid, false
	}
	return p[0]/p[2], p[1]/p[2], true
}

// roi walks the frame border through the forward map.
func (w warper)roi(dims image.Point) image.Rectangle {
	minU, minV := math.MaxFloat64, math.MaxFloat64
	maxU, maxV := -math.MaxFloat64, -math.MaxFloat64
	grow := func(x, y float64) {
		u, v := w.forward(x, y)
		minU, maxU = math.Min(minU, u), math.Max(maxU, u)
		minV, maxV = math.Min(minV, v), math.Max(maxV, v)
	}

	for x:=0; x<dims.X; x++ {
		grow(float64(x), 0)
		grow(float64(x), float64(dims.Y-1))
	}
	for y:=0; y<dims.Y; y++ {
		grow(0, float64(y))
		grow(float64(dims.X-1), float64(y))
	}

	if w.kind == Spherical {
		// A visible pole means the whole band of longitudes is in view.
		for _, pole := range []emath.Vec3{{0, -1, 0}, {0, 1, 0}} {
			p := w.kRinv.Apply(pole)
			if p[2] <= 0 {
				continue
			}
			if x, y := p[0]/p[2], p[1]/p[2]; x >= 0 && y >= 0 && x < float64(dims.X) && y < float64(dims.Y) {
				minU, maxU = -math.Pi*w.scale, math.Pi*w.scale
				if pole[1] < 0 {
					minV = 0
				} else {
					maxV = math.Pi * w.scale
				}
			}
		}
	}

	minU, minV, maxU, maxV = snap(minU), snap(minV), snap(maxU), snap(maxV)
	return image.Rect(
		int(math.Floor(minU)), int(math.Floor(minV)),
		int(math.Floor(maxU))+1, int(math.Floor(maxV))+1,
	)
}

// snapEps is how close to a whole pixel a bound must be to count as on it.
const snapEps = 1e-6

// snap pulls a bound onto the nearest whole pixel when it is only float noise away, so
// that cameras differing only in yaw get the same vertical extent.
func snap(v float64) float64 {
	if r := math.Round(v); math.Abs(v-r) < snapEps {
		return r
	}
	return v
}

func (WarpProjector)BuildProjectionMaps(kind Projection, radius float64, rotation, extrinsic emath.Mat3, dims image.Point) (RemapTable, image.Rectangle, error) {
	if radius <= 0 {
		return RemapTable{}, image.Rectangle{}, errors.Errorf("projection radius must be positive, got %f", radius)
	}
	w, err := newWarper(kind, radius, extrinsic, rotation)
	if err != nil {
		return RemapTable{}, image.Rectangle{}, err
	}

	rect := w.roi(dims)
	t := NewRemapTable(rect.Dx(), rect.Dy())

	parallelRows(rect.Dy(), func(y0, y1 int) {
		for y:=y0; y<y1; y++ {
			for x:=0; x<rect.Dx(); x++ {
				sx, sy, ok := w.backward(float64(rect.Min.X+x), float64(rect.Min.Y+y))
				if !ok || !inside(sx, sy, dims) {
					sx, sy = Invalid, Invalid
				}
				t.X.Set(x, y, sx)
				t.Y.Set(x, y, sy)
			}
		}
	})

	return t, rect, nil
}
