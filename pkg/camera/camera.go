package camera

// The camera model is a chain of stages, each built from the one before it:
//
//   Base -> Intrinsic -> Extrinsic -> Rotation -> Projected
//
// Every stage is immutable once built; it owns the remap table that takes a raw frame to
// its output image, the visibility mask, and the placement rectangle of that output in
// the panorama. Changing a parameter means building a new stage.

import(
	"fmt"
	"image"

	"github.com/pkg/errors"

	"github.com/abworrall/panostitch/pkg/emath"
)

// ErrMissingStage is returned when a stage is built on top of nothing.
var ErrMissingStage = errors.New("camera is missing a prerequisite stage")

type Stage int

const(
	StageBase Stage = iota
	StageIntrinsic
	StageExtrinsic
	StageRotation
	StageProjected
)

func (s Stage)String() string {
	return [...]string{"base", "intrinsic", "extrinsic", "rotation", "projected"}[s]
}

// Model is what the streams need from a camera, whatever stage it is at.
type Model interface {
	Name() string
	Dims() image.Point          // raw sensor frame size
	Stage() Stage
	Remap(frame image.Image) *image.RGBA
	Mask() *image.Gray
	Corners() image.Rectangle   // placement in panorama coordinates
}

type Base struct {
	name string
	dims image.Point
}

func NewBase(name string, dims image.Point) (*Base, error) {
	if dims.X <= 0 || dims.Y <= 0 {
		return nil, errors.Errorf("camera '%s': bad dims %v", name, dims)
	}
	return &Base{name: name, dims: dims}, nil
}

func (b *Base)Name() string                        { return b.name }
func (b *Base)Dims() image.Point                   { return b.dims }
func (b *Base)Stage() Stage                        { return StageBase }
func (b *Base)Remap(frame image.Image) *image.RGBA { return ToRGBA(frame) }
func (b *Base)Mask() *image.Gray                   { return WhiteMask(b.dims) }
func (b *Base)Corners() image.Rectangle            { return image.Rectangle{Max: b.dims} }

func (b *Base)String() string {
	return fmt.Sprintf("Camera[%s %dx%d]", b.name, b.dims.X, b.dims.Y)
}

// Intrinsic adds the lens: remapping gives a pinhole-equivalent image, same size.
type Intrinsic struct {
	*Base
	k    emath.Mat3
	dist []float64

	maps RemapTable
	mask *image.Gray
}

func NewIntrinsic(base *Base, k emath.Mat3, dist []float64) (*Intrinsic, error) {
	if base == nil {
		return nil, errors.Wrap(ErrMissingStage, "intrinsic needs a base camera")
	}
	maps, err := BuildUndistortMaps(k, dist, base.dims)
	if err != nil {
		return nil, errors.Wrapf(err, "camera '%s'", base.name)
	}
	return &Intrinsic{
		Base: base,
		k:    k,
		dist: append([]float64{}, dist...),
		maps: maps,
		mask: maps.Mask(base.dims),
	}, nil
}

func (c *Intrinsic)Stage() Stage                        { return StageIntrinsic }
func (c *Intrinsic)IntrinsicMatrix() emath.Mat3         { return c.k }
func (c *Intrinsic)DistCoeffs() []float64               { return append([]float64{}, c.dist...) }
func (c *Intrinsic)Maps() RemapTable                    { return c.maps }
func (c *Intrinsic)Remap(frame image.Image) *image.RGBA { return c.maps.Apply(frame) }
func (c *Intrinsic)Mask() *image.Gray                   { return c.mask }

// Focal is fx, normalized by k[2][2].
func (c *Intrinsic)Focal() float64 { return c.k.At(0,0) / c.k.At(2,2) }

// Extrinsic places the undistorted image in the panorama plane.
type Extrinsic struct {
	*Intrinsic
	e emath.Mat3
}

func NewExtrinsic(in *Intrinsic, e emath.Mat3) (*Extrinsic, error) {
	if in == nil {
		return nil, errors.Wrap(ErrMissingStage, "extrinsic needs an intrinsic camera")
	}
	if _, err := e.Inverse(); err != nil {
		return nil, errors.Wrapf(err, "camera '%s' extrinsic", in.name)
	}
	return &Extrinsic{Intrinsic: in, e: e}, nil
}

func (c *Extrinsic)Stage() Stage                 { return StageExtrinsic }
func (c *Extrinsic)ExtrinsicMatrix() emath.Mat3 { return c.e }
func (c *Extrinsic)Corners() image.Rectangle     { return emath.ProjectCorners(c.e, c.dims) }

// Rotation carries the calibrated rotation and the shared focal, used as the radius of
// the projection surface.
type Rotation struct {
	*Extrinsic
	r      emath.Mat3
	radius float64
}

func NewRotation(ext *Extrinsic, r emath.Mat3, radius float64) (*Rotation, error) {
	if ext == nil {
		return nil, errors.Wrap(ErrMissingStage, "rotation needs an extrinsic camera")
	}
	if radius <= 0 {
		return nil, errors.Errorf("camera '%s': radius must be positive, got %f", ext.name, radius)
	}
	return &Rotation{Extrinsic: ext, r: r, radius: radius}, nil
}

func (c *Rotation)Stage() Stage               { return StageRotation }
func (c *Rotation)RotationMatrix() emath.Mat3 { return c.r }
func (c *Rotation)Radius() float64            { return c.radius }

// Projected is the end of the chain: frames are undistorted, placed and warped onto
// the projection surface in a single remap.
type Projected struct {
	*Rotation
	kind Projection

	warp RemapTable
	maps RemapTable // undistortion composed with warp
	mask *image.Gray
	rect image.Rectangle
}

func NewProjected(rot *Rotation, kind Projection, p Projector) (*Projected, error) {
	if rot == nil {
		return nil, errors.Wrap(ErrMissingStage, "projection needs a rotation camera")
	}
	if p == nil {
		p = WarpProjector{}
	}

	warp, rect, err := p.BuildProjectionMaps(kind, rot.radius, rot.r, rot.e, rot.dims)
	if err != nil {
		return nil, errors.Wrapf(err, "camera '%s' %s projection", rot.name, kind)
	}
	if rect.Empty() {
		return nil, errors.Errorf("camera '%s' %s projection is empty", rot.name, kind)
	}

	maps := rot.Intrinsic.maps.Compose(warp)
	return &Projected{
		Rotation: rot,
		kind:     kind,
		warp:     warp,
		maps:     maps,
		mask:     maps.Mask(rot.dims),
		rect:     rect,
	}, nil
}

func (c *Projected)Stage() Stage                        { return StageProjected }
func (c *Projected)Projection() Projection              { return c.kind }
func (c *Projected)WarpMaps() RemapTable                { return c.warp }
func (c *Projected)Maps() RemapTable                    { return c.maps }
func (c *Projected)Remap(frame image.Image) *image.RGBA { return c.maps.Apply(frame) }
func (c *Projected)Mask() *image.Gray                   { return c.mask }
func (c *Projected)Corners() image.Rectangle            { return c.rect }
