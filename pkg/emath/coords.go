package emath

// Homogeneous coordinates, and the bounding boxes of point sets.

import(
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

func HomogeneousToCartesian(p r3.Vector) r2.Point {
	return r2.Point{X: p.X / p.Z, Y: p.Y / p.Z}
}

// CartesianToHomogeneous lifts p into the plane z=scale.
func CartesianToHomogeneous(p r2.Point, scale float64) r3.Vector {
	return r3.Vector{X: p.X * scale, Y: p.Y * scale, Z: scale}
}

func HomogeneousPointsToCartesian(pts []r3.Vector) []r2.Point {
	out := make([]r2.Point, len(pts))
	for i, p := range pts {
		out[i] = HomogeneousToCartesian(p)
	}
	return out
}

func (m Mat3)ApplyR3(p r3.Vector) r3.Vector {
	v := m.Apply(Vec3{p.X, p.Y, p.Z})
	return r3.Vector{X: v[0], Y: v[1], Z: v[2]}
}

// ToBBox returns the axis-aligned box containing all the points; the min edge is
// floored and the max edge ceiled, so the box never clips a point.
func ToBBox(pts []r2.Point) image.Rectangle {
	if len(pts) == 0 {
		return image.Rectangle{}
	}
	r := r2.RectFromPoints(pts...)
	return image.Rect(
		int(math.Floor(r.X.Lo)), int(math.Floor(r.Y.Lo)),
		int(math.Ceil(r.X.Hi)), int(math.Ceil(r.Y.Hi)),
	)
}

func ToBBoxHomogeneous(pts []r3.Vector) image.Rectangle {
	return ToBBox(HomogeneousPointsToCartesian(pts))
}

// FrameCorners are the four corners of a w*h frame, as homogeneous points, in the order
// (0,0), (0,h), (w,h), (w,0).
func FrameCorners(dims image.Point) []r3.Vector {
	w, h := float64(dims.X), float64(dims.Y)
	return []r3.Vector{
		{X: 0, Y: 0, Z: 1},
		{X: 0, Y: h, Z: 1},
		{X: w, Y: h, Z: 1},
		{X: w, Y: 0, Z: 1},
	}
}

// ProjectCorners pushes the frame corners through m and boxes the result.
func ProjectCorners(m Mat3, dims image.Point) image.Rectangle {
	corners := FrameCorners(dims)
	for i := range corners {
		corners[i] = m.ApplyR3(corners[i])
	}
	return ToBBoxHomogeneous(corners)
}

// UnionAll is the smallest rectangle holding every rect; the result roi of a mosaic.
func UnionAll(rects []image.Rectangle) image.Rectangle {
	out := image.Rectangle{}
	for i, r := range rects {
		if i == 0 {
			out = r
		} else {
			out = out.Union(r)
		}
	}
	return out
}
