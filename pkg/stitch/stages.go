// Package stitch turns synchronized frame-sets into mosaics: optional gamma, exposure
// and seam stages, then a blender, driven by a Pipeline.
package stitch

import(
	"image"

	"github.com/pkg/errors"

	"github.com/abworrall/panostitch/pkg/emath"
)

// Frame-sets travel through the stages as one RGBA image per camera, in bundle order,
// each already remapped into its camera's placement rectangle. Masks and top-left
// placement points line up with the frames by index.

// An ExposureCompensator learns per-camera gains from a frame-set, then applies them.
type ExposureCompensator interface {
	Init(frames []*image.RGBA, masks []*image.Gray, topLefts []image.Point) error
	Apply(frames []*image.RGBA) error
}

// A SeamFinder decides which camera owns each overlapping mosaic pixel.
type SeamFinder interface {
	Init(frames []*image.RGBA, masks []*image.Gray, topLefts []image.Point) error
	Masks() []*image.Gray
}

// A Blender composites a frame-set onto the mosaic canvas.
type Blender interface {
	Init(masks []*image.Gray, topLefts []image.Point, sizes []image.Point) error
	UpdateMasks(masks []*image.Gray)
	Blend(frames []*image.RGBA) (*image.RGBA, error)
}

func checkLens(what string, n int, lens ...int) error {
	for _, l := range lens {
		if l != n {
			return errors.Errorf("%s: have %d frames but %d masks/points", what, n, l)
		}
	}
	return nil
}

func checkDims(what string, i int, frame *image.RGBA, mask *image.Gray) error {
	if frame.Rect.Size() != mask.Rect.Size() {
		return errors.Errorf("%s: frame %d is %v but its mask is %v", what, i, frame.Rect.Size(), mask.Rect.Size())
	}
	return nil
}

// canvasRect is the union of the placement rectangles.
func canvasRect(topLefts, sizes []image.Point) image.Rectangle {
	rects := make([]image.Rectangle, len(topLefts))
	for i, tl := range topLefts {
		rects[i] = image.Rectangle{Min: tl, Max: tl.Add(sizes[i])}
	}
	return emath.UnionAll(rects)
}
