package stitch

import(
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/mdouchement/hdr/codec/rgbe"
	"github.com/mdouchement/hdr/hdrcolor"
	"github.com/pkg/errors"
	"golang.org/x/image/tiff"

	"github.com/abworrall/panostitch/pkg/emath"
)

// Mosaic presents a stitched frame-set as a linear-light HDR image, for Radiance output.
type Mosaic struct {
	*image.RGBA
}

// Implement hdr.Image
func (m Mosaic)ColorModel() color.Model { return hdrcolor.RGBModel }
func (m Mosaic)At(x, y int) color.Color { return m.HDRAt(x, y) }
func (m Mosaic)Size() int               { return m.Rect.Dx() * m.Rect.Dy() }

func (m Mosaic)HDRAt(x, y int) hdrcolor.Color {
	c := m.RGBAAt(x, y)
	return hdrcolor.RGB{
		R: emath.GammaLinearize_F64(float64(c.R) / 255.0),
		G: emath.GammaLinearize_F64(float64(c.G) / 255.0),
		B: emath.GammaLinearize_F64(float64(c.B) / 255.0),
	}
}

// MosaicFilename is mosaic_<n>.<format>, in dir.
func MosaicFilename(dir string, n int, format string) string {
	return filepath.Join(dir, fmt.Sprintf("mosaic_%d.%s", n, format))
}

// WriteMosaic picks an encoder from the file extension.
func WriteMosaic(img *image.RGBA, filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".png", ".jpg", ".jpeg":
		if err := imaging.Save(img, filename); err != nil {
			return errors.Wrapf(err, "write %s", filename)
		}
		return nil
	case ".tif", ".tiff", ".hdr":
	default:
		return errors.Errorf("no mosaic encoder for '%s'", ext)
	}

	writer, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "open+w %s", filename)
	}
	defer writer.Close()

	if ext == ".hdr" {
		err = rgbe.Encode(writer, Mosaic{img})
	} else {
		err = tiff.Encode(writer, img, &tiff.Options{Compression: tiff.Deflate})
	}
	return errors.Wrapf(err, "encode %s", filename)
}
