package geosolver

import(
	"fmt"

	"github.com/fogleman/gg"

	"github.com/abworrall/panostitch/pkg/calib"
)

// PlotKeypoints draws the keypoints of a feature set onto a blank canvas of the image's
// size, which is enough to see whether detection found structure where expected.
func PlotKeypoints(fs calib.FeatureSet, filename string) error {
	w, h := fs.Size.X, fs.Size.Y
	if w <= 0 || h <= 0 {
		return fmt.Errorf("image %d has no size", fs.ImgIdx)
	}

	dc := gg.NewContext(w, h)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	dc.SetRGB(0.8, 0, 0)
	dc.SetLineWidth(1)
	for _, kp := range fs.Keypoints {
		dc.DrawCircle(kp.X, kp.Y, 3)
		dc.Stroke()
	}

	dc.SetRGB(0, 0, 0)
	dc.DrawString(fmt.Sprintf("image %d: %d keypoints", fs.ImgIdx, len(fs.Keypoints)), 10, 20)
	return dc.SavePNG(filename)
}
