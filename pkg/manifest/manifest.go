// Package manifest reads and writes the JSON files that describe cameras and datasets,
// and builds calibration inputs and camera streams from them.
package manifest

import(
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/abworrall/panostitch/pkg/calib"
	"github.com/abworrall/panostitch/pkg/camera"
	"github.com/abworrall/panostitch/pkg/emath"
	"github.com/abworrall/panostitch/pkg/stream"
)

// CameraEntry is one camera in a calibration manifest. An intrinsic manifest only has
// the first three fields; a calibration result has them all.
type CameraEntry struct {
	Intrinsic  []float64 `json:"intrinsic"`
	DistCoeffs []float64 `json:"dist_coeffs"`
	Dims       [2]int    `json:"dims"`
	Extrinsic  []float64 `json:"extrinsic,omitempty"`
	Rotation   []float64 `json:"rotation,omitempty"`
	Focal      float64   `json:"focal,omitempty"`
}

type Calibration struct {
	Cameras map[string]CameraEntry `json:"cameras"`
}

// Dataset maps camera names to their image files, in order.
type Dataset map[string][]string

func readJSON(filename string, v interface{}) error {
	contents, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrapf(err, "read %s", filename)
	}
	if err := json.Unmarshal(contents, v); err != nil {
		return errors.Wrapf(err, "parse %s", filename)
	}
	return nil
}

func LoadCalibration(filename string) (Calibration, error) {
	c := Calibration{}
	if err := readJSON(filename, &c); err != nil {
		return c, err
	}
	if len(c.Cameras) == 0 {
		return c, errors.Errorf("%s: no cameras", filename)
	}
	return c, nil
}

func (c Calibration)Save(filename string) error {
	b, err := json.MarshalIndent(c, "", "    ")
	if err != nil {
		return errors.Wrap(err, "marshal calibration")
	}
	if err := os.WriteFile(filename, append(b, '\n'), 0644); err != nil {
		return errors.Wrapf(err, "write %s", filename)
	}
	return nil
}

// Names are the camera names in sorted order, which is the camera order everywhere else.
func (c Calibration)Names() []string {
	names := lo.Keys(c.Cameras)
	sort.Strings(names)
	return names
}

func (e CameraEntry)BuildIntrinsic(name string) (*camera.Intrinsic, error) {
	base, err := camera.NewBase(name, image.Point{e.Dims[0], e.Dims[1]})
	if err != nil {
		return nil, err
	}
	k, err := emath.Mat3FromSlice(e.Intrinsic)
	if err != nil {
		return nil, errors.Wrapf(err, "camera '%s' intrinsic", name)
	}
	return camera.NewIntrinsic(base, k, e.DistCoeffs)
}

// BuildRotation needs the fields a calibration result adds.
func (e CameraEntry)BuildRotation(name string) (*camera.Rotation, error) {
	if e.Extrinsic == nil || e.Rotation == nil || e.Focal == 0 {
		return nil, errors.Errorf("camera '%s' has not been calibrated", name)
	}
	in, err := e.BuildIntrinsic(name)
	if err != nil {
		return nil, err
	}
	ext, err := emath.Mat3FromSlice(e.Extrinsic)
	if err != nil {
		return nil, errors.Wrapf(err, "camera '%s' extrinsic", name)
	}
	r, err := emath.Mat3FromSlice(e.Rotation)
	if err != nil {
		return nil, errors.Wrapf(err, "camera '%s' rotation", name)
	}
	cam, err := camera.NewExtrinsic(in, ext)
	if err != nil {
		return nil, err
	}
	return camera.NewRotation(cam, r, e.Focal)
}

// FromResult writes out every calibrated camera under its own name.
func FromResult(res calib.Result) Calibration {
	c := Calibration{Cameras: map[string]CameraEntry{}}
	for _, cc := range res.Cameras {
		dims := cc.Camera.Dims()
		c.Cameras[cc.Camera.Name()] = CameraEntry{
			Intrinsic:  cc.Camera.IntrinsicMatrix().Slice(),
			DistCoeffs: cc.Camera.DistCoeffs(),
			Dims:       [2]int{dims.X, dims.Y},
			Extrinsic:  cc.Extrinsic.Slice(),
			Rotation:   cc.Rotation.Slice(),
			Focal:      cc.Focal,
		}
	}
	return c
}

// LoadDataset reads a dataset manifest. Image paths that do not exist as given are
// looked for next to the manifest.
func LoadDataset(filename string) (Dataset, error) {
	ds := Dataset{}
	if err := readJSON(filename, &ds); err != nil {
		return ds, err
	}
	dir := filepath.Dir(filename)
	for name, paths := range ds {
		for i, p := range paths {
			resolved, err := resolve(p, dir)
			if err != nil {
				return ds, errors.Wrapf(err, "dataset camera '%s'", name)
			}
			paths[i] = resolved
		}
	}
	return ds, nil
}

func resolve(path, dir string) (string, error) {
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	joined := filepath.Join(dir, path)
	if _, err := os.Stat(joined); err != nil {
		return "", errors.Errorf("image '%s' does not exist", joined)
	}
	return joined, nil
}

// UniqueNames suffixes repeated names with _1, _2, ... in order of appearance.
func UniqueNames(names []string) []string {
	seen := map[string]bool{}
	out := make([]string, len(names))
	for i, name := range names {
		unique := name
		for n:=1; seen[unique]; n++ {
			unique = fmt.Sprintf("%s_%d", name, n)
		}
		seen[unique] = true
		out[i] = unique
	}
	return out
}

// present lists the cameras that have images in the dataset, warning about the rest.
func present(c Calibration, ds Dataset, log *zap.SugaredLogger) []string {
	return lo.Filter(c.Names(), func(name string, _ int) bool {
		if _, ok := ds[name]; !ok {
			log.Warnf("camera '%s' is not in the dataset, skipping it", name)
			return false
		}
		return true
	})
}

// CalibrationImages makes one calibration camera per dataset image, each one named
// uniquely, and loads the image through the camera's lens correction.
func CalibrationImages(c Calibration, ds Dataset, log *zap.SugaredLogger) ([]calib.Image, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	type pending struct {
		name string
		path string
	}
	var todo []pending
	for _, name := range present(c, ds, log) {
		for _, p := range ds[name] {
			todo = append(todo, pending{name, p})
		}
		log.Infof("camera '%s' registered with %d images", name, len(ds[name]))
	}
	if len(todo) < 2 {
		return nil, errors.Errorf("need at least two calibration images, have %d", len(todo))
	}
	unique := UniqueNames(lo.Map(todo, func(p pending, _ int) string { return p.name }))

	images := make([]calib.Image, len(todo))
	for i, p := range todo {
		cam, err := c.Cameras[p.name].BuildIntrinsic(unique[i])
		if err != nil {
			return nil, err
		}
		raw, err := (&stream.FileSequence{Paths: []string{p.path}}).ReadAt(0)
		if err != nil {
			return nil, err
		}
		images[i] = calib.Image{Camera: cam, Image: cam.Remap(raw)}
	}
	return images, nil
}

// Streams builds a projected camera and a file-replay stream for every calibrated
// camera in the dataset, in name order.
func Streams(c Calibration, ds Dataset, kind camera.Projection, p camera.Projector, log *zap.SugaredLogger) ([]*stream.CameraStream, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	var streams []*stream.CameraStream
	for _, name := range present(c, ds, log) {
		rot, err := c.Cameras[name].BuildRotation(name)
		if err != nil {
			return nil, err
		}
		cam, err := camera.NewProjected(rot, kind, p)
		if err != nil {
			return nil, err
		}
		log.Infof("camera '%s' registered: %s at %v", name, kind, cam.Corners())
		seq := &stream.FileSequence{Paths: ds[name]}
		streams = append(streams, stream.NewCameraStream(cam, seq, log.With("camera", name)))
	}
	if len(streams) < 2 {
		return nil, errors.Errorf("need at least two cameras to stitch, have %d", len(streams))
	}
	return streams, nil
}
