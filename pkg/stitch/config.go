package stitch

import(
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/abworrall/panostitch/pkg/camera"
)

/* Example config file ...

gamma: true
gammaalpha: 1.8
gammabeta: 10
blendstrength: 5
scalefactor: 0.5
exposure: channels_blocks
seams: dpcolor
blender: multiband
projection: cylindrical
equalize: false
updateexposure: false
updateseams: true
format: png

*/

type Config struct {
	Verbosity      int

	Gamma          bool
	GammaAlpha     float64
	GammaBeta      float64
	BlendStrength  float64
	ScaleFactor    float64  // seam-finding downscale, (0,1]
	Exposure       string   // none|gain|channels|gain_blocks|channels_blocks
	Seams          string   // none|voronoi|dpcolor
	Blender        string   // feather|multiband
	Projection     string   // cylindrical|spherical
	Equalize       bool

	UpdateExposure bool     // re-learn gains every frame-set
	UpdateSeams    bool     // re-find seams every frame-set

	Format         string   // png|tif|hdr
	DebugDir       string   // if set with Verbosity > 0, blend weight maps are dumped here
}

func NewConfig() Config {
	return Config{
		Gamma:         true,
		GammaAlpha:    1.8,
		GammaBeta:     10,
		BlendStrength: 5,
		ScaleFactor:   1.0,
		Exposure:      "channels_blocks",
		Seams:         "dpcolor",
		Blender:       "feather",
		Projection:    "cylindrical",
		Format:        "png",
	}
}

// LoadConfig reads a YAML file over the defaults.
func LoadConfig(filename string) (Config, error) {
	c := NewConfig()
	if contents, err := os.ReadFile(filename); err != nil {
		return c, errors.Wrapf(err, "read %s", filename)
	} else if err := yaml.Unmarshal(contents, &c); err != nil {
		return c, errors.Wrapf(err, "parse %s", filename)
	}
	return c, c.Validate()
}

func (c Config)AsYaml() string {
	b, err := yaml.Marshal(c)
	if err != nil {
		return "# " + err.Error()
	}
	return string(b)
}

// Validate checks the numbers and that every strategy name is known.
func (c Config)Validate() error {
	if c.ScaleFactor <= 0 || c.ScaleFactor > 1 {
		return errors.Errorf("scale factor %.3f outside (0,1]", c.ScaleFactor)
	}
	if c.BlendStrength <= 0 {
		return errors.Errorf("blend strength %.2f must be positive", c.BlendStrength)
	}
	if c.Gamma {
		if _, err := NewGammaCorrector(c.GammaAlpha, c.GammaBeta, nil); err != nil {
			return err
		}
	}
	if _, err := c.GetExposure(nil); err != nil {
		return err
	}
	if _, err := c.GetSeamFinder(nil); err != nil {
		return err
	}
	if _, err := c.GetBlender(nil); err != nil {
		return err
	}
	if _, err := camera.ParseProjection(c.Projection); err != nil {
		return err
	}
	switch c.Format {
	case "png", "tif", "hdr":
	default:
		return errors.Errorf("no output format named '%s'", c.Format)
	}
	return nil
}

func (c Config)GetGamma(log *zap.SugaredLogger) (*GammaCorrector, error) {
	if !c.Gamma {
		return nil, nil
	}
	return NewGammaCorrector(c.GammaAlpha, c.GammaBeta, log)
}

// GetExposure returns nil for "none".
func (c Config)GetExposure(log *zap.SugaredLogger) (ExposureCompensator, error) {
	switch c.Exposure {
	case "none", "":        return nil, nil
	case "gain":            return NewGainCompensator(false, 0, log), nil
	case "channels":        return NewGainCompensator(true, 0, log), nil
	case "gain_blocks":     return NewGainCompensator(false, 32, log), nil
	case "channels_blocks": return NewGainCompensator(true, 32, log), nil
	default:
		return nil, errors.Errorf("no exposure compensator named '%s'", c.Exposure)
	}
}

// GetSeamFinder returns nil for "none", so gamma falls back to the cameras' masks.
func (c Config)GetSeamFinder(log *zap.SugaredLogger) (SeamFinder, error) {
	switch c.Seams {
	case "none", "":
		return nil, nil
	case "voronoi":
		return NewVoronoiSeamFinder(c.ScaleFactor, log)
	case "dpcolor":
		return NewDpColorSeamFinder(c.ScaleFactor, log)
	default:
		return nil, errors.Errorf("no seam finder named '%s'", c.Seams)
	}
}

func (c Config)GetBlender(log *zap.SugaredLogger) (Blender, error) {
	switch c.Blender {
	case "feather":
		fb, err := NewFeatherBlender(c.BlendStrength, log)
		if err == nil && c.Verbosity > 0 {
			fb.DebugDir = c.DebugDir
		}
		return fb, err
	case "multiband": return NewMultiBandBlender(c.BlendStrength, log)
	default:
		return nil, errors.Errorf("no blender named '%s'", c.Blender)
	}
}

func (c Config)GetEqualizer(log *zap.SugaredLogger) *HistogramEqualizer {
	if !c.Equalize {
		return nil
	}
	return NewHistogramEqualizer(4, log)
}

// PipelineConfig builds every stage the config names.
func (c Config)PipelineConfig(log *zap.SugaredLogger) (PipelineConfig, error) {
	pc := PipelineConfig{Equalizer: c.GetEqualizer(log)}
	var err error
	if pc.Gamma, err = c.GetGamma(log); err != nil {
		return pc, err
	}
	if pc.Exposure, err = c.GetExposure(log); err != nil {
		return pc, err
	}
	if pc.Seams, err = c.GetSeamFinder(log); err != nil {
		return pc, err
	}
	if pc.Blender, err = c.GetBlender(log); err != nil {
		return pc, err
	}
	return pc, nil
}
