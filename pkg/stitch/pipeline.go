package stitch

import(
	"image"
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/abworrall/panostitch/pkg/stream"
)

var(
	ErrNotBootstrapped = errors.New("pipeline has not been initialised from a frame-set")
	ErrEmptyMosaic     = errors.New("blender produced an empty mosaic")
)

type State int

const(
	Unbuilt State = iota
	Bootstrapped
	Streaming
	Exhausted
)

func (s State)String() string {
	return [...]string{"Unbuilt", "Bootstrapped", "Streaming", "Exhausted"}[s]
}

// PipelineConfig lists the stages. Only the Blender is required; a nil stage is skipped.
// Frames go through gamma, the equalizer, exposure and seams, then the blender.
type PipelineConfig struct {
	Blender   Blender
	Gamma     *GammaCorrector
	Equalizer *HistogramEqualizer  // optional, off by default; runs between gamma and exposure
	Exposure  ExposureCompensator
	Seams     SeamFinder
}

// A Pipeline pulls frame-sets from a bundle and turns each one into a mosaic.
type Pipeline struct {
	PipelineConfig

	bundle  *stream.Bundle
	state   State
	session string
	cycles  int

	log *zap.SugaredLogger
}

// New checks the config and lays out the blender's canvas from the bundle. The bundle
// does not need to be connected yet.
func New(bundle *stream.Bundle, cfg PipelineConfig, log *zap.SugaredLogger) (*Pipeline, error) {
	if bundle == nil || bundle.Len() == 0 {
		return nil, errors.New("pipeline needs a bundle with at least one stream")
	}
	if cfg.Blender == nil {
		return nil, errors.New("pipeline needs a blender")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	session := uuid.NewString()
	log = log.With("session", session)

	if err := cfg.Blender.Init(bundle.Masks(), bundle.TopLefts(), bundle.Sizes()); err != nil {
		return nil, errors.Wrap(err, "blender init")
	}
	log.Infof("pipeline over cameras %v: gamma=%v equalize=%v exposure=%v seams=%v",
		bundle.Names(), cfg.Gamma != nil, cfg.Equalizer != nil, cfg.Exposure != nil, cfg.Seams != nil)

	return &Pipeline{
		PipelineConfig: cfg,
		bundle:         bundle,
		session:        session,
		log:            log,
	}, nil
}

func (p *Pipeline)State() State     { return p.state }
func (p *Pipeline)Session() string  { return p.session }
func (p *Pipeline)Cycles() int      { return p.cycles }

// readSet returns nil if any camera came back empty.
func (p *Pipeline)readSet() []*image.RGBA {
	frames := p.bundle.Read()
	for i, f := range frames {
		if f == nil {
			p.log.Debugf("camera %d (%s) has no frame", i, p.bundle.Names()[i])
			return nil
		}
	}
	return frames
}

// InitFromCurrentStream learns the exposure gains and seams from the next frame-set,
// then rewinds the bundle so that frame-set is stitched again by the first Read. Seam
// masks do not exist yet, so gamma is limited by the cameras' own masks here.
func (p *Pipeline)InitFromCurrentStream() error {
	frames := p.readSet()
	p.bundle.Reset()
	if frames == nil {
		return errors.Wrap(io.EOF, "bootstrap frame-set")
	}
	masks, topLefts := p.bundle.Masks(), p.bundle.TopLefts()

	if p.Gamma != nil {
		if err := p.Gamma.Apply(frames, masks); err != nil {
			return err
		}
	}
	if p.Equalizer != nil {
		if err := p.Equalizer.Apply(frames, masks); err != nil {
			return err
		}
	}
	if p.Exposure != nil {
		if err := p.Exposure.Init(frames, masks, topLefts); err != nil {
			return errors.Wrap(err, "exposure init")
		}
		if err := p.Exposure.Apply(frames); err != nil {
			return errors.Wrap(err, "exposure apply")
		}
	}
	if p.Seams != nil {
		if err := p.Seams.Init(frames, masks, topLefts); err != nil {
			return errors.Wrap(err, "seam init")
		}
	}

	p.state = Bootstrapped
	p.log.Infof("bootstrapped from %d frames", len(frames))
	return nil
}

// currentMasks are the seam masks if there is a seam finder, else the cameras' masks.
func (p *Pipeline)currentMasks() []*image.Gray {
	if p.Seams != nil {
		return p.Seams.Masks()
	}
	return p.bundle.Masks()
}

// Read stitches the next frame-set. It returns io.EOF once any camera runs out.
func (p *Pipeline)Read(updateExposure, updateSeams bool) (*image.RGBA, error) {
	switch p.state {
	case Unbuilt:
		return nil, ErrNotBootstrapped
	case Exhausted:
		return nil, io.EOF
	}

	frames := p.readSet()
	if frames == nil {
		p.state = Exhausted
		p.log.Infof("end of stream after %d mosaics", p.cycles)
		return nil, io.EOF
	}
	topLefts := p.bundle.TopLefts()

	if p.Gamma != nil {
		if err := p.Gamma.Apply(frames, p.currentMasks()); err != nil {
			return nil, err
		}
	}
	if p.Equalizer != nil {
		if err := p.Equalizer.Apply(frames, p.currentMasks()); err != nil {
			return nil, err
		}
	}
	if p.Exposure != nil {
		if updateExposure {
			if err := p.Exposure.Init(frames, p.bundle.Masks(), topLefts); err != nil {
				return nil, errors.Wrap(err, "exposure init")
			}
		}
		if err := p.Exposure.Apply(frames); err != nil {
			return nil, errors.Wrap(err, "exposure apply")
		}
	}
	if p.Seams != nil {
		if updateSeams {
			if err := p.Seams.Init(frames, p.bundle.Masks(), topLefts); err != nil {
				return nil, errors.Wrap(err, "seam init")
			}
		}
		p.Blender.UpdateMasks(p.Seams.Masks())
	}

	mosaic, err := p.Blender.Blend(frames)
	if err != nil {
		return nil, errors.Wrap(err, "blend")
	}
	if mosaic == nil || mosaic.Rect.Empty() {
		return nil, ErrEmptyMosaic
	}

	p.state = Streaming
	p.cycles++
	p.log.Debugf("mosaic %d is %v", p.cycles, mosaic.Rect.Size())
	return mosaic, nil
}
