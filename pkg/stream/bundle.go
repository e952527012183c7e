package stream

import(
	"image"
	"time"

	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type cacheState int

const(
	uninitialized cacheState = iota
	cached
)

// The spatial layout of each stream: mask, placement rectangle and size. It only
// depends on the camera models, so it is computed once per Bundle.
type layout struct {
	masks   []*image.Gray
	corners []image.Rectangle
	sizes   []image.Point
}

// A Bundle treats N camera streams as one source of synchronized frame-sets. The
// stream order is the camera order for the whole system.
type Bundle struct {
	streams []*CameraStream
	status  Status

	state  cacheState
	layout layout

	MaxSkew time.Duration // warn when a frame-set's capture times spread wider than this; 0 disables

	log *zap.SugaredLogger
}

func NewBundle(streams []*CameraStream, log *zap.SugaredLogger) *Bundle {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Bundle{
		streams: streams,
		MaxSkew: 100 * time.Millisecond,
		log:     log,
	}
}

func (b *Bundle)Len() int                  { return len(b.streams) }
func (b *Bundle)Status() Status            { return b.status }
func (b *Bundle)Streams() []*CameraStream  { return b.streams }
func (b *Bundle)Names() []string {
	return lo.Map(b.streams, func(s *CameraStream, _ int) string { return s.Name() })
}

// Connect connects every stream in order. The first failure disconnects everything
// again and leaves the bundle Failed.
func (b *Bundle)Connect() error {
	for _, s := range b.streams {
		if err := s.Connect(); err != nil {
			b.log.Errorf("bundle connect: %v; disconnecting all streams", err)
			if derr := b.disconnectAll(); derr != nil {
				b.log.Warnf("rollback: %v", derr)
			}
			b.status = Failed
			return err
		}
	}
	b.status = Connected
	b.log.Infof("connected %d streams", len(b.streams))
	return nil
}

// Disconnect disconnects every stream; if any of them fail, so does the bundle.
func (b *Bundle)Disconnect() error {
	if err := b.disconnectAll(); err != nil {
		b.status = Failed
		return err
	}
	b.status = Disconnected
	return nil
}

func (b *Bundle)disconnectAll() error {
	var errs error
	for _, s := range b.streams {
		errs = multierr.Append(errs, s.Disconnect())
	}
	return errs
}

// Read returns one frame per stream, in stream order. If the bundle or any of its
// streams is not connected, every entry is nil; callers must check.
func (b *Bundle)Read() []*image.RGBA {
	frames := make([]*image.RGBA, len(b.streams))

	if b.status != Connected {
		b.log.Warnf("read from a %s bundle", b.status)
		return frames
	}
	for _, s := range b.streams {
		if s.Status() != Connected {
			b.log.Warnf("read with stream '%s' %s", s.Name(), s.Status())
			return frames
		}
	}

	for i, s := range b.streams {
		frames[i] = s.Read()
	}
	b.checkSkew()
	return frames
}

func (b *Bundle)checkSkew() {
	if b.MaxSkew <= 0 {
		return
	}
	var first, last time.Time
	for i, s := range b.streams {
		tm, ok := s.Timestamp()
		if !ok {
			return
		}
		if i == 0 || tm.Before(first) { first = tm }
		if i == 0 || tm.After(last)   { last = tm }
	}
	if skew := last.Sub(first); skew > b.MaxSkew {
		b.log.Warnf("frame-set capture times spread over %s", skew)
	}
}

// Reset rewinds every stream without disconnecting.
func (b *Bundle)Reset() {
	for _, s := range b.streams {
		s.Reset()
	}
}

// spatial is the only place the layout cache is filled.
func (b *Bundle)spatial() layout {
	if b.state == cached {
		return b.layout
	}
	l := layout{}
	for _, s := range b.streams {
		m := s.Model()
		l.masks = append(l.masks, m.Mask())
		l.corners = append(l.corners, m.Corners())
		l.sizes = append(l.sizes, m.Corners().Size())
	}
	b.layout, b.state = l, cached
	return l
}

func (b *Bundle)Masks() []*image.Gray         { return b.spatial().masks }
func (b *Bundle)Corners() []image.Rectangle   { return b.spatial().corners }
func (b *Bundle)Sizes() []image.Point         { return b.spatial().sizes }

// TopLefts are the placement points handed to the blender.
func (b *Bundle)TopLefts() []image.Point {
	return lo.Map(b.Corners(), func(r image.Rectangle, _ int) image.Point { return r.Min })
}
