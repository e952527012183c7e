package stream

import(
	"fmt"
	"image"
	"io"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/abworrall/panostitch/pkg/camera"
)

type Status int

const(
	Disconnected Status = iota
	Connected
	Failed
	Finished  // the sequence is exhausted
)

func (s Status)String() string {
	return [...]string{"disconnected", "connected", "failed", "finished"}[s]
}

// A CameraStream reads raw frames from a Source and hands them out already remapped
// through the camera model.
type CameraStream struct {
	model  camera.Model
	source Source
	status Status
	cursor int

	lastTime  time.Time
	lastTimed bool
	warnedDims bool

	log *zap.SugaredLogger
}

func NewCameraStream(model camera.Model, source Source, log *zap.SugaredLogger) *CameraStream {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &CameraStream{
		model:  model,
		source: source,
		log:    log.With("camera", model.Name()),
	}
}

func (s *CameraStream)Name() string        { return s.model.Name() }
func (s *CameraStream)Model() camera.Model { return s.model }
func (s *CameraStream)Status() Status      { return s.status }

func (s *CameraStream)String() string {
	return fmt.Sprintf("Stream[%s %s @%d]", s.model.Name(), s.status, s.cursor)
}

// Connect opens the source and rewinds to the first frame.
func (s *CameraStream)Connect() error {
	if s.status == Connected {
		return nil
	}
	if err := s.source.Open(); err != nil {
		s.status = Failed
		return errors.Wrapf(err, "connect %s", s.model.Name())
	}
	s.cursor = 0
	s.status = Connected
	s.log.Debugf("connected, %d frames", s.source.Len())
	return nil
}

func (s *CameraStream)Disconnect() error {
	if err := s.source.Close(); err != nil {
		s.status = Failed
		return errors.Wrapf(err, "disconnect %s", s.model.Name())
	}
	s.status = Disconnected
	return nil
}

// Read returns the next frame, remapped, or nil when there is nothing to read: the
// stream is not connected, the sequence is exhausted, or the frame would not decode.
func (s *CameraStream)Read() *image.RGBA {
	if s.status != Connected {
		return nil
	}
	if n := s.source.Len(); n >= 0 && s.cursor >= n {
		s.status = Finished
		return nil
	}

	raw, err := s.source.ReadAt(s.cursor)
	if err == io.EOF {
		s.status = Finished
		return nil
	} else if err != nil {
		s.log.Errorf("frame %d: %v", s.cursor, err)
		s.status = Failed
		return nil
	}

	if ts, ok := s.source.(Timestamper); ok {
		s.lastTime, s.lastTimed = ts.TimestampAt(s.cursor)
	}
	if size := raw.Bounds().Size(); size != s.model.Dims() && !s.warnedDims {
		s.log.Warnf("frame is %v, camera expects %v", size, s.model.Dims())
		s.warnedDims = true
	}

	s.cursor++
	return s.model.Remap(raw)
}

// Timestamp is the capture time of the frame last returned by Read, if known.
func (s *CameraStream)Timestamp() (time.Time, bool) { return s.lastTime, s.lastTimed }

// Reset rewinds to the first frame without disconnecting.
func (s *CameraStream)Reset() {
	s.cursor = 0
	s.lastTimed = false
	if s.status == Finished {
		s.status = Connected
	}
}
