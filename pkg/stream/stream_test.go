package stream

import(
	"image"
	"image/color"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abworrall/panostitch/pkg/camera"
)

// countingModel is a base camera that counts how often its layout is asked for.
type countingModel struct {
	*camera.Base
	maskCalls int
}

func (m *countingModel)Mask() *image.Gray {
	m.maskCalls++
	return m.Base.Mask()
}

type failingSource struct {
	MemorySequence
	openErr, closeErr error
	closed            bool
}

func (f *failingSource)Open() error  { return f.openErr }
func (f *failingSource)Close() error { f.closed = true; return f.closeErr }

func solidFrames(n int, dims image.Point, shade uint8) []image.Image {
	frames := make([]image.Image, n)
	for i := range frames {
		img := image.NewRGBA(image.Rectangle{Max: dims})
		for p:=0; p<len(img.Pix); p+=4 {
			img.Pix[p], img.Pix[p+1], img.Pix[p+2], img.Pix[p+3] = shade+uint8(i), shade, shade, 0xFF
		}
		frames[i] = img
	}
	return frames
}

func newTestStream(t *testing.T, name string, src Source) (*CameraStream, *countingModel) {
	t.Helper()
	base, err := camera.NewBase(name, image.Point{8, 6})
	require.NoError(t, err)
	model := &countingModel{Base: base}
	return NewCameraStream(model, src, nil), model
}

func TestReadBeforeConnect(t *testing.T) {
	var streams []*CameraStream
	for _, name := range []string{"a", "b", "c"} {
		s, _ := newTestStream(t, name, &MemorySequence{Frames: solidFrames(2, image.Point{8, 6}, 10)})
		streams = append(streams, s)
	}
	b := NewBundle(streams, nil)

	frames := b.Read()
	require.Len(t, frames, 3)
	for _, f := range frames {
		assert.Nil(t, f)
	}
}

func TestReadReturnsEveryFrameThenFinishes(t *testing.T) {
	s1, _ := newTestStream(t, "a", &MemorySequence{Frames: solidFrames(3, image.Point{8, 6}, 10)})
	s2, _ := newTestStream(t, "b", &MemorySequence{Frames: solidFrames(3, image.Point{8, 6}, 50)})
	b := NewBundle([]*CameraStream{s1, s2}, nil)
	require.NoError(t, b.Connect())
	assert.Equal(t, Connected, b.Status())

	for i:=0; i<3; i++ {
		frames := b.Read()
		require.NotNil(t, frames[0], "frame %d", i)
		require.NotNil(t, frames[1], "frame %d", i)
		assert.Equal(t, color.RGBA{10 + uint8(i), 10, 10, 0xFF}, frames[0].RGBAAt(0, 0))
		assert.Equal(t, color.RGBA{50 + uint8(i), 50, 50, 0xFF}, frames[1].RGBAAt(0, 0))
	}

	frames := b.Read()
	assert.Nil(t, frames[0])
	assert.Equal(t, Finished, s1.Status())

	b.Reset()
	assert.Equal(t, Connected, s1.Status())
	frames = b.Read()
	require.NotNil(t, frames[0])
	assert.Equal(t, color.RGBA{10, 10, 10, 0xFF}, frames[0].RGBAAt(0, 0))
}

func TestConnectFailureRollsBack(t *testing.T) {
	good := &failingSource{MemorySequence: MemorySequence{Frames: solidFrames(1, image.Point{8, 6}, 0)}}
	bad := &failingSource{openErr: errors.New("no such camera")}
	s1, _ := newTestStream(t, "good", good)
	s2, _ := newTestStream(t, "bad", bad)
	b := NewBundle([]*CameraStream{s1, s2}, nil)

	err := b.Connect()
	require.Error(t, err)
	assert.Equal(t, Failed, b.Status())
	assert.True(t, good.closed, "streams connected before the failure are disconnected again")
	assert.Equal(t, Disconnected, s1.Status())

	assert.Nil(t, b.Read()[0])
}

func TestDisconnectFailure(t *testing.T) {
	src := &failingSource{closeErr: errors.New("stuck")}
	s1, _ := newTestStream(t, "a", &MemorySequence{})
	s2, _ := newTestStream(t, "b", src)
	b := NewBundle([]*CameraStream{s1, s2}, nil)
	require.NoError(t, b.Connect())

	assert.Error(t, b.Disconnect())
	assert.Equal(t, Failed, b.Status())
	assert.Equal(t, Disconnected, s1.Status())
}

func TestLayoutIsCachedOnce(t *testing.T) {
	s1, m1 := newTestStream(t, "a", &MemorySequence{})
	b := NewBundle([]*CameraStream{s1}, nil)

	assert.Equal(t, 0, m1.maskCalls, "nothing computed at construction")
	b.Masks()
	b.Corners()
	b.Sizes()
	b.Masks()
	assert.Equal(t, 1, m1.maskCalls)
	assert.Equal(t, []image.Point{{0, 0}}, b.TopLefts())
	assert.Equal(t, []image.Point{{8, 6}}, b.Sizes())
	assert.Equal(t, []string{"a"}, b.Names())
}

func TestFileSequenceMissingFile(t *testing.T) {
	fs := &FileSequence{Paths: []string{"/definitely/not/here.png"}}
	s, _ := newTestStream(t, "a", fs)
	assert.Error(t, s.Connect())
	assert.Equal(t, Failed, s.Status())
	assert.Nil(t, s.Read())
}
