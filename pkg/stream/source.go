package stream

import(
	"image"
	"io"
	"os"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/rwcarlsen/goexif/exif"

	_ "golang.org/x/image/tiff"  // decoders for image.Decode
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// A Source is an ordered sequence of raw frames from one camera.
type Source interface {
	Open() error
	Close() error
	Len() int                           // -1 for a feed with no known end
	ReadAt(i int) (image.Image, error)  // io.EOF past the end
}

// Timestamper is implemented by sources that know when each frame was captured.
type Timestamper interface {
	TimestampAt(i int) (time.Time, bool)
}

// FileSequence replays a list of image files, in order.
type FileSequence struct {
	Paths []string
}

func (fs *FileSequence)Len() int     { return len(fs.Paths) }
func (fs *FileSequence)Close() error { return nil }

func (fs *FileSequence)Open() error {
	for _, path := range fs.Paths {
		if item, err := os.Stat(path); err != nil {
			return errors.Wrapf(err, "frame %s", path)
		} else if item.IsDir() {
			return errors.Errorf("frame %s is a directory", path)
		}
	}
	return nil
}

func (fs *FileSequence)ReadAt(i int) (image.Image, error) {
	if i < 0 || i >= len(fs.Paths) {
		return nil, io.EOF
	}
	img, err := imaging.Open(fs.Paths[i])
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", fs.Paths[i])
	}
	return img, nil
}

// TimestampAt reads DateTimeOriginal from the frame's EXIF block, if it has one.
func (fs *FileSequence)TimestampAt(i int) (time.Time, bool) {
	if i < 0 || i >= len(fs.Paths) {
		return time.Time{}, false
	}
	reader, err := os.Open(fs.Paths[i])
	if err != nil {
		return time.Time{}, false
	}
	defer reader.Close()

	if ex, err := exif.Decode(reader); err != nil {
		return time.Time{}, false
	} else if tm, err := ex.DateTime(); err != nil {
		return time.Time{}, false
	} else {
		return tm, true
	}
}

// MemorySequence replays frames already in memory.
type MemorySequence struct {
	Frames []image.Image
}

func (ms *MemorySequence)Open() error  { return nil }
func (ms *MemorySequence)Close() error { return nil }
func (ms *MemorySequence)Len() int     { return len(ms.Frames) }

func (ms *MemorySequence)ReadAt(i int) (image.Image, error) {
	if i < 0 || i >= len(ms.Frames) {
		return nil, io.EOF
	}
	return ms.Frames[i], nil
}
