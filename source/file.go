// file.go implements reading sequential raw NV12 frames from a file.

package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/xaionaro-go/stillenc/logger"
	"github.com/xaionaro-go/stillenc/surface"
)

// File reads raw NV12 frames stored back to back: for each frame the luma
// plane rows first, then the interleaved chroma rows, at the visible (crop)
// dimensions. Rows are widened into the surface's aligned pitch.
type File struct {
	backend *os.File
	path    string
}

var _ Source = (*File)(nil)

func NewFile(
	ctx context.Context,
	path string,
) (_ret *File, _err error) {
	logger.Debugf(ctx, "NewFile(ctx, '%s')", path)
	defer func() { logger.Debugf(ctx, "/NewFile(ctx, '%s'): %v", path, _err) }()
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open the input file '%s': %w", path, err)
	}
	return &File{
		backend: f,
		path:    path,
	}, nil
}

func (f *File) String() string {
	return fmt.Sprintf("File(%s)", f.path)
}

func (f *File) ReadFrame(
	ctx context.Context,
	surf *surface.Surface,
) (_err error) {
	logger.Tracef(ctx, "ReadFrame(ctx, %v)", surf)
	defer func() { logger.Tracef(ctx, "/ReadFrame(ctx, %v): %v", surf, _err) }()
	info := surf.Info
	w, h := int(info.CropW), int(info.CropH)
	pitch := int(info.Width)

	for row := 0; row < h; row++ {
		if err := f.readRow(surf.Y[row*pitch:row*pitch+w], row == 0); err != nil {
			return err
		}
	}
	for row := 0; row < h/2; row++ {
		if err := f.readRow(surf.UV[row*pitch:row*pitch+w], false); err != nil {
			return err
		}
	}
	return nil
}

// readRow reads one plane row. An EOF at the very first byte of a frame is
// the designed exhaustion signal; anywhere else it means a truncated frame.
func (f *File) readRow(dst []byte, firstRow bool) error {
	_, err := io.ReadFull(f.backend, dst)
	switch {
	case err == nil:
		return nil
	case firstRow && errors.Is(err, io.EOF):
		return io.EOF
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("the input file '%s' contains a truncated frame: %w", f.path, io.ErrUnexpectedEOF)
	default:
		return fmt.Errorf("unable to read from '%s': %w", f.path, err)
	}
}

func (f *File) Close(ctx context.Context) error {
	logger.Debugf(ctx, "Close")
	return f.backend.Close()
}
