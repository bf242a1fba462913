// file.go implements the one-file-per-frame output sink.

package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/xaionaro-go/stillenc/logger"
)

// FileSink writes each encoded frame into `frame<N>.jpg` (N is 1-based)
// inside Dir.
type FileSink struct {
	Dir      string
	frameNum uint64
}

var _ Sink = (*FileSink)(nil)

func NewFileSink(dir string) *FileSink {
	return &FileSink{
		Dir: dir,
	}
}

func (s *FileSink) String() string {
	return fmt.Sprintf("FileSink(%s)", s.Dir)
}

func (s *FileSink) WriteFrame(
	ctx context.Context,
	data []byte,
) (_err error) {
	logger.Tracef(ctx, "WriteFrame(ctx, %d bytes)", len(data))
	defer func() { logger.Tracef(ctx, "/WriteFrame(ctx, %d bytes): %v", len(data), _err) }()
	s.frameNum++
	path := filepath.Join(s.Dir, fmt.Sprintf("frame%d.jpg", s.frameNum))
	if err := os.WriteFile(path, data, 0644); err != nil {
		s.frameNum--
		return fmt.Errorf("unable to write the output file '%s': %w", path, err)
	}
	logger.Debugf(ctx, "wrote '%s' (%s)", path, humanize.IBytes(uint64(len(data))))
	return nil
}
