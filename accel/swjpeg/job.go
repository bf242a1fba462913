// job.go implements one queued encode operation and its sync token.

package swjpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/xaionaro-go/stillenc/accel"
	"github.com/xaionaro-go/stillenc/bitstream"
	"github.com/xaionaro-go/stillenc/internal"
	"github.com/xaionaro-go/stillenc/logger"
	"github.com/xaionaro-go/stillenc/surface"
	"github.com/xaionaro-go/stillenc/types"
)

type syncToken struct {
	done chan struct{}
	err  error
}

var _ accel.SyncToken = (*syncToken)(nil)

func (t *syncToken) String() string {
	select {
	case <-t.done:
		return fmt.Sprintf("SyncToken(done: %v)", t.err)
	default:
		return "SyncToken(in execution)"
	}
}

type job struct {
	session *sessionInternals
	surf    *surface.Surface
	bs      *bitstream.Buffer
	params  types.EncodeParams
	token   *syncToken
}

func newJob(
	s *sessionInternals,
	surf *surface.Surface,
	bs *bitstream.Buffer,
	params types.EncodeParams,
) *job {
	return &job{
		session: s,
		surf:    surf,
		bs:      bs,
		params:  params,
		token:   &syncToken{done: make(chan struct{})},
	}
}

// execute runs on the session's worker goroutine: the emulated accelerator
// execution context. It writes the bitstream during the asynchronous window
// and releases the surface before publishing completion.
func (j *job) execute(ctx context.Context) {
	internal.Assert(ctx, j.surf != nil, "a drain call must never be enqueued")
	internal.Assert(ctx, j.surf.IsLocked(), j.surf)
	err := j.encode(ctx)
	if err != nil {
		logger.Debugf(ctx, "the encode job failed: %v", err)
	}
	j.token.err = err
	j.surf.Unlock()
	j.session.jobFinished()
	close(j.token.done)
}

func (j *job) encode(ctx context.Context) error {
	img, err := nv12ToImage(j.surf)
	if err != nil {
		return fmt.Errorf("unable to interpret the surface as an NV12 frame: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(j.bs.MaxLength())
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: int(j.params.Quality)}); err != nil {
		return fmt.Errorf("unable to encode the frame: %w", err)
	}

	if err := j.bs.SetBytes(buf.Bytes()); err != nil {
		var errTooSmall bitstream.ErrTooSmall
		if errors.As(err, &errTooSmall) {
			return accel.ErrBufferTooSmall{Required: errTooSmall.Required, MaxLength: errTooSmall.MaxLength}
		}
		return fmt.Errorf("unable to store the encoded frame: %w", err)
	}
	return nil
}

// worstCaseEncodedSize is the conservative submission-time bound on the
// encoded frame size: JPEG at quality 100 may locally expand, so the bound
// is the raw NV12 frame size plus header slack.
func worstCaseEncodedSize(info types.FrameInfo) int {
	return int(info.Width)*int(info.Height)*3/2 + 1024
}

// nv12ToImage wraps the surface's planes into an image.YCbCr without copying
// the luma plane; the interleaved chroma plane is split into Cb and Cr.
func nv12ToImage(surf *surface.Surface) (*image.YCbCr, error) {
	info := surf.Info
	w, h := int(info.CropW), int(info.CropH)
	yStride := int(info.Width)
	cStride := int(info.Width) / 2
	chromaHeight := int(info.Height) / 2

	uvLen := cStride * chromaHeight
	if len(surf.UV) < uvLen*2 {
		return nil, fmt.Errorf("the chroma plane is truncated: %d < %d", len(surf.UV), uvLen*2)
	}

	cb := make([]byte, uvLen)
	cr := make([]byte, uvLen)
	for i := 0; i < uvLen; i++ {
		cb[i] = surf.UV[2*i]
		cr[i] = surf.UV[2*i+1]
	}

	return &image.YCbCr{
		Y:              surf.Y,
		Cb:             cb,
		Cr:             cr,
		YStride:        yStride,
		CStride:        cStride,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, w, h),
	}, nil
}
