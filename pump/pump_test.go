package pump

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xaionaro-go/stillenc/accel"
	"github.com/xaionaro-go/stillenc/bitstream"
	"github.com/xaionaro-go/stillenc/encoder"
	"github.com/xaionaro-go/stillenc/sink"
	"github.com/xaionaro-go/stillenc/source"
	"github.com/xaionaro-go/stillenc/surface"
	"github.com/xaionaro-go/stillenc/types"
)

type scriptToken struct {
	Err error
}

var _ accel.SyncToken = scriptToken{}

func (t scriptToken) String() string {
	return "ScriptToken"
}

// scriptedSession is an accel.Session whose per-submission behavior is
// driven by OnEncode, keyed by the 1-based submission number.
type scriptedSession struct {
	OnEncode     func(call int, surf *surface.Surface, bs *bitstream.Buffer) (accel.SyncToken, error)
	SurfaceCount int

	params      types.EncodeParams
	encodeCalls int
	resetCalls  []types.EncodeParams
	closed      bool

	// SubmittedSurfaces remembers the surface of every submission, to
	// verify retry semantics.
	SubmittedSurfaces []*surface.Surface
}

var _ accel.Session = (*scriptedSession)(nil)

func (s *scriptedSession) String() string {
	return "scripted"
}

func (s *scriptedSession) Query(ctx context.Context, params types.EncodeParams) (types.EncodeParams, error) {
	return params, nil
}

func (s *scriptedSession) Init(ctx context.Context, params types.EncodeParams) error {
	s.params = params
	return nil
}

func (s *scriptedSession) QuerySurfaceCount(ctx context.Context, params types.EncodeParams) (int, error) {
	if s.SurfaceCount > 0 {
		return s.SurfaceCount, nil
	}
	return 2, nil
}

func (s *scriptedSession) EncodeFrameAsync(ctx context.Context, surf *surface.Surface, bs *bitstream.Buffer) (accel.SyncToken, error) {
	s.encodeCalls++
	s.SubmittedSurfaces = append(s.SubmittedSurfaces, surf)
	return s.OnEncode(s.encodeCalls, surf, bs)
}

func (s *scriptedSession) SyncOperation(ctx context.Context, token accel.SyncToken, timeout time.Duration) error {
	return token.(scriptToken).Err
}

func (s *scriptedSession) GetParams(ctx context.Context) (types.EncodeParams, error) {
	return s.params, nil
}

func (s *scriptedSession) Reset(ctx context.Context, params types.EncodeParams) error {
	s.resetCalls = append(s.resetCalls, params)
	s.params = params
	return nil
}

func (s *scriptedSession) Close(ctx context.Context) error {
	s.closed = true
	return nil
}

// memSource yields a fixed number of synthetic frames.
type memSource struct {
	FramesLeft int
	Closed     bool
}

var _ source.Source = (*memSource)(nil)

func (s *memSource) String() string {
	return fmt.Sprintf("MemSource(%d left)", s.FramesLeft)
}

func (s *memSource) ReadFrame(ctx context.Context, surf *surface.Surface) error {
	if s.FramesLeft <= 0 {
		return io.EOF
	}
	s.FramesLeft--
	for idx := range surf.Y {
		surf.Y[idx] = byte(idx)
	}
	return nil
}

func (s *memSource) Close(ctx context.Context) error {
	s.Closed = true
	return nil
}

// memSink records a copy of every delivered frame.
type memSink struct {
	Frames [][]byte
}

var _ sink.Sink = (*memSink)(nil)

func (s *memSink) String() string {
	return "MemSink"
}

func (s *memSink) WriteFrame(ctx context.Context, data []byte) error {
	s.Frames = append(s.Frames, append([]byte(nil), data...))
	return nil
}

// encodeOrDrain is the usual happy-path script: a real surface produces
// payload, a drain call reports that no buffered output remains.
func encodeOrDrain(payload []byte) func(int, *surface.Surface, *bitstream.Buffer) (accel.SyncToken, error) {
	return func(call int, surf *surface.Surface, bs *bitstream.Buffer) (accel.SyncToken, error) {
		if surf == nil {
			return nil, accel.ErrMoreData{}
		}
		if err := bs.SetBytes(payload); err != nil {
			return nil, err
		}
		return scriptToken{}, nil
	}
}

func newTestPump(
	t *testing.T,
	session accel.Session,
	src source.Source,
	snk sink.Sink,
	cfg Config,
) *Pump {
	ctx := context.Background()

	params := types.EncodeParams{
		CodecID:   types.CodecIDJPEG,
		FrameRate: 30,
		Quality:   90,
	}
	params.FrameInfo.FourCC = types.FourCCNV12
	params.FrameInfo.ChromaFormat = types.ChromaFormatYUV420
	params.FrameInfo.SetResolution(types.Resolution{Width: 320, Height: 240})

	enc := encoder.New(ctx, session)
	effective, err := enc.Negotiate(ctx, params)
	require.NoError(t, err)
	require.NoError(t, enc.Init(ctx))

	surfaceCount, err := enc.QuerySurfaceCount(ctx)
	require.NoError(t, err)
	pool, err := surface.NewPool(ctx, surfaceCount, effective.FrameInfo)
	require.NoError(t, err)

	syncer := encoder.NewSynchronizer(session)
	syncer.WaitSlice = time.Millisecond
	if cfg.BusyRetryInterval == 0 {
		cfg.BusyRetryInterval = time.Millisecond
	}
	return New(ctx, enc, syncer, src, snk, pool, bitstream.NewBuffer(4096), cfg)
}

func TestPumpEncodesUntilExhaustionAndDrains(t *testing.T) {
	ctx := context.Background()

	payload := []byte("jpeg-ish payload")
	session := &scriptedSession{OnEncode: encodeOrDrain(payload)}
	src := &memSource{FramesLeft: 3}
	snk := &memSink{}
	p := newTestPump(t, session, src, snk, Config{})

	require.NoError(t, p.Serve(ctx))
	require.Equal(t, StateDone, p.State())
	require.Equal(t, uint64(3), p.FrameCount())
	require.Len(t, snk.Frames, 3)
	for _, frame := range snk.Frames {
		require.Equal(t, payload, frame)
	}
	// The last submission is the drain call.
	require.Nil(t, session.SubmittedSurfaces[len(session.SubmittedSurfaces)-1])
}

func TestPumpRetriesSameSurfaceWhileBusy(t *testing.T) {
	ctx := context.Background()

	payload := []byte("payload")
	happy := encodeOrDrain(payload)
	session := &scriptedSession{
		OnEncode: func(call int, surf *surface.Surface, bs *bitstream.Buffer) (accel.SyncToken, error) {
			if call <= 2 {
				return nil, accel.ErrDeviceBusy{}
			}
			return happy(call, surf, bs)
		},
	}
	src := &memSource{FramesLeft: 1}
	snk := &memSink{}
	p := newTestPump(t, session, src, snk, Config{})

	require.NoError(t, p.Serve(ctx))
	require.Equal(t, uint64(1), p.FrameCount())

	// The busy retries must have resubmitted the exact same surface.
	require.GreaterOrEqual(t, len(session.SubmittedSurfaces), 3)
	require.Same(t, session.SubmittedSurfaces[0], session.SubmittedSurfaces[1])
	require.Same(t, session.SubmittedSurfaces[1], session.SubmittedSurfaces[2])
}

func TestPumpContinuesFeedingOnMoreData(t *testing.T) {
	ctx := context.Background()

	payload := []byte("payload")
	happy := encodeOrDrain(payload)
	session := &scriptedSession{
		OnEncode: func(call int, surf *surface.Surface, bs *bitstream.Buffer) (accel.SyncToken, error) {
			// the first real frame only advances internal state:
			if call == 1 {
				return nil, accel.ErrMoreData{}
			}
			return happy(call, surf, bs)
		},
	}
	src := &memSource{FramesLeft: 2}
	snk := &memSink{}
	p := newTestPump(t, session, src, snk, Config{})

	require.NoError(t, p.Serve(ctx))
	require.Equal(t, StateDone, p.State())
	// more-data while feeding consumes the input without producing output
	require.Equal(t, uint64(1), p.FrameCount())
	require.Len(t, snk.Frames, 1)
}

func TestPumpSkipsFrameOnTooSmallBuffer(t *testing.T) {
	ctx := context.Background()

	payload := []byte("payload")
	happy := encodeOrDrain(payload)
	session := &scriptedSession{
		OnEncode: func(call int, surf *surface.Surface, bs *bitstream.Buffer) (accel.SyncToken, error) {
			if call == 1 {
				return nil, accel.ErrBufferTooSmall{Required: 1 << 30, MaxLength: bs.MaxLength()}
			}
			return happy(call, surf, bs)
		},
	}
	src := &memSource{FramesLeft: 2}
	snk := &memSink{}
	p := newTestPump(t, session, src, snk, Config{})

	require.NoError(t, p.Serve(ctx))
	require.Equal(t, StateDone, p.State())
	require.Equal(t, uint64(1), p.FrameCount())
	require.Len(t, snk.Frames, 1)
}

func TestPumpFailsOnDeviceLost(t *testing.T) {
	ctx := context.Background()

	session := &scriptedSession{
		OnEncode: func(call int, surf *surface.Surface, bs *bitstream.Buffer) (accel.SyncToken, error) {
			return nil, accel.ErrDeviceLost{}
		},
	}
	src := &memSource{FramesLeft: 1}
	p := newTestPump(t, session, src, &memSink{}, Config{})

	err := p.Serve(ctx)
	require.Error(t, err)
	require.ErrorAs(t, err, &accel.ErrDeviceLost{})
	require.Equal(t, StateFailed, p.State())
}

func TestPumpFailsOnUnrecognizedStatus(t *testing.T) {
	ctx := context.Background()

	session := &scriptedSession{
		OnEncode: func(call int, surf *surface.Surface, bs *bitstream.Buffer) (accel.SyncToken, error) {
			return nil, errors.New("some exotic condition")
		},
	}
	src := &memSource{FramesLeft: 1}
	p := newTestPump(t, session, src, &memSink{}, Config{})

	err := p.Serve(ctx)
	require.Error(t, err)
	require.Equal(t, StateFailed, p.State())
}

func TestPumpStopsOnPolicyDirective(t *testing.T) {
	ctx := context.Background()

	session := &scriptedSession{OnEncode: encodeOrDrain([]byte("payload"))}
	src := &memSource{FramesLeft: 100}
	snk := &memSink{}
	cfg := Config{
		Hooks: Hooks{
			OnFrameEncoded: func(ctx context.Context, frameNum uint64) Directive {
				return Directive{Stop: frameNum >= 2}
			},
		},
	}
	p := newTestPump(t, session, src, snk, cfg)

	require.NoError(t, p.Serve(ctx))
	require.Equal(t, StateDone, p.State())
	require.Equal(t, uint64(2), p.FrameCount())
	require.Equal(t, 98, src.FramesLeft)
}

func TestPumpReconfiguresToNewGeometryAndSource(t *testing.T) {
	ctx := context.Background()

	session := &scriptedSession{
		OnEncode:     encodeOrDrain([]byte("payload")),
		SurfaceCount: 3,
	}
	oldSrc := &memSource{FramesLeft: 1}
	newSrc := &memSource{FramesLeft: 2}
	snk := &memSink{}
	newRes := types.Resolution{Width: 640, Height: 640}
	cfg := Config{
		Hooks: Hooks{
			OnFrameEncoded: func(ctx context.Context, frameNum uint64) Directive {
				if frameNum != 1 {
					return Directive{}
				}
				return Directive{Reconfigure: &ReconfigureRequest{
					Resolution: newRes,
					NewSource:  newSrc,
				}}
			},
		},
	}
	p := newTestPump(t, session, oldSrc, snk, cfg)

	require.NoError(t, p.Serve(ctx))
	require.Equal(t, StateDone, p.State())
	require.Equal(t, uint64(3), p.FrameCount())

	require.True(t, oldSrc.Closed)
	require.Zero(t, newSrc.FramesLeft)

	require.Len(t, session.resetCalls, 1)
	require.Equal(t, newRes, session.resetCalls[0].FrameInfo.Resolution())

	// The pool was rebuilt against the new geometry.
	require.Equal(t, 3, p.Pool.Count())
	surf, err := p.Pool.FindFree(ctx)
	require.NoError(t, err)
	require.Equal(t, types.Align16(640)*types.Align16(640), uint32(len(surf.Y)))
}

func TestPumpServeIsSingleShot(t *testing.T) {
	ctx := context.Background()

	session := &scriptedSession{OnEncode: encodeOrDrain([]byte("payload"))}
	p := newTestPump(t, session, &memSource{}, &memSink{}, Config{})

	require.NoError(t, p.Serve(ctx))
	require.Equal(t, StateDone, p.State())

	// a rejected second Serve must not clobber the terminal state
	require.Error(t, p.Serve(ctx))
	require.Equal(t, StateDone, p.State())
}
