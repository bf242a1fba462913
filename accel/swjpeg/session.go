// Package swjpeg provides a software reference implementation of an
// accelerator JPEG encode session.
//
// The asynchronous, hardware-queued execution model is emulated with a
// worker goroutine behind a bounded job queue: a full queue reports
// ErrDeviceBusy, and completion is published through sync tokens exactly as
// a hardware-backed implementation would.
package swjpeg

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/xsync"
	"go.uber.org/atomic"

	"github.com/xaionaro-go/stillenc/accel"
	"github.com/xaionaro-go/stillenc/bitstream"
	"github.com/xaionaro-go/stillenc/helpers/closuresignaler"
	"github.com/xaionaro-go/stillenc/logger"
	"github.com/xaionaro-go/stillenc/surface"
	"github.com/xaionaro-go/stillenc/types"
)

const (
	// DefaultQueueDepth is how many submissions may be queued or executing
	// before the session starts reporting ErrDeviceBusy.
	DefaultQueueDepth = 2

	minQualityValue = 1
	maxQualityValue = 100
)

type SessionConfig struct {
	// QueueDepth overrides DefaultQueueDepth if positive.
	QueueDepth int
}

func (cfg SessionConfig) queueDepth() int {
	if cfg.QueueDepth > 0 {
		return cfg.QueueDepth
	}
	return DefaultQueueDepth
}

type sessionInternals struct {
	Config     SessionConfig
	params     *types.EncodeParams
	jobQueue   chan *job
	inFlight   atomic.Int32
	workerDone chan struct{}
}

// Session implements accel.Session in pure software.
type Session struct {
	*sessionInternals
	*closuresignaler.ClosureSignaler
	locker xsync.Mutex
}

var _ accel.Session = (*Session)(nil)

func NewSession(
	ctx context.Context,
	cfg SessionConfig,
) *Session {
	logger.Tracef(ctx, "NewSession(ctx, %#+v)", cfg)
	return &Session{
		sessionInternals: &sessionInternals{
			Config: cfg,
		},
		ClosureSignaler: closuresignaler.New(),
	}
}

func (s *Session) String() string {
	return "swjpeg"
}

func (s *Session) Query(
	ctx context.Context,
	params types.EncodeParams,
) (_ret types.EncodeParams, _err error) {
	logger.Tracef(ctx, "Query(ctx, %s)", params)
	defer func() { logger.Tracef(ctx, "/Query(ctx, %s): %s %v", params, _ret, _err) }()
	return queryParams(params)
}

func queryParams(params types.EncodeParams) (types.EncodeParams, error) {
	if params.CodecID != types.CodecIDJPEG {
		return params, fmt.Errorf("unsupported codec: %s", params.CodecID)
	}
	if params.FrameInfo.FourCC != types.FourCCNV12 {
		return params, fmt.Errorf("unsupported FourCC: %s", params.FrameInfo.FourCC)
	}
	if params.FrameInfo.ChromaFormat != types.ChromaFormatYUV420 {
		return params, fmt.Errorf("unsupported chroma format: %s", params.FrameInfo.ChromaFormat)
	}
	if params.FrameInfo.CropW == 0 || params.FrameInfo.CropH == 0 {
		return params, fmt.Errorf("the frame geometry is not set")
	}

	adjusted := params
	adjusted.FrameInfo.Width = types.Align16(params.FrameInfo.CropW)
	adjusted.FrameInfo.Height = types.Align16(params.FrameInfo.CropH)
	if adjusted.Quality < minQualityValue {
		adjusted.Quality = minQualityValue
	}
	if adjusted.Quality > maxQualityValue {
		adjusted.Quality = maxQualityValue
	}
	// this implementation cannot emit restart markers
	adjusted.RestartInterval = 0

	if adjusted != params {
		return adjusted, accel.ErrIncompatibleParams{Adjusted: adjusted}
	}
	return adjusted, nil
}

func (s *Session) Init(
	ctx context.Context,
	params types.EncodeParams,
) (_err error) {
	logger.Debugf(ctx, "Init(ctx, %s)", params)
	defer func() { logger.Debugf(ctx, "/Init(ctx, %s): %v", params, _err) }()
	return xsync.DoA2R1(ctx, &s.locker, s.init, ctx, params)
}

func (s *sessionInternals) init(
	ctx context.Context,
	params types.EncodeParams,
) error {
	if s.params != nil {
		return fmt.Errorf("the session is already initialized")
	}
	effective, err := queryParams(params)
	if err != nil && !errAs[accel.ErrIncompatibleParams](err) {
		return fmt.Errorf("unable to validate the parameters: %w", err)
	}

	s.params = &effective
	s.jobQueue = make(chan *job, s.Config.queueDepth())
	s.workerDone = make(chan struct{})
	jobQueue, workerDone := s.jobQueue, s.workerDone
	observability.Go(ctx, func(ctx context.Context) {
		defer close(workerDone)
		for j := range jobQueue {
			j.execute(ctx)
		}
	})
	return nil
}

func (s *Session) QuerySurfaceCount(
	ctx context.Context,
	params types.EncodeParams,
) (_ret int, _err error) {
	logger.Tracef(ctx, "QuerySurfaceCount(ctx, %s)", params)
	defer func() { logger.Tracef(ctx, "/QuerySurfaceCount(ctx, %s): %d %v", params, _ret, _err) }()
	if _, err := queryParams(params); err != nil && !errAs[accel.ErrIncompatibleParams](err) {
		return 0, err
	}

	// one surface per queue slot, plus the one being filled by the caller:
	return s.Config.queueDepth() + 1, nil
}

func (s *Session) GetParams(
	ctx context.Context,
) (types.EncodeParams, error) {
	return xsync.DoA1R2(ctx, &s.locker, s.getParams, ctx)
}

func (s *sessionInternals) getParams(
	ctx context.Context,
) (types.EncodeParams, error) {
	if s.params == nil {
		return types.EncodeParams{}, accel.ErrNotInitialized{}
	}
	return *s.params, nil
}

func (s *Session) Reset(
	ctx context.Context,
	params types.EncodeParams,
) (_err error) {
	logger.Debugf(ctx, "Reset(ctx, %s)", params)
	defer func() { logger.Debugf(ctx, "/Reset(ctx, %s): %v", params, _err) }()
	return xsync.DoA2R1(ctx, &s.locker, s.reset, ctx, params)
}

func (s *sessionInternals) reset(
	ctx context.Context,
	params types.EncodeParams,
) error {
	if s.params == nil {
		return accel.ErrNotInitialized{}
	}
	if inFlight := s.inFlight.Load(); inFlight != 0 {
		return accel.ErrOperationInFlight{Count: int(inFlight)}
	}
	effective, err := queryParams(params)
	if err != nil && !errAs[accel.ErrIncompatibleParams](err) {
		return fmt.Errorf("unable to validate the parameters: %w", err)
	}

	s.params = &effective
	return nil
}

func (s *Session) Close(
	ctx context.Context,
) (_err error) {
	logger.Debugf(ctx, "Close")
	defer func() { logger.Debugf(ctx, "/Close: %v", _err) }()
	if s.IsClosed() {
		return nil
	}
	s.ClosureSignaler.Close(ctx)
	return xsync.DoA1R1(ctx, &s.locker, s.closeLocked, ctx)
}

func (s *sessionInternals) closeLocked(ctx context.Context) error {
	if s.params == nil {
		return nil
	}
	close(s.jobQueue)
	<-s.workerDone
	s.params = nil
	s.jobQueue = nil
	return nil
}

func (s *Session) EncodeFrameAsync(
	ctx context.Context,
	surf *surface.Surface,
	bs *bitstream.Buffer,
) (_ret accel.SyncToken, _err error) {
	logger.Tracef(ctx, "EncodeFrameAsync(ctx, %v, %v)", surf, bs)
	defer func() { logger.Tracef(ctx, "/EncodeFrameAsync(ctx, %v, %v): %v %v", surf, bs, _ret, _err) }()
	if s.IsClosed() {
		return nil, io.ErrClosedPipe
	}
	return xsync.DoA3R2(xsync.WithNoLogging(ctx, true), &s.locker, s.encodeFrameAsync, ctx, surf, bs)
}

func (s *sessionInternals) encodeFrameAsync(
	ctx context.Context,
	surf *surface.Surface,
	bs *bitstream.Buffer,
) (accel.SyncToken, error) {
	if s.params == nil {
		return nil, accel.ErrNotInitialized{}
	}

	if surf == nil {
		// JPEG is a still-image codec: nothing is ever buffered, so
		// draining immediately reports the stream as exhausted.
		return nil, accel.ErrMoreData{}
	}

	if required := worstCaseEncodedSize(s.params.FrameInfo); bs.MaxLength() < required {
		return nil, accel.ErrBufferTooSmall{Required: required, MaxLength: bs.MaxLength()}
	}

	j := newJob(s, surf, bs, *s.params)
	// the worker may run the moment the job is published, so the surface
	// must already be locked and the operation counted by then
	surf.Lock()
	s.inFlight.Inc()
	select {
	case s.jobQueue <- j:
	default:
		s.inFlight.Dec()
		surf.Unlock()
		return nil, accel.ErrDeviceBusy{}
	}
	return j.token, nil
}

func (s *Session) SyncOperation(
	ctx context.Context,
	token accel.SyncToken,
	timeout time.Duration,
) (_err error) {
	logger.Tracef(ctx, "SyncOperation(ctx, %v, %v)", token, timeout)
	defer func() { logger.Tracef(ctx, "/SyncOperation(ctx, %v, %v): %v", token, timeout, _err) }()
	tok, ok := token.(*syncToken)
	if !ok {
		return fmt.Errorf("the token %v was not issued by this session", token)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-tok.done:
		return tok.err
	case <-timer.C:
		return accel.ErrInExecution{}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *sessionInternals) jobFinished() {
	s.inFlight.Dec()
}
