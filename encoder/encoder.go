// Package encoder wraps an accelerator session into the encode engine: it
// owns parameter negotiation, initialization, asynchronous submission, live
// reconfiguration and shutdown.
package encoder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/facebookincubator/go-belt"
	"github.com/xaionaro-go/xsync"

	"github.com/xaionaro-go/stillenc/accel"
	"github.com/xaionaro-go/stillenc/bitstream"
	"github.com/xaionaro-go/stillenc/logger"
	"github.com/xaionaro-go/stillenc/surface"
	"github.com/xaionaro-go/stillenc/types"
)

type encoderInternals struct {
	Session accel.Session
	params  *types.EncodeParams
}

// Encoder is the encode engine.
//
// Parameters are mutated only through Negotiate and Reset, never
// concurrently with an in-flight submission.
type Encoder struct {
	*encoderInternals
	locker xsync.Mutex
}

func New(
	ctx context.Context,
	session accel.Session,
) *Encoder {
	logger.Tracef(ctx, "New(ctx, %s)", session)
	return &Encoder{
		encoderInternals: &encoderInternals{
			Session: session,
		},
	}
}

func (e *Encoder) String() string {
	return fmt.Sprintf("Encoder(%s)", e.Session)
}

// Negotiate asks the session whether the requested parameters are supported
// and adopts whatever it reports back. A substituted configuration is
// informational, not an error.
func (e *Encoder) Negotiate(
	ctx context.Context,
	requested types.EncodeParams,
) (_ret types.EncodeParams, _err error) {
	logger.Debugf(ctx, "Negotiate(ctx, %s)", requested)
	defer func() { logger.Debugf(ctx, "/Negotiate(ctx, %s): %s %v", requested, _ret, _err) }()
	return xsync.DoA2R2(ctx, &e.locker, e.negotiate, ctx, requested)
}

func (e *encoderInternals) negotiate(
	ctx context.Context,
	requested types.EncodeParams,
) (types.EncodeParams, error) {
	effective, err := e.Session.Query(ctx, requested)
	switch {
	case err == nil:
	case errors.As(err, &accel.ErrIncompatibleParams{}):
		logger.Warnf(ctx, "the parameters were substituted by the accelerator: %s -> %s", requested, effective)
	default:
		return types.EncodeParams{}, fmt.Errorf("the parameter negotiation failed: %w", err)
	}
	logger.Tracef(ctx, "effective parameters: %s", spew.Sdump(effective))

	e.params = &effective
	return effective, nil
}

// Init performs the one-time session setup with the negotiated parameters.
// The initialization is timed; hardware-queued implementations take
// non-trivially long here.
func (e *Encoder) Init(
	ctx context.Context,
) (_err error) {
	logger.Debugf(ctx, "Init")
	defer func() { logger.Debugf(ctx, "/Init: %v", _err) }()
	return xsync.DoA1R1(ctx, &e.locker, e.init, ctx)
}

func (e *encoderInternals) init(
	ctx context.Context,
) error {
	if e.params == nil {
		return fmt.Errorf("Negotiate was not invoked")
	}
	tick := time.Now()
	if err := e.Session.Init(ctx, *e.params); err != nil {
		return fmt.Errorf("the encoder initialization failed: %w", err)
	}
	initDuration := time.Since(tick)
	logger.Infof(ctx, "initialization time: %.3fms", float64(initDuration.Microseconds())/1000)
	logger.Infof(ctx, "implementation: %s", e.Session)
	return nil
}

// QuerySurfaceCount reports the suggested surface pool size for the current
// parameters.
func (e *Encoder) QuerySurfaceCount(
	ctx context.Context,
) (_ret int, _err error) {
	logger.Tracef(ctx, "QuerySurfaceCount")
	defer func() { logger.Tracef(ctx, "/QuerySurfaceCount: %d %v", _ret, _err) }()
	return xsync.DoA1R2(ctx, &e.locker, e.querySurfaceCount, ctx)
}

func (e *encoderInternals) querySurfaceCount(
	ctx context.Context,
) (int, error) {
	if e.params == nil {
		return 0, fmt.Errorf("Negotiate was not invoked")
	}
	return e.Session.QuerySurfaceCount(ctx, *e.params)
}

// GetParams reports the current negotiated parameters.
func (e *Encoder) GetParams(
	ctx context.Context,
) (types.EncodeParams, error) {
	return xsync.DoA1R2(ctx, &e.locker, e.getParams, ctx)
}

func (e *encoderInternals) getParams(
	ctx context.Context,
) (types.EncodeParams, error) {
	if e.params == nil {
		return types.EncodeParams{}, fmt.Errorf("Negotiate was not invoked")
	}
	return *e.params, nil
}

// Submit feeds one surface (or nil to drain) plus the output bitstream to
// the session, without blocking on the actual encode.
func (e *Encoder) Submit(
	ctx context.Context,
	surf *surface.Surface,
	bs *bitstream.Buffer,
) (_ret accel.SyncToken, _err error) {
	logger.Tracef(ctx, "Submit(ctx, %v, %v)", surf, bs)
	defer func() { logger.Tracef(ctx, "/Submit(ctx, %v, %v): %v %v", surf, bs, _ret, _err) }()
	return xsync.DoA3R2(xsync.WithNoLogging(ctx, true), &e.locker, e.submit, ctx, surf, bs)
}

func (e *encoderInternals) submit(
	ctx context.Context,
	surf *surface.Surface,
	bs *bitstream.Buffer,
) (accel.SyncToken, error) {
	if e.params == nil {
		return nil, fmt.Errorf("Negotiate was not invoked")
	}
	return e.Session.EncodeFrameAsync(ctx, surf, bs)
}

// Close releases the session. It must happen before the surface storage is
// dropped, since the accelerator may still reference surfaces internally.
func (e *Encoder) Close(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Close")
	defer func() { logger.Debugf(ctx, "/Close: %v", _err) }()
	return xsync.DoA1R1(ctx, &e.locker, e.closeLocked, ctx)
}

func (e *encoderInternals) closeLocked(ctx context.Context) error {
	if e.params == nil {
		return nil
	}
	e.params = nil
	belt.Flush(ctx)
	return e.Session.Close(ctx)
}
