// Package pump implements the orchestrator of the asynchronous encode
// pipeline: the state machine that acquires surfaces, feeds them to the
// encode engine, interprets the returned status, synchronizes completed
// work and drives draining, termination and live reconfiguration.
package pump

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/xaionaro-go/stillenc/accel"
	"github.com/xaionaro-go/stillenc/bitstream"
	"github.com/xaionaro-go/stillenc/encoder"
	"github.com/xaionaro-go/stillenc/logger"
	"github.com/xaionaro-go/stillenc/sink"
	"github.com/xaionaro-go/stillenc/source"
	"github.com/xaionaro-go/stillenc/surface"
	"github.com/xaionaro-go/stillenc/types"
)

// DefaultBusyRetryInterval is how long to back off before retrying a
// submission the accelerator reported itself busy for.
const DefaultBusyRetryInterval = 5 * time.Millisecond

// ReconfigureRequest is an externally driven live-reconfiguration event:
// switch the session to a new resolution and, optionally, to a new frame
// source.
type ReconfigureRequest struct {
	Resolution types.Resolution
	NewSource  source.Source
}

// Directive is what a policy hook may request from the pump.
type Directive struct {
	// Stop forces the transition to StateDone.
	Stop bool

	// Reconfigure requests a live parameter reset. It is ignored if Stop
	// is also set.
	Reconfigure *ReconfigureRequest
}

// Hooks are the externally supplied policy decision points.
type Hooks struct {
	// OnFrameEncoded is invoked after each successfully synchronized,
	// output-producing submission, with the 1-based number of that frame.
	OnFrameEncoded func(ctx context.Context, frameNum uint64) Directive
}

type Config struct {
	Hooks Hooks

	// BusyRetryInterval overrides DefaultBusyRetryInterval if positive.
	BusyRetryInterval time.Duration
}

// Pump drives the encode pipeline. A single logical thread of control owns
// it; no concurrent mutation of its state is assumed.
type Pump struct {
	Encoder      *encoder.Encoder
	Synchronizer *encoder.Synchronizer
	Source       source.Source
	Sink         sink.Sink
	Pool         *surface.Pool
	Bitstream    *bitstream.Buffer
	Config       Config

	state    State
	frameNum uint64
}

func New(
	ctx context.Context,
	enc *encoder.Encoder,
	syncer *encoder.Synchronizer,
	src source.Source,
	snk sink.Sink,
	pool *surface.Pool,
	bs *bitstream.Buffer,
	cfg Config,
) *Pump {
	logger.Tracef(ctx, "New(ctx, %s, %s, %s, %s, %s)", enc, src, snk, pool, bs)
	return &Pump{
		Encoder:      enc,
		Synchronizer: syncer,
		Source:       src,
		Sink:         snk,
		Pool:         pool,
		Bitstream:    bs,
		Config:       cfg,
	}
}

func (p *Pump) String() string {
	return fmt.Sprintf("Pump(%s, frame:%d)", p.state, p.frameNum)
}

// State reports the pump's current lifecycle phase.
func (p *Pump) State() State {
	return p.state
}

// FrameCount is the number of successfully synchronized, output-producing
// submissions so far.
func (p *Pump) FrameCount() uint64 {
	return p.frameNum
}

func (p *Pump) busyRetryInterval() time.Duration {
	if p.Config.BusyRetryInterval > 0 {
		return p.Config.BusyRetryInterval
	}
	return DefaultBusyRetryInterval
}

// Serve runs the pump's loop until the stream is fully flushed (StateDone)
// or a session-ending error occurs (StateFailed, returned).
func (p *Pump) Serve(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Serve")
	defer func() { logger.Debugf(ctx, "/Serve: %v", _err) }()
	if p.state != StateUndefined {
		return fmt.Errorf("the pump was already served (state: %s)", p.state)
	}
	p.state = StateFeeding
	defer func() {
		if _err != nil {
			p.state = StateFailed
		}
	}()

	// On a device-busy status the same surface is resubmitted, so the
	// acquired surface survives iterations until actually consumed.
	var pendingSurf *surface.Surface
	for !p.state.IsTerminal() {
		if err := ctx.Err(); err != nil {
			return err
		}

		if p.state == StateFeeding && pendingSurf == nil {
			surf, err := p.acquireFrame(ctx)
			if err != nil {
				return err
			}
			pendingSurf = surf // nil if we just transitioned to draining
		}

		consumed, err := p.submitAndSync(ctx, pendingSurf)
		if err != nil {
			return err
		}
		if consumed {
			pendingSurf = nil
		}
	}
	return nil
}

// acquireFrame obtains a free surface and fills it with the next input
// frame. Source exhaustion transitions to draining and returns no surface.
func (p *Pump) acquireFrame(ctx context.Context) (_ret *surface.Surface, _err error) {
	logger.Tracef(ctx, "acquireFrame")
	defer func() { logger.Tracef(ctx, "/acquireFrame: %v %v", _ret, _err) }()
	surf, err := p.Pool.FindFree(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to acquire a surface: %w", err)
	}

	switch err := p.Source.ReadFrame(ctx, surf); {
	case err == nil:
		return surf, nil
	case errors.Is(err, io.EOF):
		logger.Debugf(ctx, "the source %s is exhausted, draining", p.Source)
		p.state = StateDraining
		return nil, nil
	default:
		return nil, fmt.Errorf("unable to read a frame from %s: %w", p.Source, err)
	}
}

// submitAndSync performs one submit iteration and interprets the returned
// status. It reports whether the input surface was consumed.
func (p *Pump) submitAndSync(
	ctx context.Context,
	surf *surface.Surface,
) (_consumed bool, _err error) {
	token, err := p.Encoder.Submit(ctx, surf, p.Bitstream)
	switch {
	case err == nil:
		// A nil token means the submission consumed input without
		// producing output yet (pipeline latency on a drain call that
		// merely advanced internal state).
		if token == nil {
			return true, nil
		}
		return true, p.consumeOutput(ctx, token)
	case errors.As(err, &accel.ErrMoreData{}):
		if p.state == StateDraining {
			logger.Debugf(ctx, "the stream is fully flushed")
			p.state = StateDone
		}
		return true, nil
	case errors.As(err, &accel.ErrBufferTooSmall{}):
		// The bitstream is sized generously upfront, so this is logged
		// and the frame is skipped instead of ending the session.
		logger.Errorf(ctx, "the output buffer cannot hold the encoded frame, skipping it: %v", err)
		return true, nil
	case errors.As(err, &accel.ErrDeviceBusy{}):
		logger.Debugf(ctx, "the device is busy, retrying in %s", p.busyRetryInterval())
		if err := p.sleep(ctx, p.busyRetryInterval()); err != nil {
			return false, err
		}
		return false, nil
	case errors.As(err, &accel.ErrDeviceLost{}):
		return false, fmt.Errorf("the encode session is unrecoverable: %w", err)
	default:
		return false, fmt.Errorf("unrecognized submission status: %w", err)
	}
}

// consumeOutput synchronizes the token, delivers the filled bitstream to
// the sink and applies the policy hooks.
func (p *Pump) consumeOutput(
	ctx context.Context,
	token accel.SyncToken,
) (_err error) {
	logger.Tracef(ctx, "consumeOutput(ctx, %v)", token)
	defer func() { logger.Tracef(ctx, "/consumeOutput(ctx, %v): %v", token, _err) }()
	if err := p.Synchronizer.Wait(ctx, token); err != nil {
		return fmt.Errorf("the synchronization of %v failed: %w", token, err)
	}

	if err := p.Sink.WriteFrame(ctx, p.Bitstream.Bytes()); err != nil {
		return fmt.Errorf("unable to deliver the encoded frame to %s: %w", p.Sink, err)
	}
	logger.Debugf(ctx, "frame %d: %s", p.frameNum+1, humanize.IBytes(uint64(p.Bitstream.Len())))
	p.Bitstream.Reset()
	p.frameNum++

	if p.Config.Hooks.OnFrameEncoded == nil {
		return nil
	}
	directive := p.Config.Hooks.OnFrameEncoded(ctx, p.frameNum)
	switch {
	case directive.Stop:
		logger.Debugf(ctx, "the termination policy requested a stop after frame %d", p.frameNum)
		p.state = StateDone
	case directive.Reconfigure != nil:
		if err := p.reconfigure(ctx, *directive.Reconfigure); err != nil {
			return fmt.Errorf("the reconfiguration failed: %w", err)
		}
	}
	return nil
}

func (p *Pump) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
