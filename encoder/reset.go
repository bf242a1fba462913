// reset.go implements live reconfiguration of the encode parameters.

package encoder

import (
	"context"
	"fmt"
	"time"

	"github.com/xaionaro-go/xsync"

	"github.com/xaionaro-go/stillenc/logger"
	"github.com/xaionaro-go/stillenc/types"
)

// SetResolution reconfigures the live session to a new frame geometry
// without destroying it.
//
// It must only be invoked while no asynchronous operation is outstanding;
// on failure the session is unusable for further encoding. The returned
// duration is how long the accelerator took to apply the reset.
func (e *Encoder) SetResolution(
	ctx context.Context,
	res types.Resolution,
) (_ret time.Duration, _err error) {
	logger.Debugf(ctx, "SetResolution(ctx, %v)", res)
	defer func() { logger.Debugf(ctx, "/SetResolution(ctx, %v): %v %v", res, _ret, _err) }()
	return xsync.DoA2R2(xsync.WithNoLogging(ctx, true), &e.locker, e.setResolution, ctx, res)
}

func (e *encoderInternals) setResolution(
	ctx context.Context,
	res types.Resolution,
) (time.Duration, error) {
	if e.params == nil {
		return 0, fmt.Errorf("Negotiate was not invoked")
	}

	newParams := *e.params
	newParams.FrameInfo.SetResolution(res)
	return e.reset(ctx, newParams)
}

func (e *encoderInternals) reset(
	ctx context.Context,
	newParams types.EncodeParams,
) (time.Duration, error) {
	oldParams, err := e.Session.GetParams(ctx)
	if err != nil {
		return 0, fmt.Errorf("unable to get the current parameters: %w", err)
	}
	logger.Infof(ctx, "resetting the encoder: %s -> %s", oldParams, newParams)

	tick := time.Now()
	if err := e.Session.Reset(ctx, newParams); err != nil {
		return 0, fmt.Errorf("the encoder reset failed: %w", err)
	}
	resetDuration := time.Since(tick)
	logger.Infof(ctx, "reset time: %.3fms", float64(resetDuration.Microseconds())/1000)

	e.params = &newParams
	return resetDuration, nil
}
