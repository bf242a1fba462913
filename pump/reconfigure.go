// reconfigure.go implements the live parameter reset path.

package pump

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/stillenc/logger"
)

// reconfigure applies a live parameter reset: the engine session is reset
// to the new geometry, the surface requirement is re-queried and the pool
// is rebuilt against the newly negotiated surface count and frame format.
//
// This is only entered right after a successful synchronization, so no
// asynchronous operation references the old pool's storage.
func (p *Pump) reconfigure(
	ctx context.Context,
	req ReconfigureRequest,
) (_err error) {
	logger.Debugf(ctx, "reconfigure(ctx, %v)", req.Resolution)
	defer func() { logger.Debugf(ctx, "/reconfigure(ctx, %v): %v", req.Resolution, _err) }()
	p.state = StateReconfiguring
	defer func() {
		if _err == nil {
			p.state = StateFeeding
		}
	}()

	if req.NewSource != nil {
		if err := p.Source.Close(ctx); err != nil {
			logger.Errorf(ctx, "unable to close the old source %s: %v", p.Source, err)
		}
		p.Source = req.NewSource
	}

	if _, err := p.Encoder.SetResolution(ctx, req.Resolution); err != nil {
		return fmt.Errorf("unable to apply the new resolution %v: %w", req.Resolution, err)
	}

	surfaceCount, err := p.Encoder.QuerySurfaceCount(ctx)
	if err != nil {
		return fmt.Errorf("unable to re-query the surface requirement: %w", err)
	}
	params, err := p.Encoder.GetParams(ctx)
	if err != nil {
		return fmt.Errorf("unable to get the new parameters: %w", err)
	}
	if err := p.Pool.Rebuild(ctx, surfaceCount, params.FrameInfo); err != nil {
		return fmt.Errorf("unable to rebuild the surface pool: %w", err)
	}
	return nil
}
