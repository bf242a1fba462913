// synchronizer.go bridges asynchronous submissions into a synchronous
// consumption point.

package encoder

import (
	"context"
	"errors"
	"time"

	"github.com/xaionaro-go/stillenc/accel"
	"github.com/xaionaro-go/stillenc/logger"
)

// DefaultWaitSlice bounds one poll of a pending operation.
const DefaultWaitSlice = 100 * time.Millisecond

// Synchronizer waits for a previously submitted asynchronous operation to
// complete, polling in bounded slices.
//
// A token cannot be cancelled mid-wait: it is either waited to completion
// or the whole session is abandoned. Cancelling ctx is the latter.
type Synchronizer struct {
	Session   accel.Session
	WaitSlice time.Duration
}

func NewSynchronizer(session accel.Session) *Synchronizer {
	return &Synchronizer{
		Session:   session,
		WaitSlice: DefaultWaitSlice,
	}
}

// Wait blocks until the operation behind the token completes, re-invoking
// the session's wait with the same token while it reports "still
// executing".
func (s *Synchronizer) Wait(
	ctx context.Context,
	token accel.SyncToken,
) (_err error) {
	logger.Tracef(ctx, "Wait(ctx, %v)", token)
	defer func() { logger.Tracef(ctx, "/Wait(ctx, %v): %v", token, _err) }()
	for {
		err := s.Session.SyncOperation(ctx, token, s.WaitSlice)
		if errors.As(err, &accel.ErrInExecution{}) {
			logger.Debugf(ctx, "the operation %v is still executing", token)
			if err := ctx.Err(); err != nil {
				return err
			}
			continue
		}
		return err
	}
}
