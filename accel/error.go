package accel

import (
	"fmt"

	"github.com/xaionaro-go/stillenc/types"
)

// ErrMoreData means the session needs more input frames before it can
// produce any output. While draining it is the designed end-of-stream
// signal, not an error.
type ErrMoreData struct{}

func (ErrMoreData) Error() string {
	return "more input data is required to produce output"
}

// ErrInExecution means the operation behind a sync token is still running;
// the wait should be repeated with the same token.
type ErrInExecution struct{}

func (ErrInExecution) Error() string {
	return "the operation is still executing"
}

// ErrBufferTooSmall means the provided output buffer cannot hold the
// encoded result.
type ErrBufferTooSmall struct {
	Required  int
	MaxLength int
}

func (e ErrBufferTooSmall) Error() string {
	return fmt.Sprintf("the output buffer is too small: need %d bytes, have %d", e.Required, e.MaxLength)
}

// ErrDeviceBusy is transient: the accelerator queue is full; retry the same
// submission after a short delay.
type ErrDeviceBusy struct{}

func (ErrDeviceBusy) Error() string {
	return "the device is busy"
}

// ErrDeviceLost is unrecoverable for the session; the caller must tear down
// (and optionally reinitialize from scratch).
type ErrDeviceLost struct {
	Err error
}

func (e ErrDeviceLost) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("the device was lost: %v", e.Err)
	}
	return "the device was lost"
}

func (e ErrDeviceLost) Unwrap() error {
	return e.Err
}

// ErrIncompatibleParams is informational: the requested parameters are not
// supported exactly and the session substituted the closest-compatible
// configuration, carried in Adjusted.
type ErrIncompatibleParams struct {
	Adjusted types.EncodeParams
}

func (e ErrIncompatibleParams) Error() string {
	return fmt.Sprintf("the requested parameters were substituted with a compatible configuration: %s", e.Adjusted)
}

// ErrNotInitialized means an operation was invoked before Init (or after
// Close).
type ErrNotInitialized struct{}

func (ErrNotInitialized) Error() string {
	return "the session is not initialized"
}

// ErrOperationInFlight means a precondition requiring no outstanding
// asynchronous operation was violated (e.g. Reset mid-submission).
type ErrOperationInFlight struct {
	Count int
}

func (e ErrOperationInFlight) Error() string {
	return fmt.Sprintf("%d asynchronous operation(s) are still in flight", e.Count)
}
