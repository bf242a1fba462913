// Package accel defines the boundary to an accelerator encode session: the
// non-blocking submit/synchronize protocol and its status vocabulary.
package accel

import (
	"context"
	"fmt"
	"time"

	"github.com/xaionaro-go/stillenc/bitstream"
	"github.com/xaionaro-go/stillenc/surface"
	"github.com/xaionaro-go/stillenc/types"
)

// SyncToken is an opaque handle representing the pending completion of one
// asynchronous submission that will produce output. A token, once issued,
// must be waited to completion (or the whole session abandoned).
type SyncToken interface {
	fmt.Stringer
}

// Session is an accelerator encode session.
//
// The call order is: Query, Init, QuerySurfaceCount, then any number of
// EncodeFrameAsync/SyncOperation cycles, optionally interleaved with Reset
// (only while no token is outstanding), and finally Close. Close must be
// called before the surface storage is released: the accelerator may still
// reference surfaces internally until then.
type Session interface {
	fmt.Stringer

	// Query asks whether the requested parameters are supported. If not
	// exactly supported the session may substitute a closest-compatible
	// configuration, returned together with ErrIncompatibleParams; the
	// caller must adopt the returned parameters (the error is
	// informational).
	Query(ctx context.Context, params types.EncodeParams) (types.EncodeParams, error)

	// Init performs the one-time session setup.
	Init(ctx context.Context, params types.EncodeParams) error

	// QuerySurfaceCount reports the suggested size of the surface pool for
	// the given parameters.
	QuerySurfaceCount(ctx context.Context, params types.EncodeParams) (int, error)

	// EncodeFrameAsync submits one frame without blocking. A nil surface
	// signals draining: flush buffered frames without new input.
	//
	// A nil error with a non-nil token means output will be available once
	// the token is synchronized. The error is one of: ErrMoreData (no
	// output possible yet; end of stream if draining), ErrBufferTooSmall,
	// ErrDeviceBusy (transient, retry the same submission), ErrDeviceLost
	// (session unusable), or an unrecognized fatal error.
	EncodeFrameAsync(ctx context.Context, surf *surface.Surface, bs *bitstream.Buffer) (SyncToken, error)

	// SyncOperation waits for the operation behind the token for at most
	// one timeout slice. ErrInExecution means the operation is still
	// running and the call should be repeated with the same token.
	SyncOperation(ctx context.Context, token SyncToken, timeout time.Duration) error

	// GetParams reports the currently negotiated parameters.
	GetParams(ctx context.Context) (types.EncodeParams, error)

	// Reset applies new parameters to the live session. It is only valid
	// while no asynchronous operation is outstanding; on failure the
	// session is unusable for further encoding.
	Reset(ctx context.Context, params types.EncodeParams) error

	// Close releases the session.
	Close(ctx context.Context) error
}
