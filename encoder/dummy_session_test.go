package encoder

import (
	"context"
	"fmt"
	"time"

	"github.com/xaionaro-go/stillenc/accel"
	"github.com/xaionaro-go/stillenc/bitstream"
	"github.com/xaionaro-go/stillenc/surface"
	"github.com/xaionaro-go/stillenc/types"
)

// dummySession is a scriptable accel.Session for tests.
type dummySession struct {
	QueryFn             func(ctx context.Context, params types.EncodeParams) (types.EncodeParams, error)
	InitFn              func(ctx context.Context, params types.EncodeParams) error
	QuerySurfaceCountFn func(ctx context.Context, params types.EncodeParams) (int, error)
	EncodeFrameAsyncFn  func(ctx context.Context, surf *surface.Surface, bs *bitstream.Buffer) (accel.SyncToken, error)
	SyncOperationFn     func(ctx context.Context, token accel.SyncToken, timeout time.Duration) error
	GetParamsFn         func(ctx context.Context) (types.EncodeParams, error)
	ResetFn             func(ctx context.Context, params types.EncodeParams) error
	CloseFn             func(ctx context.Context) error

	QueryCallCount             int
	InitCallCount              int
	QuerySurfaceCountCallCount int
	EncodeFrameAsyncCallCount  int
	SyncOperationCallCount     int
	ResetCallCount             int
	CloseCallCount             int

	params types.EncodeParams
}

var _ accel.Session = (*dummySession)(nil)

func (s *dummySession) String() string {
	return "dummy"
}

func (s *dummySession) Query(ctx context.Context, params types.EncodeParams) (types.EncodeParams, error) {
	s.QueryCallCount++
	if s.QueryFn != nil {
		return s.QueryFn(ctx, params)
	}
	return params, nil
}

func (s *dummySession) Init(ctx context.Context, params types.EncodeParams) error {
	s.InitCallCount++
	s.params = params
	if s.InitFn != nil {
		return s.InitFn(ctx, params)
	}
	return nil
}

func (s *dummySession) QuerySurfaceCount(ctx context.Context, params types.EncodeParams) (int, error) {
	s.QuerySurfaceCountCallCount++
	if s.QuerySurfaceCountFn != nil {
		return s.QuerySurfaceCountFn(ctx, params)
	}
	return 2, nil
}

func (s *dummySession) EncodeFrameAsync(ctx context.Context, surf *surface.Surface, bs *bitstream.Buffer) (accel.SyncToken, error) {
	s.EncodeFrameAsyncCallCount++
	if s.EncodeFrameAsyncFn != nil {
		return s.EncodeFrameAsyncFn(ctx, surf, bs)
	}
	return nil, accel.ErrMoreData{}
}

func (s *dummySession) SyncOperation(ctx context.Context, token accel.SyncToken, timeout time.Duration) error {
	s.SyncOperationCallCount++
	if s.SyncOperationFn != nil {
		return s.SyncOperationFn(ctx, token, timeout)
	}
	return nil
}

func (s *dummySession) GetParams(ctx context.Context) (types.EncodeParams, error) {
	if s.GetParamsFn != nil {
		return s.GetParamsFn(ctx)
	}
	return s.params, nil
}

func (s *dummySession) Reset(ctx context.Context, params types.EncodeParams) error {
	s.ResetCallCount++
	s.params = params
	if s.ResetFn != nil {
		return s.ResetFn(ctx, params)
	}
	return nil
}

func (s *dummySession) Close(ctx context.Context) error {
	s.CloseCallCount++
	if s.CloseFn != nil {
		return s.CloseFn(ctx)
	}
	return nil
}

type dummyToken struct {
	ID int
}

var _ accel.SyncToken = dummyToken{}

func (t dummyToken) String() string {
	return fmt.Sprintf("DummyToken(%d)", t.ID)
}
