package encoder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xaionaro-go/stillenc/accel"
	"github.com/xaionaro-go/stillenc/types"
)

func testParams(width, height uint32) types.EncodeParams {
	params := types.EncodeParams{
		CodecID:   types.CodecIDJPEG,
		FrameRate: 30,
		Quality:   90,
	}
	params.FrameInfo.FourCC = types.FourCCNV12
	params.FrameInfo.ChromaFormat = types.ChromaFormatYUV420
	params.FrameInfo.SetResolution(types.Resolution{Width: width, Height: height})
	return params
}

func TestEncoderNegotiateAdoptsSubstitutedParams(t *testing.T) {
	ctx := context.Background()

	substituted := testParams(320, 240)
	substituted.Quality = 100
	session := &dummySession{
		QueryFn: func(ctx context.Context, params types.EncodeParams) (types.EncodeParams, error) {
			return substituted, accel.ErrIncompatibleParams{Adjusted: substituted}
		},
	}
	enc := New(ctx, session)

	requested := testParams(320, 240)
	requested.Quality = 250
	effective, err := enc.Negotiate(ctx, requested)
	require.NoError(t, err)
	require.Equal(t, substituted, effective)

	got, err := enc.GetParams(ctx)
	require.NoError(t, err)
	require.Equal(t, substituted, got)
}

func TestEncoderRequiresNegotiate(t *testing.T) {
	ctx := context.Background()
	session := &dummySession{}
	enc := New(ctx, session)

	require.Error(t, enc.Init(ctx))
	_, err := enc.QuerySurfaceCount(ctx)
	require.Error(t, err)
	_, err = enc.GetParams(ctx)
	require.Error(t, err)
	_, err = enc.Submit(ctx, nil, nil)
	require.Error(t, err)
	require.Zero(t, session.InitCallCount)
	require.Zero(t, session.EncodeFrameAsyncCallCount)
}

func TestEncoderInitOnceAfterNegotiate(t *testing.T) {
	ctx := context.Background()
	session := &dummySession{}
	enc := New(ctx, session)

	_, err := enc.Negotiate(ctx, testParams(640, 480))
	require.NoError(t, err)
	require.NoError(t, enc.Init(ctx))
	require.Equal(t, 1, session.InitCallCount)

	count, err := enc.QuerySurfaceCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestEncoderCloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	session := &dummySession{}
	enc := New(ctx, session)

	_, err := enc.Negotiate(ctx, testParams(640, 480))
	require.NoError(t, err)
	require.NoError(t, enc.Init(ctx))

	require.NoError(t, enc.Close(ctx))
	require.NoError(t, enc.Close(ctx))
	require.Equal(t, 1, session.CloseCallCount)
}

func TestEncoderSetResolution(t *testing.T) {
	ctx := context.Background()
	session := &dummySession{}
	enc := New(ctx, session)

	_, err := enc.Negotiate(ctx, testParams(640, 480))
	require.NoError(t, err)
	require.NoError(t, enc.Init(ctx))

	_, err = enc.SetResolution(ctx, types.Resolution{Width: 1280, Height: 720})
	require.NoError(t, err)
	require.Equal(t, 1, session.ResetCallCount)

	got, err := enc.GetParams(ctx)
	require.NoError(t, err)
	require.Equal(t, uint32(1280), got.FrameInfo.CropW)
	require.Equal(t, uint32(720), got.FrameInfo.CropH)
	require.Equal(t, types.Align16(1280), got.FrameInfo.Width)
	require.Equal(t, types.Align16(720), got.FrameInfo.Height)
}

func TestSynchronizerRetriesWhileExecuting(t *testing.T) {
	ctx := context.Background()

	var attempts int
	session := &dummySession{
		SyncOperationFn: func(ctx context.Context, token accel.SyncToken, timeout time.Duration) error {
			attempts++
			if attempts < 3 {
				return accel.ErrInExecution{}
			}
			return nil
		},
	}
	syncer := NewSynchronizer(session)
	syncer.WaitSlice = time.Millisecond

	require.NoError(t, syncer.Wait(ctx, dummyToken{ID: 1}))
	require.Equal(t, 3, attempts)
}

func TestSynchronizerPropagatesFailure(t *testing.T) {
	ctx := context.Background()

	session := &dummySession{
		SyncOperationFn: func(ctx context.Context, token accel.SyncToken, timeout time.Duration) error {
			return accel.ErrDeviceLost{}
		},
	}
	syncer := NewSynchronizer(session)

	err := syncer.Wait(ctx, dummyToken{ID: 2})
	require.Error(t, err)
	require.ErrorAs(t, err, &accel.ErrDeviceLost{})
}
