package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAlign16(t *testing.T) {
	require.Equal(t, uint32(0), Align16(0))
	require.Equal(t, uint32(16), Align16(1))
	require.Equal(t, uint32(16), Align16(16))
	require.Equal(t, uint32(320), Align16(320))
	require.Equal(t, uint32(256), Align16(243))
}

func TestFrameByteSize(t *testing.T) {
	info := FrameInfo{
		FourCC: FourCCNV12,
		Width:  320,
		Height: 240,
	}
	size, err := info.FrameByteSize()
	require.NoError(t, err)
	require.Equal(t, 320*240*3/2, size)

	info.FourCC = FourCCNone
	_, err = info.FrameByteSize()
	require.Error(t, err)
}

func TestSetResolution(t *testing.T) {
	info := FrameInfo{
		FourCC:       FourCCNV12,
		ChromaFormat: ChromaFormatYUV420,
	}
	info.SetResolution(Resolution{Width: 322, Height: 243})
	require.Equal(t, uint32(322), info.CropW)
	require.Equal(t, uint32(243), info.CropH)
	require.Equal(t, uint32(336), info.Width)
	require.Equal(t, uint32(256), info.Height)
	require.Equal(t, Resolution{Width: 322, Height: 243}, info.Resolution())
}
