// Package types provides common types used throughout the stillenc project.
package types

import (
	"fmt"
)

type CodecID int

const (
	CodecIDNone = CodecID(iota)
	CodecIDJPEG
)

func (c CodecID) String() string {
	switch c {
	case CodecIDNone:
		return "none"
	case CodecIDJPEG:
		return "jpeg"
	default:
		return fmt.Sprintf("unknown_codec_%d", int(c))
	}
}

type FourCC int

const (
	FourCCNone = FourCC(iota)
	FourCCNV12
)

func (f FourCC) String() string {
	switch f {
	case FourCCNone:
		return "none"
	case FourCCNV12:
		return "nv12"
	default:
		return fmt.Sprintf("unknown_fourcc_%d", int(f))
	}
}

type ChromaFormat int

const (
	ChromaFormatNone = ChromaFormat(iota)
	ChromaFormatYUV420
)

func (c ChromaFormat) String() string {
	switch c {
	case ChromaFormatNone:
		return "none"
	case ChromaFormatYUV420:
		return "yuv420"
	default:
		return fmt.Sprintf("unknown_chroma_format_%d", int(c))
	}
}

// Align16 rounds up to the next multiple of 16, the alignment the
// accelerator requires for frame width and height.
func Align16(v uint32) uint32 {
	return (v + 15) &^ 15
}

// FrameInfo describes the geometry and pixel layout of one frame surface.
//
// Width/Height are the aligned (allocated) dimensions, CropW/CropH the
// visible ones.
type FrameInfo struct {
	FourCC       FourCC
	ChromaFormat ChromaFormat
	CropX        uint32
	CropY        uint32
	CropW        uint32
	CropH        uint32
	Width        uint32
	Height       uint32
}

func (i FrameInfo) String() string {
	return fmt.Sprintf("%s/%s %dx%d (crop: %d,%d %dx%d)", i.FourCC, i.ChromaFormat, i.Width, i.Height, i.CropX, i.CropY, i.CropW, i.CropH)
}

// SetResolution updates the crop rectangle and re-derives the aligned
// dimensions.
func (i *FrameInfo) SetResolution(res Resolution) {
	i.CropW = res.Width
	i.CropH = res.Height
	i.Width = Align16(res.Width)
	i.Height = Align16(res.Height)
}

func (i FrameInfo) Resolution() Resolution {
	return Resolution{Width: i.CropW, Height: i.CropH}
}

// FrameByteSize is the storage size of one frame: for NV12 (4:2:0, one luma
// plane plus one interleaved chroma plane) that is alignedW*alignedH*3/2.
func (i FrameInfo) FrameByteSize() (int, error) {
	switch i.FourCC {
	case FourCCNV12:
		return int(i.Width) * int(i.Height) * 3 / 2, nil
	default:
		return 0, fmt.Errorf("unsupported FourCC: %s", i.FourCC)
	}
}

// EncodeParams is the full set of negotiated encode parameters.
//
// It is mutated only via an explicit Reset request, never concurrently with
// an in-flight submission.
type EncodeParams struct {
	CodecID         CodecID
	FrameInfo       FrameInfo
	FrameRate       uint32
	Quality         uint32
	RestartInterval uint32
	Interleaved     bool
}

func (p EncodeParams) String() string {
	return fmt.Sprintf("%s q%d @%dfps %s", p.CodecID, p.Quality, p.FrameRate, p.FrameInfo)
}
