// Package bitstream provides the reusable output buffer the accelerator
// fills with encoded data.
package bitstream

import (
	"fmt"
)

// DefaultBufferSize is generous for a single JPEG frame.
const DefaultBufferSize = 2000000

// Buffer is a byte buffer with a fixed maximum length and a used-length
// cursor. The accelerator writes into it during the asynchronous window of a
// submission; the caller reads and Reset-s it only after the corresponding
// synchronization completed.
type Buffer struct {
	data       []byte
	dataLength int
}

func NewBuffer(maxLength int) *Buffer {
	return &Buffer{
		data: make([]byte, maxLength),
	}
}

func (b *Buffer) MaxLength() int {
	return len(b.data)
}

func (b *Buffer) Len() int {
	return b.dataLength
}

// Bytes returns the filled portion of the buffer. The slice aliases the
// buffer's storage and is valid only until the next Reset.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.dataLength]
}

// SetBytes copies p into the buffer, rejecting writes that would exceed the
// buffer's capacity.
func (b *Buffer) SetBytes(p []byte) error {
	if len(p) > len(b.data) {
		return ErrTooSmall{Required: len(p), MaxLength: len(b.data)}
	}
	copy(b.data, p)
	b.dataLength = len(p)
	return nil
}

// Reset marks the buffer free for the next submission. The storage is
// reused, not reallocated.
func (b *Buffer) Reset() {
	b.dataLength = 0
}

func (b *Buffer) String() string {
	return fmt.Sprintf("Bitstream(%d/%d)", b.dataLength, len(b.data))
}

type ErrTooSmall struct {
	Required  int
	MaxLength int
}

func (e ErrTooSmall) Error() string {
	return fmt.Sprintf("the bitstream buffer is too small: need %d bytes, have %d", e.Required, e.MaxLength)
}
