// Package surface provides the reusable input frame buffers (surfaces) and
// the fixed-size pool that owns their storage.
package surface

import (
	"fmt"

	"go.uber.org/atomic"

	"github.com/xaionaro-go/stillenc/types"
)

// Surface is one reusable pixel buffer plus its format metadata.
//
// Y and UV are views into the owning pool's arena: the luma plane and the
// interleaved chroma plane of an NV12 frame. The lock flag means "currently
// owned by an in-flight accelerator operation"; it is set by the accelerator
// on submission and cleared from the accelerator's execution context once
// the operation completed, hence the atomic.
type Surface struct {
	Info   types.FrameInfo
	Y      []byte
	UV     []byte
	index  int
	locked atomic.Bool
}

func (s *Surface) Index() int {
	return s.index
}

func (s *Surface) IsLocked() bool {
	return s.locked.Load()
}

// Lock marks the surface as owned by an in-flight operation.
func (s *Surface) Lock() {
	s.locked.Store(true)
}

// Unlock returns the surface to the free state.
func (s *Surface) Unlock() {
	s.locked.Store(false)
}

func (s *Surface) String() string {
	return fmt.Sprintf("Surface#%d(%s, locked:%t)", s.index, s.Info, s.IsLocked())
}
