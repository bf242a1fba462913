// pool.go implements the fixed-size surface pool backed by one contiguous arena.

package surface

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/xaionaro-go/stillenc/logger"
	"github.com/xaionaro-go/stillenc/types"
)

// Pool owns the storage of a fixed set of surfaces, sized to the
// accelerator's suggested frame count for the current parameters.
//
// The pool hands out surfaces via FindFree; it never hands out a locked one.
// The arena is released as a whole when the pool is rebuilt or dropped,
// which ties the lifetime of every surface to the pool.
type Pool struct {
	arena    []byte
	surfaces []*Surface
}

func NewPool(
	ctx context.Context,
	count int,
	info types.FrameInfo,
) (_ret *Pool, _err error) {
	logger.Tracef(ctx, "NewPool(ctx, %d, %s)", count, info)
	defer func() { logger.Tracef(ctx, "/NewPool(ctx, %d, %s): %v", count, info, _err) }()
	if count <= 0 {
		return nil, fmt.Errorf("invalid surface count: %d", count)
	}

	p := &Pool{}
	if err := p.alloc(ctx, count, info); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pool) alloc(
	ctx context.Context,
	count int,
	info types.FrameInfo,
) error {
	frameSize, err := info.FrameByteSize()
	if err != nil {
		return fmt.Errorf("unable to compute the frame size: %w", err)
	}

	lumaSize := int(info.Width) * int(info.Height)
	p.arena = make([]byte, frameSize*count)
	p.surfaces = make([]*Surface, count)
	for idx := range p.surfaces {
		storage := p.arena[idx*frameSize : (idx+1)*frameSize]
		p.surfaces[idx] = &Surface{
			Info:  info,
			Y:     storage[:lumaSize],
			UV:    storage[lumaSize:],
			index: idx,
		}
	}
	logger.Debugf(ctx, "allocated %d surfaces of %s each (%s total)", count, humanize.IBytes(uint64(frameSize)), humanize.IBytes(uint64(len(p.arena))))
	return nil
}

func (p *Pool) Count() int {
	return len(p.surfaces)
}

func (p *Pool) LockedCount() int {
	result := 0
	for _, s := range p.surfaces {
		if s.IsLocked() {
			result++
		}
	}
	return result
}

// FindFree scans for the first surface not owned by an in-flight operation.
//
// Exhaustion is not a backpressure condition here: the pool is sized to the
// accelerator's own suggested minimum, so it signals a protocol violation.
func (p *Pool) FindFree(ctx context.Context) (*Surface, error) {
	for _, s := range p.surfaces {
		if !s.IsLocked() {
			return s, nil
		}
	}
	return nil, ErrNoFreeSurface{PoolSize: len(p.surfaces)}
}

// Rebuild replaces the pool's surfaces and storage against a newly
// negotiated surface count and frame geometry.
//
// It must only be called when no operation is in flight: the accelerator may
// still reference the old storage until its outstanding work synchronized.
func (p *Pool) Rebuild(
	ctx context.Context,
	count int,
	info types.FrameInfo,
) (_err error) {
	logger.Debugf(ctx, "Rebuild(ctx, %d, %s)", count, info)
	defer func() { logger.Debugf(ctx, "/Rebuild(ctx, %d, %s): %v", count, info, _err) }()
	if count <= 0 {
		return fmt.Errorf("invalid surface count: %d", count)
	}
	if lockedCount := p.LockedCount(); lockedCount != 0 {
		return fmt.Errorf("unable to rebuild the pool: %d surface(s) are still in flight", lockedCount)
	}
	return p.alloc(ctx, count, info)
}

func (p *Pool) String() string {
	return fmt.Sprintf("Pool(%d surfaces, %d locked)", p.Count(), p.LockedCount())
}

type ErrNoFreeSurface struct {
	PoolSize int
}

func (e ErrNoFreeSurface) Error() string {
	return fmt.Sprintf("all %d surfaces are locked by in-flight operations", e.PoolSize)
}
