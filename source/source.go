// Package source provides raw pixel frame sources for the encode pump.
package source

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/stillenc/surface"
)

// A Source supplies raw frames on demand. ReadFrame fills the surface's
// pixel planes and returns io.EOF once the source is exhausted.
type Source interface {
	fmt.Stringer
	ReadFrame(ctx context.Context, surf *surface.Surface) error
	Close(ctx context.Context) error
}
