// Package sink provides output sinks that receive encoded frames from the
// pump.
package sink

import (
	"context"
	"fmt"
)

// A Sink consumes the content of one synchronized encode operation per
// call. The data slice is only valid for the duration of the call: the pump
// reuses the bitstream buffer afterwards.
type Sink interface {
	fmt.Stringer
	WriteFrame(ctx context.Context, data []byte) error
}
