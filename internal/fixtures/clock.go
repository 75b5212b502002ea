// Package fixtures holds helpers shared by tests.
package fixtures

import (
	"context"
	"time"

	"github.com/tilinna/clock"
)

// Epoch is the start time of clocks created by this package.
var Epoch = time.Unix(1, 0)

// NewAdvancingClock attaches a mock clock to ctx that jumps straight to the
// next pending timer whenever one is registered, so code blocked on
// clock.After returns immediately in wall time while mock time advances by
// the full duration.  The returned function stops the advancing goroutine.
func NewAdvancingClock(ctx context.Context) (context.Context, *clock.Mock, func()) {
	clck := clock.NewMock(Epoch)
	ctx = clock.Context(ctx, clck)
	ch := make(chan struct{})
	go func() {
		for {
			select {
			case <-ch:
				return
			case <-ctx.Done():
				return
			default:
				if _, d := clck.AddNext(); d == 0 {
					time.Sleep(time.Millisecond)
				}
			}
		}
	}()
	return ctx, clck, func() {
		close(ch)
	}
}

// Elapsed returns how far the clock attached to ctx has moved past Epoch.
func Elapsed(ctx context.Context) time.Duration {
	return clock.FromContext(ctx).Now().Sub(Epoch)
}
