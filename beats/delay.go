package beats

import (
	"context"
	"fmt"
	"time"

	"github.com/beatflow/beatflow"
)

// Delay builds an asynchronous beat that waits for d, aborting early when
// the run is cancelled.
func Delay(name string, d time.Duration) *beatflow.Beat[Data] {
	return beatflow.NewAsyncBeat(name, func(ctx context.Context, ec *beatflow.Context[Data]) error {
		if d <= 0 {
			return nil
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}).WithDescription(fmt.Sprintf("Waits %s before the next step.", d))
}
