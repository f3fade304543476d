// internal/browser/context_utils.go
package browser

import (
	"context"
	"time"
)

// CombineContext derives from ctx1, which carries the chromedp target, and
// additionally cancels when ctx2, the caller's operational context, is done.
func CombineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(ctx1)

	go func() {
		select {
		case <-ctx2.Done():
			cancel()
		case <-combinedCtx.Done():
		}
	}()

	return combinedCtx, cancel
}

type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                    { return nil }
func (valueOnlyContext) Err() error                               { return nil }

// Detach returns a context that keeps ctx's values but ignores its deadline
// and cancellation. Failure snapshots use it so they still run after the
// step that failed has timed out.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
