// internal/browser/tracker.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const networkIdleCheckFrequency = 100 * time.Millisecond

// downloadResult is the terminal state of one browser download.
type downloadResult struct {
	GUID              string
	SuggestedFilename string
	Err               error
}

// tracker follows in-flight requests and download progress for one page.
type tracker struct {
	logger *zap.Logger

	mu       sync.Mutex
	inflight map[network.RequestID]struct{}
	// names holds suggested filenames by download GUID.
	names map[string]string
	// waiter receives the next finished download while a Download call is armed.
	waiter chan downloadResult
}

func newTracker(logger *zap.Logger) *tracker {
	return &tracker{
		logger:   logger.Named("tracker"),
		inflight: make(map[network.RequestID]struct{}),
		names:    make(map[string]string),
	}
}

func (t *tracker) listen(ctx context.Context) {
	chromedp.ListenTarget(ctx, t.handle)
}

func (t *tracker) handle(ev interface{}) {
	switch ev := ev.(type) {
	case *network.EventRequestWillBeSent:
		// Redirects reuse the request ID, so the set stays consistent.
		t.mu.Lock()
		t.inflight[ev.RequestID] = struct{}{}
		t.mu.Unlock()
	case *network.EventLoadingFinished:
		t.finish(ev.RequestID)
	case *network.EventLoadingFailed:
		t.finish(ev.RequestID)
	case *cdpbrowser.EventDownloadWillBegin:
		t.mu.Lock()
		t.names[ev.GUID] = ev.SuggestedFilename
		t.mu.Unlock()
		t.logger.Debug("Download started.", zap.String("guid", ev.GUID), zap.String("filename", ev.SuggestedFilename))
	case *cdpbrowser.EventDownloadProgress:
		switch ev.State {
		case cdpbrowser.DownloadProgressStateCompleted:
			t.deliver(downloadResult{GUID: ev.GUID})
		case cdpbrowser.DownloadProgressStateCanceled:
			t.deliver(downloadResult{GUID: ev.GUID, Err: fmt.Errorf("download %s was canceled by the browser", ev.GUID)})
		}
	}
}

func (t *tracker) finish(id network.RequestID) {
	t.mu.Lock()
	delete(t.inflight, id)
	t.mu.Unlock()
}

func (t *tracker) active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}

func (t *tracker) deliver(res downloadResult) {
	t.mu.Lock()
	res.SuggestedFilename = t.names[res.GUID]
	delete(t.names, res.GUID)
	waiter := t.waiter
	t.mu.Unlock()

	if waiter == nil {
		t.logger.Debug("Download finished with nobody waiting.", zap.String("guid", res.GUID))
		return
	}
	select {
	case waiter <- res:
	default:
	}
}

// arm registers a waiter for the next finished download. The returned
// function must be called to disarm it.
func (t *tracker) arm() (<-chan downloadResult, func()) {
	ch := make(chan downloadResult, 1)
	t.mu.Lock()
	t.waiter = ch
	t.mu.Unlock()
	return ch, func() {
		t.mu.Lock()
		if t.waiter == ch {
			t.waiter = nil
		}
		t.mu.Unlock()
	}
}

// waitIdle blocks until no request has been in flight for quietPeriod.
func (t *tracker) waitIdle(ctx context.Context, quietPeriod time.Duration) error {
	timer := time.NewTimer(quietPeriod)
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	defer timer.Stop()

	isIdle := false
	ticker := time.NewTicker(networkIdleCheckFrequency)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if t.active() > 0 {
				if isIdle {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					isIdle = false
				}
				continue
			}
			if !isIdle {
				timer.Reset(quietPeriod)
				isIdle = true
			}
		case <-timer.C:
			return nil
		}
	}
}
