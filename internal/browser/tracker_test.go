// internal/browser/tracker_test.go
package browser

import (
	"context"
	"testing"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestTrackerInflight(t *testing.T) {
	tr := newTracker(zaptest.NewLogger(t))

	tr.handle(&network.EventRequestWillBeSent{RequestID: "1"})
	tr.handle(&network.EventRequestWillBeSent{RequestID: "2"})
	// A redirect re-announces the same ID.
	tr.handle(&network.EventRequestWillBeSent{RequestID: "2"})
	assert.Equal(t, 2, tr.active())

	tr.handle(&network.EventLoadingFinished{RequestID: "1"})
	tr.handle(&network.EventLoadingFailed{RequestID: "2"})
	tr.handle(&network.EventLoadingFinished{RequestID: "unknown"})
	assert.Equal(t, 0, tr.active())
}

func TestTrackerWaitIdle(t *testing.T) {
	t.Run("returns after the quiet period", func(t *testing.T) {
		tr := newTracker(zaptest.NewLogger(t))
		start := time.Now()
		require.NoError(t, tr.waitIdle(context.Background(), 150*time.Millisecond))
		assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	})

	t.Run("waits for in-flight requests", func(t *testing.T) {
		tr := newTracker(zaptest.NewLogger(t))
		tr.handle(&network.EventRequestWillBeSent{RequestID: "slow"})

		go func() {
			time.Sleep(300 * time.Millisecond)
			tr.handle(&network.EventLoadingFinished{RequestID: "slow"})
		}()

		start := time.Now()
		require.NoError(t, tr.waitIdle(context.Background(), 100*time.Millisecond))
		assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
	})

	t.Run("honors the context", func(t *testing.T) {
		tr := newTracker(zaptest.NewLogger(t))
		tr.handle(&network.EventRequestWillBeSent{RequestID: "stuck"})

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, tr.waitIdle(ctx, 50*time.Millisecond), context.DeadlineExceeded)
	})
}

func TestTrackerDownloads(t *testing.T) {
	t.Run("armed waiter receives completion with its filename", func(t *testing.T) {
		tr := newTracker(zaptest.NewLogger(t))
		done, disarm := tr.arm()
		defer disarm()

		tr.handle(&cdpbrowser.EventDownloadWillBegin{GUID: "g1", SuggestedFilename: "petition.pdf"})
		tr.handle(&cdpbrowser.EventDownloadProgress{GUID: "g1", State: cdpbrowser.DownloadProgressStateInProgress})
		tr.handle(&cdpbrowser.EventDownloadProgress{GUID: "g1", State: cdpbrowser.DownloadProgressStateCompleted})

		select {
		case res := <-done:
			assert.NoError(t, res.Err)
			assert.Equal(t, "g1", res.GUID)
			assert.Equal(t, "petition.pdf", res.SuggestedFilename)
		case <-time.After(time.Second):
			t.Fatal("no download result delivered")
		}
	})

	t.Run("canceled download is an error", func(t *testing.T) {
		tr := newTracker(zaptest.NewLogger(t))
		done, disarm := tr.arm()
		defer disarm()

		tr.handle(&cdpbrowser.EventDownloadProgress{GUID: "g2", State: cdpbrowser.DownloadProgressStateCanceled})
		res := <-done
		assert.Error(t, res.Err)
	})

	t.Run("unarmed completions are dropped", func(t *testing.T) {
		tr := newTracker(zaptest.NewLogger(t))
		tr.handle(&cdpbrowser.EventDownloadProgress{GUID: "g3", State: cdpbrowser.DownloadProgressStateCompleted})

		done, disarm := tr.arm()
		defer disarm()
		select {
		case res := <-done:
			t.Fatalf("unexpected stale result %+v", res)
		case <-time.After(50 * time.Millisecond):
		}
	})
}
