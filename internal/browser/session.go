// internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ErrSessionClosed is returned by every operation on a closed session.
var ErrSessionClosed = errors.New("browser session is closed")

// Session is one exclusively owned browser process with a single page.
// Selectors passed to its methods are XPath expressions.
type Session struct {
	id          string
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	logger      *zap.Logger
	tracker     *tracker
	downloadDir string

	mu       sync.Mutex
	isClosed bool
	onClose  func()
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

func (s *Session) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isClosed
}

// run executes actions against the page, bounded by both the session
// lifetime and the caller's context.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	if s.closed() {
		return ErrSessionClosed
	}
	opCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()

	if err := chromedp.Run(opCtx, actions...); err != nil {
		// Surface the caller's deadline rather than the derived Canceled.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if s.closed() {
			return ErrSessionClosed
		}
		return err
	}
	return nil
}

// Navigate loads url and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, chromedp.Navigate(url))
}

// WaitVisible blocks until an element matching sel is visible.
func (s *Session) WaitVisible(ctx context.Context, sel string) error {
	return s.run(ctx, chromedp.WaitVisible(sel, chromedp.BySearch))
}

func (s *Session) Clear(ctx context.Context, sel string) error {
	return s.run(ctx, chromedp.Clear(sel, chromedp.BySearch))
}

func (s *Session) SendKeys(ctx context.Context, sel, text string) error {
	return s.run(ctx, chromedp.SendKeys(sel, text, chromedp.BySearch))
}

func (s *Session) Click(ctx context.Context, sel string) error {
	return s.run(ctx, chromedp.Click(sel, chromedp.BySearch, chromedp.NodeVisible))
}

// PressKey dispatches key to whatever element currently has focus. Named
// keys use the values from github.com/chromedp/chromedp/kb.
func (s *Session) PressKey(ctx context.Context, key string) error {
	return s.run(ctx, chromedp.KeyEvent(key))
}

// WaitNetworkIdle waits until the page has had no request in flight for quietPeriod.
func (s *Session) WaitNetworkIdle(ctx context.Context, quietPeriod time.Duration) error {
	if s.closed() {
		return ErrSessionClosed
	}
	opCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	if err := s.tracker.waitIdle(opCtx, quietPeriod); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// Markup returns the whole serialized document, for diagnostic snapshots.
func (s *Session) Markup(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// MarkupPrefix returns at most limit characters of the serialized document.
// The slice happens in the page, so only the prefix crosses the protocol.
// A limit of zero or less reads the whole document.
func (s *Session) MarkupPrefix(ctx context.Context, limit int) (string, error) {
	if limit <= 0 {
		return s.Markup(ctx)
	}
	expr := fmt.Sprintf(`(document.documentElement ? document.documentElement.outerHTML : "").slice(0, %d)`, limit)
	var html string
	if err := s.run(ctx, chromedp.Evaluate(expr, &html)); err != nil {
		return "", err
	}
	return html, nil
}

// Screenshot captures the full page as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Location returns the current page URL.
func (s *Session) Location(ctx context.Context) (string, error) {
	var u string
	if err := s.run(ctx, chromedp.Location(&u)); err != nil {
		return "", err
	}
	return u, nil
}

// Download runs trigger and waits for the download it starts to finish.
// It returns the path of the completed file inside the session's download
// directory; the caller moves it somewhere permanent before Close.
func (s *Session) Download(ctx context.Context, trigger func(context.Context) error) (string, error) {
	if s.closed() {
		return "", ErrSessionClosed
	}
	done, disarm := s.tracker.arm()
	defer disarm()

	if err := trigger(ctx); err != nil {
		return "", fmt.Errorf("download trigger failed: %w", err)
	}

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for download: %w", ctx.Err())
	case <-s.ctx.Done():
		return "", ErrSessionClosed
	case res := <-done:
		if res.Err != nil {
			return "", res.Err
		}
		// AllowAndName stores the file under its GUID.
		path := filepath.Join(s.downloadDir, res.GUID)
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("downloaded file %q missing: %w", res.SuggestedFilename, err)
		}
		s.logger.Debug("Download completed.", zap.String("path", path), zap.String("suggested", res.SuggestedFilename))
		return path, nil
	}
}

// Close shuts down the browser process and removes the download directory.
// It is safe to call more than once; only the first call has an effect.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	onClose := s.onClose
	s.mu.Unlock()

	s.logger.Debug("Closing session.")

	// chromedp.Cancel closes the browser gracefully and waits for the process.
	var closeErr error
	if err := chromedp.Cancel(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
		closeErr = fmt.Errorf("failed to close browser: %w", err)
	}
	s.cancel()
	s.allocCancel()

	if err := os.RemoveAll(s.downloadDir); err != nil && closeErr == nil {
		closeErr = fmt.Errorf("failed to remove download dir: %w", err)
	}
	if onClose != nil {
		onClose()
	}
	return closeErr
}
