// internal/browser/launcher.go
package browser

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/petitionfetch/internal/config"
)

// Launcher starts isolated browser sessions and tracks the ones still open.
type Launcher struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	wg       sync.WaitGroup
}

// NewLauncher creates a launcher. No browser is started until Launch.
func NewLauncher(cfg config.BrowserConfig, logger *zap.Logger) *Launcher {
	return &Launcher{
		cfg:      cfg,
		logger:   logger.Named("launcher"),
		sessions: make(map[string]*Session),
	}
}

// Launch starts a fresh browser process with its own temporary profile and
// download directory and returns a session on its single page.
func (l *Launcher) Launch(ctx context.Context) (*Session, error) {
	execPath, err := FindExecPath(l.cfg.ExecPath)
	if err != nil {
		return nil, err
	}

	downloadDir, err := os.MkdirTemp("", "petitionfetch-dl-")
	if err != nil {
		return nil, fmt.Errorf("failed to create download dir: %w", err)
	}

	id := uuid.NewString()
	logger := l.logger.With(zap.String("session_id", id))

	// The browser must outlive the caller's context, so the allocator is
	// rooted at Background and bounded only by Close.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), execOptions(l.cfg, execPath)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(logger.Sugar().Debugf),
		chromedp.WithErrorf(logger.Sugar().Debugf),
	)

	s := &Session{
		id:          id,
		ctx:         tabCtx,
		cancel:      tabCancel,
		allocCancel: allocCancel,
		logger:      logger,
		tracker:     newTracker(logger),
		downloadDir: downloadDir,
	}

	l.wg.Add(1)
	s.onClose = func() {
		l.mu.Lock()
		delete(l.sessions, id)
		l.mu.Unlock()
		l.wg.Done()
		logger.Debug("Session removed from launcher.")
	}

	if err := l.start(ctx, s); err != nil {
		_ = s.Close()
		return nil, err
	}

	l.mu.Lock()
	l.sessions[id] = s
	l.mu.Unlock()

	logger.Info("Browser session launched.", zap.String("exec_path", execPath))
	return s, nil
}

// start allocates the browser and prepares the page. The first chromedp.Run
// on a new context owns the browser, so it runs on the session context
// itself and the launch deadline is enforced from outside.
func (l *Launcher) start(ctx context.Context, s *Session) error {
	timeout := l.cfg.LaunchTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	errc := make(chan error, 1)
	go func() { errc <- chromedp.Run(s.ctx) }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("failed to start browser: %w", err)
		}
	case <-timer.C:
		s.cancel()
		<-errc
		return fmt.Errorf("browser did not start within %s", timeout)
	case <-ctx.Done():
		s.cancel()
		<-errc
		return ctx.Err()
	}

	s.tracker.listen(s.ctx)
	setup := chromedp.Tasks{
		network.Enable(),
		cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(s.downloadDir).
			WithEventsEnabled(true),
	}
	if err := s.run(ctx, setup); err != nil {
		return fmt.Errorf("failed to prepare page: %w", err)
	}
	return nil
}

// Active returns the number of sessions that have not been closed yet.
func (l *Launcher) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}

// Shutdown closes every open session and waits for them to finish, or for ctx.
func (l *Launcher) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	open := make([]*Session, 0, len(l.sessions))
	for _, s := range l.sessions {
		open = append(open, s)
	}
	l.mu.Unlock()

	for _, s := range open {
		if err := s.Close(); err != nil {
			l.logger.Warn("Error closing session during shutdown.", zap.String("session_id", s.ID()), zap.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		l.logger.Info("All browser sessions closed.")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for browser sessions to close: %w", ctx.Err())
	}
}
