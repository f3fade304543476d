// internal/diagnostics/diagnostics.go
package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/petitionfetch/internal/browser"
	"github.com/xkilldash9x/petitionfetch/internal/config"
)

const timestampLayout = "20060102T150405.000Z"

// Snapshotter is the page state a capture records.
type Snapshotter interface {
	Markup(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

// Artifact describes the files written for one failure. A path is empty when
// that part of the capture failed.
type Artifact struct {
	Tag            string    `json:"tag"`
	HTMLPath       string    `json:"html_path,omitempty"`
	ScreenshotPath string    `json:"screenshot_path,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Store writes failure snapshots into a directory.
type Store struct {
	dir     string
	timeout time.Duration
	enabled bool
	logger  *zap.Logger
	now     func() time.Time
}

// NewStore creates a Store from configuration. The directory is created on
// first capture.
func NewStore(cfg config.DiagnosticsConfig, logger *zap.Logger) *Store {
	return &Store{
		dir:     cfg.Dir,
		timeout: cfg.Timeout,
		enabled: cfg.Enabled,
		logger:  logger.Named("diagnostics"),
		now:     time.Now,
	}
}

// Tag builds a collision-resistant name: label, UTC timestamp, and eight hex
// characters of a random UUID.
func (s *Store) Tag(label string) (string, time.Time) {
	ts := s.now().UTC()
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%s_%s", sanitizeLabel(label), ts.Format(timestampLayout), suffix), ts
}

// Capture writes <tag>.html and <tag>.png for page. It runs on a context
// detached from ctx's cancellation, bounded by the configured timeout, so a
// step that failed by timing out can still be recorded. Whatever was
// written is returned along with any error, which is for logging only.
func (s *Store) Capture(ctx context.Context, page Snapshotter, label string) (*Artifact, error) {
	if s == nil || !s.enabled {
		return nil, nil
	}

	captureCtx := browser.Detach(ctx)
	if s.timeout > 0 {
		var cancel context.CancelFunc
		captureCtx, cancel = context.WithTimeout(captureCtx, s.timeout)
		defer cancel()
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create diagnostics dir: %w", err)
	}

	tag, ts := s.Tag(label)
	art := &Artifact{Tag: tag, Timestamp: ts}
	var errs []error

	if html, err := page.Markup(captureCtx); err != nil {
		errs = append(errs, fmt.Errorf("markup: %w", err))
	} else {
		path := filepath.Join(s.dir, tag+".html")
		if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
			errs = append(errs, fmt.Errorf("write html: %w", err))
		} else {
			art.HTMLPath = path
		}
	}

	if png, err := page.Screenshot(captureCtx); err != nil {
		errs = append(errs, fmt.Errorf("screenshot: %w", err))
	} else {
		path := filepath.Join(s.dir, tag+".png")
		if err := os.WriteFile(path, png, 0o644); err != nil {
			errs = append(errs, fmt.Errorf("write screenshot: %w", err))
		} else {
			art.ScreenshotPath = path
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		s.logger.Warn("Diagnostic capture incomplete.", zap.String("tag", tag), zap.Error(err))
	} else {
		s.logger.Info("Diagnostics captured.", zap.String("tag", tag), zap.String("dir", s.dir))
	}
	if art.HTMLPath == "" && art.ScreenshotPath == "" {
		return nil, err
	}
	return art, err
}

// sanitizeLabel keeps tags safe to use as file names.
func sanitizeLabel(label string) string {
	if label == "" {
		return "failure"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, label)
}
