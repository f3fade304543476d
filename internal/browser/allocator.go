// internal/browser/allocator.go
package browser

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/petitionfetch/internal/config"
)

// ErrRuntimeUnavailable is returned when no Chrome or Chromium executable can be found.
var ErrRuntimeUnavailable = errors.New("browser runtime unavailable")

// execCandidates is the lookup order used when browser.exec_path is unset.
var execCandidates = []string{
	"headless-shell",
	"chromium",
	"chromium-browser",
	"google-chrome",
	"google-chrome-stable",
	"google-chrome-beta",
	"chrome",
}

// FindExecPath resolves the browser executable. A configured path must exist;
// otherwise the PATH and the platform's usual install locations are searched.
func FindExecPath(configured string) (string, error) {
	if configured != "" {
		if _, err := os.Stat(configured); err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrRuntimeUnavailable, configured, err)
		}
		return configured, nil
	}

	for _, name := range execCandidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}

	for _, path := range platformPaths() {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: none of %s found on PATH", ErrRuntimeUnavailable, strings.Join(execCandidates, ", "))
}

func platformPaths() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		}
	case "windows":
		return []string{
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
		}
	default:
		return []string{"/usr/bin/chromium", "/usr/bin/google-chrome", "/snap/bin/chromium"}
	}
}

// execOptions builds the allocator options for one isolated browser process.
// chromedp gives each allocator its own temporary user data dir, which is
// removed when the allocator is cancelled.
func execOptions(cfg config.BrowserConfig, execPath string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:0:0], chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.ExecPath(execPath),
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(cfg.Viewport.Width, cfg.Viewport.Height),
	)

	// DefaultExecAllocatorOptions already contains Headless.
	if !cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.DisableGPU {
		opts = append(opts, chromedp.DisableGPU)
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	for _, arg := range cfg.Args {
		key, value, hasValue := strings.Cut(arg, "=")
		key = strings.TrimPrefix(key, "--")
		if key == "" {
			continue
		}
		if !hasValue {
			opts = append(opts, chromedp.Flag(key, true))
			continue
		}
		opts = append(opts, chromedp.Flag(key, value))
	}
	return opts
}
