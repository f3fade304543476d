// internal/browser/allocator_test.go
package browser

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/petitionfetch/internal/config"
)

// hasOption reports whether any option's printed form contains substring.
// Allocator options are closures, so this is the only browser-free probe.
func hasOption(opts []chromedp.ExecAllocatorOption, substring string) bool {
	for _, opt := range opts {
		if strings.Contains(fmt.Sprintf("%#v", opt), substring) {
			return true
		}
	}
	return false
}

func TestExecOptions(t *testing.T) {
	base := config.NewDefaultConfig().Browser

	t.Run("adds the container-safe defaults", func(t *testing.T) {
		opts := execOptions(base, "/usr/bin/chromium")
		assert.Greater(t, len(opts), len(chromedp.DefaultExecAllocatorOptions))
	})

	t.Run("does not mutate the package defaults", func(t *testing.T) {
		before := len(chromedp.DefaultExecAllocatorOptions)
		_ = execOptions(base, "/usr/bin/chromium")
		_ = execOptions(base, "/usr/bin/chromium")
		assert.Len(t, chromedp.DefaultExecAllocatorOptions, before)
	})

	t.Run("extra args add one option each", func(t *testing.T) {
		withArgs := base
		withArgs.Args = []string{"--no-zygote", "lang=en-US", "--", ""}
		plain := execOptions(base, "/usr/bin/chromium")
		extended := execOptions(withArgs, "/usr/bin/chromium")
		assert.Len(t, extended, len(plain)+2, "empty flag names are skipped")
	})

	t.Run("headful adds an override", func(t *testing.T) {
		headful := base
		headful.Headless = false
		assert.Len(t, execOptions(headful, "x"), len(execOptions(base, "x"))+1)
	})
}

func TestFindExecPath(t *testing.T) {
	t.Run("configured path must exist", func(t *testing.T) {
		_, err := FindExecPath(filepath.Join(t.TempDir(), "no-such-chrome"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRuntimeUnavailable)
	})

	t.Run("configured path is returned verbatim", func(t *testing.T) {
		fake := filepath.Join(t.TempDir(), "chrome")
		require.NoError(t, os.WriteFile(fake, []byte("#!/bin/sh\n"), 0o755))
		got, err := FindExecPath(fake)
		require.NoError(t, err)
		assert.Equal(t, fake, got)
	})

	t.Run("empty PATH reports the runtime as unavailable", func(t *testing.T) {
		t.Setenv("PATH", t.TempDir())
		if _, err := FindExecPath(""); err != nil {
			assert.ErrorIs(t, err, ErrRuntimeUnavailable)
		}
	})
}
