// internal/browser/context_utils_test.go
package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ctxKey string

const (
	testKey   ctxKey = "target"
	testValue        = "tab-1"
)

func TestCombineContext(t *testing.T) {
	t.Run("InheritsValuesFromSessionContext", func(t *testing.T) {
		sessionCtx := context.WithValue(context.Background(), testKey, testValue)

		combined, cancel := CombineContext(sessionCtx, context.Background())
		defer cancel()

		assert.Equal(t, testValue, combined.Value(testKey))
		assert.NoError(t, combined.Err())
	})

	t.Run("CancelledWhenSessionEnds", func(t *testing.T) {
		sessionCtx, endSession := context.WithCancel(context.Background())
		combined, cancel := CombineContext(sessionCtx, context.Background())
		defer cancel()

		endSession()
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})

	t.Run("CancelledWhenCallerGivesUp", func(t *testing.T) {
		opCtx, stop := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer stop()

		combined, cancel := CombineContext(context.Background(), opCtx)
		defer cancel()

		assert.Eventually(t, func() bool { return combined.Err() != nil }, time.Second, 5*time.Millisecond)
		// The caller's deadline surfaces as Canceled on the combined context.
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})

	t.Run("KeepsSessionDeadline", func(t *testing.T) {
		deadline := time.Now().Add(time.Minute)
		sessionCtx, stop := context.WithDeadline(context.Background(), deadline)
		defer stop()

		combined, cancel := CombineContext(sessionCtx, context.Background())
		defer cancel()

		got, ok := combined.Deadline()
		require.True(t, ok)
		assert.Equal(t, deadline, got)
	})
}

func TestDetach(t *testing.T) {
	t.Run("KeepsValuesDropsCancellation", func(t *testing.T) {
		parent, cancel := context.WithCancel(context.WithValue(context.Background(), testKey, testValue))
		detached := Detach(parent)
		cancel()

		assert.ErrorIs(t, parent.Err(), context.Canceled)
		assert.Equal(t, testValue, detached.Value(testKey))
		assert.NoError(t, detached.Err())
		assert.Nil(t, detached.Done())
	})

	t.Run("DropsDeadline", func(t *testing.T) {
		parent, cancel := context.WithTimeout(context.Background(), time.Millisecond)
		defer cancel()
		<-parent.Done()

		detached := Detach(parent)
		_, ok := detached.Deadline()
		assert.False(t, ok)
		assert.NoError(t, detached.Err())
	})

	t.Run("DerivedTimeoutStillApplies", func(t *testing.T) {
		parent, cancel := context.WithCancel(context.Background())
		cancel()

		derived, stop := context.WithTimeout(Detach(parent), 20*time.Millisecond)
		defer stop()
		<-derived.Done()
		assert.ErrorIs(t, derived.Err(), context.DeadlineExceeded)
	})
}
