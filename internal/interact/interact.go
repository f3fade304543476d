// internal/interact/interact.go
package interact

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/petitionfetch/internal/config"
)

// Driver is the raw page control surface the primitives wrap.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Clear(ctx context.Context, sel string) error
	SendKeys(ctx context.Context, sel, text string) error
	Click(ctx context.Context, sel string) error
	PressKey(ctx context.Context, key string) error
	WaitNetworkIdle(ctx context.Context, quietPeriod time.Duration) error
}

// transientMarkers are driver error fragments that mean the DOM or the
// execution context moved underneath the action.
var transientMarkers = []string{
	"could not find node",
	"no node with given id",
	"node is detached",
	"cannot find context with specified id",
	"execution context was destroyed",
	"inspected target navigated or closed",
	"navigation interrupted",
	"net::err_aborted",
}

// IsTransient reports whether err is worth exactly one retry. Context
// errors never are.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Primitives performs page actions with a settle delay afterwards and one
// retry on transient driver errors.
type Primitives struct {
	driver        Driver
	settle        time.Duration
	keyDelay      time.Duration
	actionTimeout time.Duration
	quietPeriod   time.Duration
	idleTimeout   time.Duration
	navTimeout    time.Duration
	logger        *zap.Logger
}

// New creates the primitives for one page.
func New(driver Driver, cfg *config.Config, logger *zap.Logger) *Primitives {
	return &Primitives{
		driver:        driver,
		settle:        cfg.Interaction.SettleDelay,
		keyDelay:      cfg.Interaction.KeyDelay,
		actionTimeout: cfg.Interaction.ActionTimeout,
		quietPeriod:   cfg.Network.PostLoadWait,
		idleTimeout:   cfg.Network.IdleTimeout,
		navTimeout:    cfg.Network.NavigationTimeout,
		logger:        logger.Named("interact"),
	}
}

// do runs action, retrying once on a transient error, then waits the settle delay.
func (p *Primitives) do(ctx context.Context, name string, timeout time.Duration, action func(context.Context) error) error {
	return p.run(ctx, name, timeout, true, action)
}

// once runs action exactly once. Actions with side effects outside the page,
// such as starting a download, must not be repeated when the first attempt
// may already have fired.
func (p *Primitives) once(ctx context.Context, name string, timeout time.Duration, action func(context.Context) error) error {
	return p.run(ctx, name, timeout, false, action)
}

func (p *Primitives) run(ctx context.Context, name string, timeout time.Duration, retry bool, action func(context.Context) error) error {
	attempt := func() error {
		actCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			actCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return action(actCtx)
	}

	err := attempt()
	if retry && err != nil && IsTransient(err) && ctx.Err() == nil {
		p.logger.Debug("Transient error, retrying once.", zap.String("action", name), zap.Error(err))
		err = attempt()
	}
	if err != nil {
		return err
	}
	return sleep(ctx, p.settle)
}

// Navigate loads url.
func (p *Primitives) Navigate(ctx context.Context, url string) error {
	return p.do(ctx, "navigate", p.navTimeout, func(ctx context.Context) error {
		return p.driver.Navigate(ctx, url)
	})
}

// TypeText replaces the contents of the field matched by sel with text.
func (p *Primitives) TypeText(ctx context.Context, sel, text string) error {
	return p.do(ctx, "type", p.actionTimeout, func(ctx context.Context) error {
		if err := p.driver.Clear(ctx, sel); err != nil {
			return err
		}
		return p.driver.SendKeys(ctx, sel, text)
	})
}

// Click clicks the element matched by sel.
func (p *Primitives) Click(ctx context.Context, sel string) error {
	return p.do(ctx, "click", p.actionTimeout, func(ctx context.Context) error {
		return p.driver.Click(ctx, sel)
	})
}

// ClickOnce clicks the element matched by sel without retrying.
func (p *Primitives) ClickOnce(ctx context.Context, sel string) error {
	return p.once(ctx, "click", p.actionTimeout, func(ctx context.Context) error {
		return p.driver.Click(ctx, sel)
	})
}

// PressKeyOnce sends one key to the focused element without retrying.
func (p *Primitives) PressKeyOnce(ctx context.Context, key string) error {
	return p.once(ctx, "key", p.actionTimeout, func(ctx context.Context) error {
		return p.driver.PressKey(ctx, key)
	})
}

// PressKey sends one key to the focused element.
func (p *Primitives) PressKey(ctx context.Context, key string) error {
	return p.do(ctx, "key", p.actionTimeout, func(ctx context.Context) error {
		return p.driver.PressKey(ctx, key)
	})
}

// SendKeySequence sends keys one at a time with the key delay between them.
// The sequence is not restarted on retry; only the failing key is retried.
func (p *Primitives) SendKeySequence(ctx context.Context, keys []string) error {
	for i, key := range keys {
		if i > 0 {
			if err := sleep(ctx, p.keyDelay); err != nil {
				return err
			}
		}
		err := p.do(ctx, "key", p.actionTimeout, func(ctx context.Context) error {
			return p.driver.PressKey(ctx, key)
		})
		if err != nil {
			return fmt.Errorf("key %d of %d: %w", i+1, len(keys), err)
		}
	}
	return nil
}

// Repeat returns key n times, for building focus-advance sequences.
func Repeat(key string, n int) []string {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = key
	}
	return keys
}

// WaitNetworkIdle waits for the configured quiet period, bounded by the idle timeout.
func (p *Primitives) WaitNetworkIdle(ctx context.Context) error {
	return p.do(ctx, "network_idle", p.idleTimeout, func(ctx context.Context) error {
		return p.driver.WaitNetworkIdle(ctx, p.quietPeriod)
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
