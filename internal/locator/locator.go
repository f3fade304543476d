// internal/locator/locator.go
package locator

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound means no strategy of a spec matched a visible element in time.
// It is a signal for the caller, not a failure in itself.
var ErrNotFound = errors.New("element not found")

// Prober checks for a visible element. Implementations must return promptly
// once ctx is done.
type Prober interface {
	WaitVisible(ctx context.Context, sel string) error
}

// Spec is the ordered set of alternative strategies for one logical element.
type Spec struct {
	Name       string
	Strategies []Strategy
}

// Within scopes every strategy in the spec to descendants of parent.
func (s Spec) Within(parent string) Spec {
	scoped := Spec{Name: s.Name, Strategies: make([]Strategy, len(s.Strategies))}
	for i, st := range s.Strategies {
		scoped.Strategies[i] = st.Within(parent)
	}
	return scoped
}

// HasPositional reports whether the spec lists a positional fallback.
func (s Spec) HasPositional() bool {
	for _, st := range s.Strategies {
		if st.Kind == KindPositional {
			return true
		}
	}
	return false
}

// Resolved is the strategy that won a resolution and its concrete selector.
type Resolved struct {
	Spec     string
	Strategy Strategy
	Index    int
	Selector string
}

// Locator resolves specs against a page.
type Locator struct {
	logger *zap.Logger
}

// New creates a Locator.
func New(logger *zap.Logger) *Locator {
	return &Locator{logger: logger.Named("locator")}
}

// Resolve races every queryable strategy of spec under one timeout budget.
// The first strategy to report a visible element wins and the rest are
// cancelled; Resolve returns only after all of them have stopped.
func (l *Locator) Resolve(ctx context.Context, p Prober, spec Spec, timeout time.Duration) (*Resolved, error) {
	raceCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	found := make(chan *Resolved, len(spec.Strategies))
	var wg sync.WaitGroup
	for i, st := range spec.Strategies {
		sel, ok := st.Selector()
		if !ok {
			if st.Kind != KindPositional {
				l.logger.Warn("Strategy cannot be scoped; skipping it.",
					zap.String("spec", spec.Name), zap.Stringer("strategy", st), zap.String("scope", st.Scope))
			}
			continue
		}
		wg.Add(1)
		go func(i int, st Strategy, sel string) {
			defer wg.Done()
			if err := p.WaitVisible(raceCtx, sel); err != nil {
				if raceCtx.Err() == nil {
					l.logger.Debug("Strategy probe failed.",
						zap.String("spec", spec.Name), zap.Stringer("strategy", st), zap.Error(err))
				}
				return
			}
			found <- &Resolved{Spec: spec.Name, Strategy: st, Index: i, Selector: sel}
		}(i, st, sel)
	}

	allDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(allDone)
	}()

	var winner *Resolved
	select {
	case winner = <-found:
	case <-allDone:
		// Every probe returned; one of them may still have succeeded.
		select {
		case winner = <-found:
		default:
		}
	case <-raceCtx.Done():
	}
	cancel()
	<-allDone

	if winner != nil {
		l.logger.Debug("Element resolved.",
			zap.String("spec", spec.Name), zap.Int("index", winner.Index), zap.Stringer("strategy", winner.Strategy))
		return winner, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, ErrNotFound
}
