// internal/retrieval/sequencer.go
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp/kb"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/petitionfetch/internal/blocker"
	"github.com/xkilldash9x/petitionfetch/internal/config"
	"github.com/xkilldash9x/petitionfetch/internal/diagnostics"
	"github.com/xkilldash9x/petitionfetch/internal/interact"
	"github.com/xkilldash9x/petitionfetch/internal/locator"
)

// State is a position in the retrieval workflow.
type State string

const (
	StateInit            State = "init"
	StateAuthenticated   State = "authenticated"
	StateCaseOpened      State = "case_opened"
	StateSearchSubmitted State = "search_submitted"
	StateArtifactLocated State = "artifact_located"
	StateDownloaded      State = "downloaded"
)

// Page is everything the workflow needs from one authenticated browser page.
type Page interface {
	locator.Prober
	interact.Driver
	diagnostics.Snapshotter
	blocker.MarkupSource
	Location(ctx context.Context) (string, error)
	// Download runs trigger and returns the path of the file it caused the
	// browser to save.
	Download(ctx context.Context, trigger func(context.Context) error) (string, error)
	Close() error
}

// Opener produces an authenticated page. Failures should be *Error values of
// KindAuth; the opener owns cleanup of any page it could not hand over.
type Opener interface {
	Open(ctx context.Context, cred Credential) (Page, error)
}

// Result is the outcome of one retrieval. Exactly one of FilePath and
// Failure is set.
type Result struct {
	ID         string    `json:"id"`
	CaseNumber string    `json:"case_number"`
	FilePath   string    `json:"file_path,omitempty"`
	Failure    *Error    `json:"failure,omitempty"`
	Reached    State     `json:"reached"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// OK reports whether the document was saved.
func (r Result) OK() bool { return r.Failure == nil }

// Err returns the failure as an error, or nil.
func (r Result) Err() error {
	if r.Failure == nil {
		return nil
	}
	return r.Failure
}

// Sequencer drives the retrieval workflow from login to saved file.
type Sequencer struct {
	opener   Opener
	cfg      *config.Config
	locator  *locator.Locator
	detector *blocker.Detector
	diag     *diagnostics.Store
	logger   *zap.Logger
}

// NewSequencer wires a Sequencer. diag may be nil to disable failure snapshots.
func NewSequencer(opener Opener, cfg *config.Config, diag *diagnostics.Store, logger *zap.Logger) *Sequencer {
	return &Sequencer{
		opener:   opener,
		cfg:      cfg,
		locator:  locator.New(logger),
		detector: blocker.New(cfg.Blocker, logger),
		diag:     diag,
		logger:   logger.Named("sequencer"),
	}
}

// Retrieve fetches the document for caseNumber using cred. The browser
// session it opens is closed before Retrieve returns, whatever the outcome.
func (s *Sequencer) Retrieve(ctx context.Context, caseNumber string, cred Credential) Result {
	res := Result{ID: uuid.NewString(), CaseNumber: caseNumber, Reached: StateInit, StartedAt: time.Now()}
	logger := s.logger.With(zap.String("retrieval_id", res.ID), zap.String("case_number", caseNumber))

	finish := func(failure *Error) Result {
		res.Failure = failure
		res.FinishedAt = time.Now()
		if failure != nil {
			logger.Error("Retrieval failed.",
				zap.String("kind", string(failure.Kind)),
				zap.String("step", string(failure.Step)),
				zap.String("blocker", string(failure.Blocker)),
				zap.Error(failure))
		} else {
			logger.Info("Retrieval succeeded.", zap.String("path", res.FilePath), zap.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)))
		}
		return res
	}

	caseURL, err := BuildCaseURL(s.cfg.Target.CaseBaseURL, caseNumber, s.cfg.Target.CasePathSuffix)
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return finish(e)
		}
		return finish(newError(KindNavigation, StateCaseOpened, err, "could not build case URL"))
	}
	if !cred.Valid() {
		return finish(NewAuthError("username and password are required", nil))
	}

	if s.cfg.Retrieval.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Retrieval.Timeout)
		defer cancel()
	}

	logger.Info("Starting retrieval.", zap.Object("credential", cred))
	page, err := s.opener.Open(ctx, cred)
	if err != nil {
		var e *Error
		if !errors.As(err, &e) {
			e = NewAuthError("could not open an authenticated session", err)
		}
		return finish(e)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			logger.Warn("Error closing browser session.", zap.Error(cerr))
		}
	}()
	res.Reached = StateAuthenticated

	w := &workflow{
		Sequencer:  s,
		page:       page,
		prims:      interact.New(page, s.cfg, logger),
		logger:     logger,
		caseNumber: caseNumber,
		reached:    &res.Reached,
	}
	path, failure := w.run(ctx, caseURL)
	if failure != nil {
		art, cerr := s.diag.Capture(ctx, page, string(failure.Step))
		if cerr != nil {
			logger.Warn("Failure snapshot incomplete.", zap.Error(cerr))
		}
		failure.Attach(art)
		return finish(failure)
	}
	res.FilePath = path
	return finish(nil)
}

// workflow holds the per-retrieval state of one run.
type workflow struct {
	*Sequencer
	page       Page
	prims      *interact.Primitives
	logger     *zap.Logger
	caseNumber string
	reached    *State
}

func (w *workflow) advance(to State) {
	*w.reached = to
	w.logger.Debug("State reached.", zap.String("state", string(to)))
}

func (w *workflow) run(ctx context.Context, caseURL string) (string, *Error) {
	if err := w.openCase(ctx, caseURL); err != nil {
		return "", err
	}
	w.advance(StateCaseOpened)

	if err := w.submitSearch(ctx); err != nil {
		return "", err
	}
	w.advance(StateSearchSubmitted)

	row, err := w.locateRow(ctx)
	if err != nil {
		return "", err
	}
	w.advance(StateArtifactLocated)

	path, err := w.download(ctx, row)
	if err != nil {
		return "", err
	}
	w.advance(StateDownloaded)
	return path, nil
}

func (w *workflow) openCase(ctx context.Context, caseURL string) *Error {
	w.logger.Info("Opening case.", zap.String("url", caseURL))
	if err := w.prims.Navigate(ctx, caseURL); err != nil {
		return newError(KindNavigation, StateCaseOpened, err, "could not load case page")
	}
	if err := w.prims.WaitNetworkIdle(ctx); err != nil {
		return newError(KindNavigation, StateCaseOpened, err, "case page never settled")
	}
	return nil
}

func (w *workflow) submitSearch(ctx context.Context) *Error {
	input, err := w.resolve(ctx, searchInputSpec(), w.cfg.Locator.Timeout, StateSearchSubmitted)
	if err != nil {
		return err
	}

	query := w.cfg.Retrieval.Query
	if ierr := w.prims.TypeText(ctx, input.Selector, query); ierr != nil {
		return newError(KindInteraction, StateSearchSubmitted, ierr, "could not type search query")
	}
	if ierr := w.prims.PressKey(ctx, kb.Enter); ierr != nil {
		return newError(KindInteraction, StateSearchSubmitted, ierr, "could not submit search")
	}
	if ierr := w.prims.WaitNetworkIdle(ctx); ierr != nil {
		return newError(KindInteraction, StateSearchSubmitted, ierr, "search results never settled")
	}
	return nil
}

func (w *workflow) locateRow(ctx context.Context) (*locator.Resolved, *Error) {
	rowSpec := resultRowSpec(w.cfg.Retrieval.DocumentLabel)
	row, err := w.locator.Resolve(ctx, w.page, rowSpec, w.cfg.Locator.Timeout)
	if err == nil {
		return row, nil
	}
	if !errors.Is(err, locator.ErrNotFound) {
		return nil, newError(KindInteraction, StateArtifactLocated, err, "result lookup interrupted")
	}

	// The entry may be collapsed behind a "show more" style control.
	toggle, terr := w.locator.Resolve(ctx, w.page, expandToggleSpec(), w.cfg.Locator.ProbeTimeout)
	if terr == nil {
		w.logger.Info("Result not visible, expanding list once.", zap.Stringer("toggle", toggle.Strategy))
		if cerr := w.prims.Click(ctx, toggle.Selector); cerr != nil {
			return nil, newError(KindInteraction, StateArtifactLocated, cerr, "could not expand results")
		}
		if ierr := w.prims.WaitNetworkIdle(ctx); ierr != nil {
			return nil, newError(KindInteraction, StateArtifactLocated, ierr, "expanded results never settled")
		}
	} else if !errors.Is(terr, locator.ErrNotFound) {
		return nil, newError(KindInteraction, StateArtifactLocated, terr, "expand control lookup interrupted")
	}

	return w.resolve(ctx, rowSpec, w.cfg.Locator.Timeout, StateArtifactLocated)
}

func (w *workflow) download(ctx context.Context, row *locator.Resolved) (string, *Error) {
	spec := downloadControlSpec(w.cfg.Retrieval.DocumentLabel).Within(row.Selector)

	var trigger func(context.Context) error
	control, err := w.locator.Resolve(ctx, w.page, spec, w.cfg.Retrieval.FallbackTimeout)
	switch {
	case err == nil:
		w.logger.Info("Download control located.", zap.Stringer("strategy", control.Strategy))
		trigger = func(ctx context.Context) error { return w.prims.ClickOnce(ctx, control.Selector) }
	case !errors.Is(err, locator.ErrNotFound):
		return "", newError(KindInteraction, StateDownloaded, err, "download control lookup interrupted")
	case spec.HasPositional() && w.cfg.Retrieval.PositionalFallback:
		toRow, toDownload := w.cfg.Retrieval.FocusAdvanceToRow, w.cfg.Retrieval.FocusAdvanceToDownload
		w.logger.Warn("No labeled download control found; using positional keyboard fallback.",
			zap.Int("tabs_to_row", toRow), zap.Int("tabs_to_download", toDownload))
		if ierr := w.prims.SendKeySequence(ctx, append(interact.Repeat(kb.Tab, toRow), kb.Enter)); ierr != nil {
			return "", newError(KindInteraction, StateDownloaded, ierr, "positional fallback failed before download")
		}
		if ierr := w.prims.SendKeySequence(ctx, interact.Repeat(kb.Tab, toDownload)); ierr != nil {
			return "", newError(KindInteraction, StateDownloaded, ierr, "positional fallback failed before download")
		}
		trigger = func(ctx context.Context) error { return w.prims.PressKeyOnce(ctx, kb.Enter) }
	default:
		return "", w.explainMissing(ctx, spec, StateDownloaded)
	}

	dlCtx := ctx
	if t := w.cfg.Retrieval.DownloadTimeout; t > 0 {
		var cancel context.CancelFunc
		dlCtx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	tmp, err := w.page.Download(dlCtx, trigger)
	if err != nil {
		return "", newError(KindDownload, StateDownloaded, err, "download did not complete")
	}

	dest := filepath.Join(w.cfg.Retrieval.OutputDir, OutputFilename(w.caseNumber))
	if err := persist(tmp, dest); err != nil {
		return "", newError(KindDownload, StateDownloaded, err, "could not save document")
	}
	return dest, nil
}

// resolve looks up spec and turns a miss into a blocked or layout failure.
func (w *workflow) resolve(ctx context.Context, spec locator.Spec, timeout time.Duration, step State) (*locator.Resolved, *Error) {
	got, err := w.locator.Resolve(ctx, w.page, spec, timeout)
	switch {
	case err == nil:
		return got, nil
	case errors.Is(err, locator.ErrNotFound):
		return nil, w.explainMissing(ctx, spec, step)
	default:
		return nil, newError(KindInteraction, step, err, "lookup of %s interrupted", spec.Name)
	}
}

// explainMissing asks the blocker detector why an element is absent.
func (w *workflow) explainMissing(ctx context.Context, spec locator.Spec, step State) *Error {
	class := w.detector.Classify(ctx, w.page)
	if class != blocker.Unknown {
		e := newError(KindBlocked, step, nil, "%s hidden by an interstitial page", spec.Name)
		e.Blocker = class
		return e
	}
	return newError(KindLayoutChanged, step, locator.ErrNotFound, "no strategy for %s matched", spec.Name)
}

// persist moves the finished download to dest. The final name only ever
// refers to a complete file; a cross-device move goes through a temporary
// file in dest's directory.
func persist(src, dest string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return errors.New("downloaded file is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	if err := os.Rename(src, dest); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".petition-*.part")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		cleanup()
		return err
	}
	return nil
}
