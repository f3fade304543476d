// internal/session/manager.go
package session

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/petitionfetch/internal/config"
	"github.com/xkilldash9x/petitionfetch/internal/diagnostics"
	"github.com/xkilldash9x/petitionfetch/internal/interact"
	"github.com/xkilldash9x/petitionfetch/internal/locator"
	"github.com/xkilldash9x/petitionfetch/internal/retrieval"
)

// LaunchFunc starts a fresh, unauthenticated browser page.
type LaunchFunc func(ctx context.Context) (retrieval.Page, error)

const rejectedLogin = "invalid credentials or interactive challenge"

// Manager opens authenticated sessions. It satisfies retrieval.Opener.
type Manager struct {
	launch  LaunchFunc
	cfg     *config.Config
	diag    *diagnostics.Store
	locator *locator.Locator
	logger  *zap.Logger
}

var _ retrieval.Opener = (*Manager)(nil)

// NewManager creates a Manager. diag may be nil.
func NewManager(launch LaunchFunc, cfg *config.Config, diag *diagnostics.Store, logger *zap.Logger) *Manager {
	return &Manager{
		launch:  launch,
		cfg:     cfg,
		diag:    diag,
		locator: locator.New(logger),
		logger:  logger.Named("session_manager"),
	}
}

// Open launches an isolated browser and logs in with cred. On any failure
// after launch the page is snapshotted and closed before Open returns, so
// the caller only ever owns a page that is logged in.
func (m *Manager) Open(ctx context.Context, cred retrieval.Credential) (retrieval.Page, error) {
	if !cred.Valid() {
		return nil, retrieval.NewAuthError("username and password are required", nil)
	}

	page, err := m.launch(ctx)
	if err != nil {
		return nil, retrieval.NewAuthError("could not launch browser", err)
	}

	if authErr := m.login(ctx, page, cred); authErr != nil {
		art, cerr := m.diag.Capture(ctx, page, "login")
		if cerr != nil {
			m.logger.Warn("Login snapshot incomplete.", zap.Error(cerr))
		}
		authErr.Attach(art)
		if cerr := page.Close(); cerr != nil {
			m.logger.Warn("Error closing session after failed login.", zap.Error(cerr))
		}
		return nil, authErr
	}

	m.logger.Info("Session authenticated.", zap.String("username", cred.Username))
	return page, nil
}

func (m *Manager) login(ctx context.Context, page retrieval.Page, cred retrieval.Credential) *retrieval.Error {
	prims := interact.New(page, m.cfg, m.logger)
	loginURL := m.cfg.Target.LoginURL

	m.logger.Debug("Loading login page.", zap.String("url", loginURL))
	if err := prims.Navigate(ctx, loginURL); err != nil {
		return retrieval.NewAuthError("could not load login page", err)
	}
	if err := prims.WaitNetworkIdle(ctx); err != nil {
		return retrieval.NewAuthError("login page never settled", err)
	}

	user, err := m.locator.Resolve(ctx, page, usernameSpec(), m.cfg.Locator.Timeout)
	if err != nil {
		return retrieval.NewAuthError("login form not found", err)
	}
	if err := prims.TypeText(ctx, user.Selector, cred.Username); err != nil {
		return retrieval.NewAuthError("could not enter username", err)
	}

	pass, err := m.locator.Resolve(ctx, page, passwordSpec(), m.cfg.Locator.Timeout)
	if err != nil {
		return retrieval.NewAuthError("password field not found", err)
	}
	if err := prims.TypeText(ctx, pass.Selector, cred.Password); err != nil {
		return retrieval.NewAuthError("could not enter password", err)
	}

	submit, err := m.locator.Resolve(ctx, page, submitSpec(), m.cfg.Locator.ProbeTimeout)
	switch {
	case err == nil:
		err = prims.Click(ctx, submit.Selector)
	case errors.Is(err, locator.ErrNotFound):
		// Focus is still in the password field.
		m.logger.Debug("No submit control found, submitting with Enter.")
		err = prims.PressKey(ctx, kb.Enter)
	}
	if err != nil {
		return retrieval.NewAuthError("could not submit login form", err)
	}
	if err := prims.WaitNetworkIdle(ctx); err != nil {
		return retrieval.NewAuthError("login never settled", err)
	}

	return m.verify(ctx, page)
}

// verify fails when the login form is still showing or the browser is
// still on the login path.
func (m *Manager) verify(ctx context.Context, page retrieval.Page) *retrieval.Error {
	_, err := m.locator.Resolve(ctx, page, passwordSpec(), m.cfg.Locator.ProbeTimeout)
	switch {
	case err == nil:
		return retrieval.NewAuthError(rejectedLogin, nil)
	case !errors.Is(err, locator.ErrNotFound):
		return retrieval.NewAuthError("login check interrupted", err)
	}

	loc, err := page.Location(ctx)
	if err != nil {
		return retrieval.NewAuthError("could not read location after login", err)
	}
	if samePath(loc, m.cfg.Target.LoginURL) {
		return retrieval.NewAuthError(rejectedLogin, nil)
	}
	return nil
}

func samePath(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return strings.TrimSuffix(ua.Path, "/") == strings.TrimSuffix(ub.Path, "/")
}

func usernameSpec() locator.Spec {
	return locator.Spec{Name: "username", Strategies: []locator.Strategy{
		locator.XPath(`//input[@name="email"]`),
		locator.Attribute("input", "type", "email"),
		locator.Attribute("input", "autocomplete", "username"),
		locator.Attribute("input", "name", "user"),
		locator.Role("textbox", "email"),
	}}
}

func passwordSpec() locator.Spec {
	return locator.Spec{Name: "password", Strategies: []locator.Strategy{
		locator.XPath(`//input[@name="password"]`),
		locator.Attribute("input", "type", "password"),
	}}
}

func submitSpec() locator.Spec {
	return locator.Spec{Name: "login_submit", Strategies: []locator.Strategy{
		locator.XPath(`//button[@type="submit"]`),
		locator.XPath(`//input[@type="submit"]`),
		locator.Role("button", "sign in"),
		locator.Role("button", "log in"),
	}}
}
