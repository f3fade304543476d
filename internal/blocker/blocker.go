// internal/blocker/blocker.go
package blocker

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/xkilldash9x/petitionfetch/internal/config"
)

// Classification names the kind of interstitial standing between the
// workflow and the element it expected.
type Classification string

const (
	LoginWall     Classification = "login_wall"
	MFAChallenge  Classification = "mfa_challenge"
	ConsentBanner Classification = "consent_banner"
	AccessDenied  Classification = "access_denied"
	RateLimited   Classification = "rate_limited"
	Unknown       Classification = "unknown"
)

// MarkupSource provides the rendered document, read page-side up to limit
// characters so oversized documents never cross the wire in full.
type MarkupSource interface {
	MarkupPrefix(ctx context.Context, limit int) (string, error)
}

type rule struct {
	class   Classification
	phrases []string
}

// rules is scanned in order and the first phrase found wins. Phrases are
// whole sentences or headings that only interstitial pages show; single
// words such as "login" or "forbidden" also occur in navigation bars,
// footers and docket entry text. MFA precedes the login wall because
// challenge pages usually also ask the user to sign in.
var rules = []rule{
	{MFAChallenge, []string{
		"two-factor", "two factor authentication", "enter your verification code",
		"enter the verification code", "enter the code we sent", "enter your two-factor code",
		"authenticator app", "one-time passcode", "one-time password", "multi-factor authentication",
		"verify your identity",
	}},
	{RateLimited, []string{
		"too many requests", "rate limit exceeded", "you have been rate limited",
		"please slow down", "temporarily blocked",
	}},
	{AccessDenied, []string{
		"access denied", "403 forbidden", "you do not have access", "you don't have permission",
		"you are not authorized to view", "you do not have permission to view",
	}},
	{LoginWall, []string{
		"sign in to continue", "log in to continue", "please sign in", "please log in",
		"your session has expired", "session expired", "forgot your password",
	}},
	{ConsentBanner, []string{
		"accept all cookies", "we use cookies", "this site uses cookies", "this website uses cookies",
		"cookie preferences", "cookie settings", "privacy preferences",
	}},
}

// Detector classifies pages against the phrase table.
type Detector struct {
	maxMarkup int
	maxText   int
	logger    *zap.Logger
}

// New creates a Detector with the configured read bounds.
func New(cfg config.BlockerConfig, logger *zap.Logger) *Detector {
	return &Detector{maxMarkup: cfg.MaxMarkupBytes, maxText: cfg.MaxTextBytes, logger: logger.Named("blocker")}
}

// Classify reads the page's markup and classifies it. Any read failure
// yields Unknown.
func (d *Detector) Classify(ctx context.Context, src MarkupSource) Classification {
	markup, err := src.MarkupPrefix(ctx, d.maxMarkup)
	if err != nil {
		d.logger.Debug("Could not read markup for classification.", zap.Error(err))
		return Unknown
	}
	c := d.ClassifyMarkup(markup)
	d.logger.Debug("Page classified.", zap.String("classification", string(c)))
	return c
}

// ClassifyMarkup classifies an HTML document by its visible text.
func (d *Detector) ClassifyMarkup(markup string) Classification {
	if d.maxMarkup > 0 && len(markup) > d.maxMarkup {
		markup = markup[:d.maxMarkup]
	}
	text := VisibleText(markup)
	if d.maxText > 0 && len(text) > d.maxText {
		text = text[:d.maxText]
	}
	return classifyText(text)
}

func classifyText(text string) Classification {
	for _, r := range rules {
		for _, phrase := range r.phrases {
			if strings.Contains(text, phrase) {
				return r.class
			}
		}
	}
	return Unknown
}

// VisibleText extracts whitespace-collapsed, lowercased text from markup,
// skipping non-rendered and explicitly hidden elements.
func VisibleText(markup string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return ""
	}
	doc.Find(`script, style, noscript, template, [hidden], [aria-hidden="true"]`).Remove()

	// Form controls carry meaningful labels outside the text tree.
	var extra []string
	doc.Find("input[placeholder], input[type=submit][value], button[aria-label]").Each(func(_ int, s *goquery.Selection) {
		for _, attr := range []string{"placeholder", "value", "aria-label"} {
			if v, ok := s.Attr(attr); ok {
				extra = append(extra, v)
			}
		}
	})

	text := doc.Text() + " " + strings.Join(extra, " ")
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}
