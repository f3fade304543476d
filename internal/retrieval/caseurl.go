// internal/retrieval/caseurl.go
package retrieval

import (
	"fmt"
	"net/url"
	"strings"
)

// MaxCaseNumberLen bounds case numbers in bytes.
const MaxCaseNumberLen = 64

// OutputPrefix is the fixed start of every saved document's file name.
const OutputPrefix = "Voluntary_Petition_"

// ValidateCaseNumber accepts only letters, digits and the separators : . _ -
// so a case number always fits one URL path segment and one file name.
func ValidateCaseNumber(caseNumber string) error {
	invalid := func(reason string) error {
		return &Error{Kind: KindInvalidInput, Step: StateInit, Message: fmt.Sprintf("case number %s", reason)}
	}

	switch {
	case caseNumber == "":
		return invalid("is empty")
	case len(caseNumber) > MaxCaseNumberLen:
		return invalid(fmt.Sprintf("exceeds %d bytes", MaxCaseNumberLen))
	case caseNumber == "." || caseNumber == "..":
		return invalid("is a relative path element")
	}
	for i := 0; i < len(caseNumber); i++ {
		if !caseNumberByte(caseNumber[i]) {
			return invalid(fmt.Sprintf("contains %q; only A-Z a-z 0-9 : . _ - are allowed", caseNumber[i]))
		}
	}
	return nil
}

func caseNumberByte(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return c == ':' || c == '.' || c == '_' || c == '-'
}

// BuildCaseURL appends the escaped case number to base as one path segment,
// followed by suffix (for example "/dockets").
func BuildCaseURL(base, caseNumber, suffix string) (string, error) {
	if err := ValidateCaseNumber(caseNumber); err != nil {
		return "", err
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid case base URL: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("case base URL %q is not absolute", base)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return "", fmt.Errorf("case base URL %q must not carry a query or fragment", base)
	}

	prefix := strings.TrimSuffix(u.EscapedPath(), "/")
	rel := prefix + "/" + url.PathEscape(caseNumber) + suffix
	full, err := url.Parse(u.Scheme + "://" + u.Host + rel)
	if err != nil {
		return "", fmt.Errorf("invalid case URL: %w", err)
	}
	full.User = u.User
	return full.String(), nil
}

// OutputFilename is the deterministic file name for a case's document.
func OutputFilename(caseNumber string) string {
	return OutputPrefix + caseNumber + ".pdf"
}
