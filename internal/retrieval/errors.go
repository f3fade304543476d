// internal/retrieval/errors.go
package retrieval

import (
	"errors"
	"fmt"

	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/petitionfetch/internal/blocker"
	"github.com/xkilldash9x/petitionfetch/internal/diagnostics"
)

// Kind classifies why a retrieval failed.
type Kind string

const (
	KindAuth          Kind = "auth_error"
	KindNavigation    Kind = "navigation_error"
	KindBlocked       Kind = "blocked_error"
	KindLayoutChanged Kind = "layout_changed_error"
	KindInteraction   Kind = "interaction_error"
	KindDownload      Kind = "download_error"
	KindInvalidInput  Kind = "invalid_input_error"
)

// Error is a typed retrieval failure. Step is the state the workflow was
// trying to reach when it failed.
type Error struct {
	Kind      Kind                   `json:"kind"`
	Message   string                 `json:"message"`
	Step      State                  `json:"step,omitempty"`
	Blocker   blocker.Classification `json:"blocker,omitempty"`
	Artifacts []diagnostics.Artifact `json:"artifacts,omitempty"`
	Err       error                  `json:"-"`
}

func (e *Error) Error() string {
	msg := string(e.Kind) + ": " + e.Message
	if e.Blocker != "" {
		msg += " (" + string(e.Blocker) + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so sentinel-style checks like
// errors.Is(err, &Error{Kind: KindBlocked}) work.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && (t.Blocker == "" || t.Blocker == e.Blocker)
}

// Attach adds a diagnostic artifact when one was produced.
func (e *Error) Attach(art *diagnostics.Artifact) {
	if art != nil {
		e.Artifacts = append(e.Artifacts, *art)
	}
}

func newError(kind Kind, step State, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Step: step, Message: fmt.Sprintf(format, args...), Err: err}
}

// NewAuthError builds the failure returned when login does not take.
func NewAuthError(message string, err error) *Error {
	return &Error{Kind: KindAuth, Step: StateAuthenticated, Message: message, Err: err}
}

// KindOf returns the failure kind carried by err, or "" if err is not a retrieval error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Credential is the account used for one retrieval. It is passed per call
// and never stored; every printed form redacts the password.
type Credential struct {
	Username string
	Password string
}

// Valid reports whether both parts are present.
func (c Credential) Valid() bool {
	return c.Username != "" && c.Password != ""
}

func (c Credential) String() string {
	return fmt.Sprintf("Credential{Username:%q, Password:[REDACTED]}", c.Username)
}

func (c Credential) GoString() string { return c.String() }

// MarshalLogObject lets the credential be logged with zap.Object without its password.
func (c Credential) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("username", c.Username)
	enc.AddString("password", "[REDACTED]")
	return nil
}
