package auth

import (
	"errors"
	"fmt"
)

// Kind classifies failures of the login, refresh and logout operations so that
// callers can render a specific message without inspecting provider errors.
type Kind int

const (
	KindUnknown Kind = iota
	KindRegistrationFailed
	KindDeviceAuthorizationFailed
	KindPollTransport
	KindPollExpired
	KindPollDenied
	KindStateOrPkceMismatch
	KindNoTokenPresent
	KindTokenCorrupted
	KindRefreshUnavailable
	KindRefreshFailed
	KindPersistenceFailure
	KindSettingsClearFailure
)

var kindNames = map[Kind]string{
	KindUnknown:                   "unknown",
	KindRegistrationFailed:        "client registration failed",
	KindDeviceAuthorizationFailed: "device authorization failed",
	KindPollTransport:             "token polling failed",
	KindPollExpired:               "device code expired",
	KindPollDenied:                "authorization denied",
	KindStateOrPkceMismatch:       "pkce verifier mismatch",
	KindNoTokenPresent:            "no token",
	KindTokenCorrupted:            "stored token is corrupted",
	KindRefreshUnavailable:        "token refresh unavailable",
	KindRefreshFailed:             "token refresh failed",
	KindPersistenceFailure:        "token persistence failed",
	KindSettingsClearFailure:      "failed to clear settings",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the single error type returned by this package. Op names the
// failing step, Err carries the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality, so the exported sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrRegistrationFailed        = &Error{Kind: KindRegistrationFailed}
	ErrDeviceAuthorizationFailed = &Error{Kind: KindDeviceAuthorizationFailed}
	ErrPollTransport             = &Error{Kind: KindPollTransport}
	ErrPollExpired               = &Error{Kind: KindPollExpired}
	ErrPollDenied                = &Error{Kind: KindPollDenied}
	ErrStateOrPkceMismatch       = &Error{Kind: KindStateOrPkceMismatch}
	ErrNoTokenPresent            = &Error{Kind: KindNoTokenPresent}
	ErrTokenCorrupted            = &Error{Kind: KindTokenCorrupted}
	ErrRefreshUnavailable        = &Error{Kind: KindRefreshUnavailable}
	ErrRefreshFailed             = &Error{Kind: KindRefreshFailed}
	ErrPersistenceFailure        = &Error{Kind: KindPersistenceFailure}
	ErrSettingsClearFailure      = &Error{Kind: KindSettingsClearFailure}
)

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// OIDCError is a protocol error returned by the SSO-OIDC endpoint.
type OIDCError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *OIDCError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s (status %d)", e.Code, e.Description, e.StatusCode)
	}
	return fmt.Sprintf("%s (status %d)", e.Code, e.StatusCode)
}

// Device flow and token endpoint error codes (RFC 8628 §3.5, RFC 6749 §5.2).
const (
	codeAuthorizationPending = "authorization_pending"
	codeSlowDown             = "slow_down"
	codeExpiredToken         = "expired_token"
	codeAccessDenied         = "access_denied"
	codeInvalidGrant         = "invalid_grant"
)

func oidcErrorCode(err error) string {
	var oerr *OIDCError
	if errors.As(err, &oerr) {
		return oerr.Code
	}
	return ""
}
