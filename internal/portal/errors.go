package portal

import (
	"errors"
	"fmt"
)

type AuthErrorKind string

const (
	AuthInvalidCredentials AuthErrorKind = "invalid_credentials"
	AuthPortalUnreachable  AuthErrorKind = "portal_unreachable"
)

// AuthError reports a failed login or session-validity check.
type AuthError struct {
	Kind   AuthErrorKind
	Detail string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("portal auth: %s: %s", e.Kind, e.Detail)
	}
	if e.Err != nil {
		return fmt.Sprintf("portal auth: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("portal auth: %s", e.Kind)
}

func (e *AuthError) Unwrap() error { return e.Err }

// AsAuthError unwraps err into an *AuthError when one is present.
func AsAuthError(err error) (*AuthError, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
