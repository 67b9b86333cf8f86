package auth

import "errors"

// Failure taxonomy surfaced to callers. Kinds that would create an existence
// oracle are deliberately merged: unknown user and wrong password both map to
// ErrInvalidCredentials, missing challenge and code mismatch both map to
// ErrChallengeInvalid, and every token defect maps to ErrInvalidToken.
var (
	ErrNotFound           = errors.New("auth: not found")
	ErrDuplicateUser      = errors.New("auth: user already exists")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrChallengeInvalid   = errors.New("auth: challenge missing or incorrect")
	ErrEmailMismatch      = errors.New("auth: email does not match registered address")
	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrUnauthenticated    = errors.New("auth: unauthenticated")
	ErrForbidden          = errors.New("auth: insufficient permission")
	ErrInvalidInput       = errors.New("auth: invalid input")
)
