package account

import "errors"

// Failure taxonomy for the auth flows. Local validation failures are specific
// and synchronous; ErrUpstream is reserved for dependency failures so callers
// can distinguish "your input was wrong" from "try again later".
var (
	ErrAlreadyExists      = errors.New("username or email already registered")
	ErrNotFound           = errors.New("account not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrAlreadyVerified    = errors.New("email already verified")
	ErrUpstream           = errors.New("upstream service unavailable")
)
