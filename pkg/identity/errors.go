package identity

import "errors"

var (
	// ErrTokenExpired indicates the bearer token's exp claim is in the past.
	ErrTokenExpired = errors.New("token_expired")

	// ErrTokenInvalid indicates the token failed signature or claim checks.
	ErrTokenInvalid = errors.New("token_invalid")

	// ErrMissingToken indicates a protected route was called without a token.
	ErrMissingToken = errors.New("missing_token")
)
