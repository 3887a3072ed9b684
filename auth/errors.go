package auth

import "errors"

// Sentinel errors for credential handling.
var (
	// Credential errors
	ErrMissingCredentials = errors.New("auth: missing credentials")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrTokenRequest       = errors.New("auth: token request failed")
	ErrTokenMalformed     = errors.New("auth: token malformed")
	ErrTokenExpired       = errors.New("auth: token expired")
	ErrUnsupportedMethod  = errors.New("auth: unsupported client authentication method")

	// Signature errors
	ErrMissingSignature = errors.New("auth: missing signature")
	ErrInvalidSignature = errors.New("auth: invalid signature")
	ErrSignatureExpired = errors.New("auth: signature timestamp outside allowed skew")
)
