package config

import "errors"

// Sentinel errors for configuration.
var (
	ErrMissingPrimary     = errors.New("config: primaryEndpoint is required")
	ErrInvalidEndpoint    = errors.New("config: invalid endpoint url")
	ErrOverlappingURLs    = errors.New("config: primary and backup endpoints overlap")
	ErrInvalidValue       = errors.New("config: invalid value")
	ErrInvalidAuthMethod  = errors.New("config: invalid auth method")
	ErrMissingCredentials = errors.New("config: missing credentials")
	ErrReadFile           = errors.New("config: cannot read config file")
)
