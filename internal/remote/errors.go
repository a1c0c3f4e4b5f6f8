package remote

import "errors"

var (
	errMissingRequiredField = errors.New("remote: manifest entry missing a required field")
	errMalformedDigest      = errors.New("remote: manifest entry sha256 is not 64 hex characters")
	errUnsupportedPlatform  = errors.New("remote: manifest entry names an unsupported os_platform value")
	errAlreadyRunning       = errors.New("remote: refresh loop is already running")
)
