package config

import "errors"

var (
	// ErrParsingConfig is returned when environment variables cannot be parsed into the config struct.
	ErrParsingConfig = errors.New("failed to parse environment variables into config")

	// ErrNilPointer is returned when a nil pointer is provided to the loader.
	ErrNilPointer = errors.New("nil pointer provided to config loader")

	// ErrEnvFile is returned when an explicitly requested env file cannot be read.
	ErrEnvFile = errors.New("failed to read env file")
)
