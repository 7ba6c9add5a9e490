package config

import "errors"

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config file")
	ErrLibraryRequired    = errors.New("library path is required (set \"library\" in config or pass --library)")
	ErrInvalidDelimiter   = errors.New("delimiter must be a single printable ASCII character other than '|'")
	ErrInvalidValue       = errors.New("invalid config value")
)
