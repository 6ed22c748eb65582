// Package apperr holds the sentinel errors shared across guildsync packages.
package apperr

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrSourceNotFound   = errors.New("source not found")
	ErrLocked           = errors.New("target directory is locked")
	ErrInvalidName      = errors.New("invalid file name")
	ErrUnknownCharacter = errors.New("unknown character")
)
