package data

import "errors"

// Standard errors surfaced by the filesystem manager. Providers signal
// logical failure through negative results instead of errors; the manager
// translates those into this taxonomy before anything reaches a caller.
var (
	// Path and node errors
	ErrInvalidPath       = errors.New("vfs: invalid path")
	ErrNotExist          = errors.New("vfs: node does not exist")
	ErrExist             = errors.New("vfs: node already exists")
	ErrIsDirectory       = errors.New("vfs: is a directory")
	ErrNotDirectory      = errors.New("vfs: not a directory")
	ErrDirectoryNotEmpty = errors.New("vfs: directory not empty")
	ErrExpired           = errors.New("vfs: node expired")

	// Provider errors
	ErrUnsupported         = errors.New("vfs: operation unsupported by provider")
	ErrProviderUnavailable = errors.New("vfs: provider unavailable")

	// Mode errors
	ErrReadOnly = errors.New("vfs: read-only filesystem")

	// Lifecycle errors
	ErrClosed = errors.New("vfs: filesystem closed")
)
