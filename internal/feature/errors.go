package feature

import "errors"

var (
	// ErrInvalidInput marks malformed identities, parameters or arguments.
	ErrInvalidInput = errors.New("invalid input")
	// ErrDetectionFailure means the external detector could not process an image.
	ErrDetectionFailure = errors.New("detection failure")
	// ErrCorruptCacheEntry means a persisted entry exists but cannot be decoded.
	ErrCorruptCacheEntry = errors.New("corrupt cache entry")
	// ErrCacheUnavailable means the backing store of a cache cannot be reached.
	ErrCacheUnavailable = errors.New("cache unavailable")
	// ErrIndexBuild means no neighbor index could be built (e.g. empty set).
	ErrIndexBuild = errors.New("index build failure")
	// ErrNotFound is returned by stores when no entry exists for a key.
	ErrNotFound = errors.New("not found")
)
