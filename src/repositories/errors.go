package repositories

import "errors"

var (
	// ErrRecordNotFound is returned when a key or token does not exist
	ErrRecordNotFound = errors.New("record not found")

	// ErrDuplicateKey is returned when creating a key that already exists
	ErrDuplicateKey = errors.New("key already exists")

	// ErrTokenAlreadyBound is returned when a token is bound to a different key
	ErrTokenAlreadyBound = errors.New("token already bound to another key")

	// ErrStoreUnavailable wraps I/O failures of the backing store
	ErrStoreUnavailable = errors.New("store unavailable")
)
