package storage

import (
	"errors"
	"strings"
)

// Common storage errors.
var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("key not found")

	// ErrExists is returned by Create when the key is already present.
	ErrExists = errors.New("key already exists")

	// ErrConflict is returned by CompareAndSwap when the stored value changed.
	ErrConflict = errors.New("value changed concurrently")
)

// isNotFound checks if an error indicates a key was not found.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrNotFound) || strings.Contains(err.Error(), "key not found")
}
