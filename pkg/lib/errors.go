package lib

import "errors"

var (
	// ErrNotFound is returned when a task does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNotValid is returned when the input or the operation is not valid.
	ErrNotValid = errors.New("not valid")
)
