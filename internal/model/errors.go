package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when a resource is not valid.
	ErrNotValid = errors.New("not valid")
	// ErrInvalidTask is returned when a task descriptor is rejected at submission.
	ErrInvalidTask = fmt.Errorf("invalid task: %w", ErrNotValid)
	// ErrInvalidStateTransition is returned when a task is moved through a
	// transition that its current status doesn't allow. It signals an internal
	// consistency bug, never a retryable condition.
	ErrInvalidStateTransition = errors.New("invalid state transition")
)
