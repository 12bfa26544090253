package model

import (
	"fmt"
	"time"
)

// TaskStatus represents the state of a scheduled upload task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task waits for its scheduled time.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusFiring indicates the upload attempt is in flight.
	TaskStatusFiring TaskStatus = "firing"
	// TaskStatusSucceeded indicates the upload finished successfully.
	TaskStatusSucceeded TaskStatus = "succeeded"
	// TaskStatusFailed indicates the upload attempt failed.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was cancelled before firing.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal returns true when no transition out of the status exists.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusSucceeded, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo returns true if moving from s to next is an allowed edge.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskStatusPending:
		return next == TaskStatusFiring || next == TaskStatusCancelled
	case TaskStatusFiring:
		return next == TaskStatusSucceeded || next == TaskStatusFailed
	}
	return false
}

// TaskDescriptor is what a caller submits to schedule an upload.
type TaskDescriptor struct {
	// MediaRef is the path of the media file to upload.
	MediaRef string
	// Caption is the text attached to the upload (sent as title).
	Caption string
	// Owner is the account/profile the upload is performed as.
	Owner string
	// Platforms are the target platform identifiers. Empty means no platform
	// constraint is sent and the remote defaults apply.
	Platforms []string
	// ScheduledAt is the instant the task becomes eligible to fire. Zero or past
	// times fire on the next dispatcher cycle.
	ScheduledAt time.Time
}

// Validate checks the descriptor can be accepted by a queue.
func (d TaskDescriptor) Validate() error {
	if d.MediaRef == "" {
		return fmt.Errorf("media ref is required: %w", ErrInvalidTask)
	}
	if d.Owner == "" {
		return fmt.Errorf("owner is required: %w", ErrInvalidTask)
	}
	return nil
}

// Task represents a scheduled upload and its lifecycle state.
type Task struct {
	ID          string
	MediaRef    string
	Caption     string
	Owner       string
	Platforms   []string
	ScheduledAt time.Time
	Status      TaskStatus
	// LastError is only set when Status is failed.
	LastError *UploadError
	Attempts  int
	CreatedAt time.Time
	FiredAt   *time.Time
	// FinishedAt is set on any terminal transition.
	FinishedAt *time.Time
}

// Copy returns a deep copy of the task.
func (t Task) Copy() Task {
	c := t
	if t.Platforms != nil {
		c.Platforms = append([]string(nil), t.Platforms...)
	}
	if t.LastError != nil {
		e := *t.LastError
		c.LastError = &e
	}
	if t.FiredAt != nil {
		f := *t.FiredAt
		c.FiredAt = &f
	}
	if t.FinishedAt != nil {
		f := *t.FinishedAt
		c.FinishedAt = &f
	}
	return c
}

// UploadRequest is the data the upload client needs for a single attempt.
func (t Task) UploadRequest() UploadRequest {
	return UploadRequest{
		MediaRef:  t.MediaRef,
		Caption:   t.Caption,
		Owner:     t.Owner,
		Platforms: t.Platforms,
	}
}
