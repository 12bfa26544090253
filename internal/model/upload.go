package model

import (
	"encoding/json"
	"fmt"
)

// ErrorKind classifies a failed upload attempt.
type ErrorKind string

const (
	// ErrorKindUnauthorized means the remote rejected the credential.
	ErrorKindUnauthorized ErrorKind = "unauthorized"
	// ErrorKindRemote means the remote accepted the request shape but rejected the content.
	ErrorKindRemote ErrorKind = "remote_error"
	// ErrorKindLocal means local I/O, transport or timeout failure.
	ErrorKindLocal ErrorKind = "local_error"
)

// UploadRequest holds the fields sent on one upload attempt.
type UploadRequest struct {
	MediaRef  string
	Caption   string
	Owner     string
	Platforms []string
}

// UploadError is the failure detail of an upload attempt.
type UploadError struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
}

func (e UploadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// UploadOutcome is the result of one upload attempt.
type UploadOutcome struct {
	Success bool
	// Response is the remote payload on success.
	Response   json.RawMessage
	StatusCode int
	ErrorKind  ErrorKind
	Message    string
}

// Err returns the failure detail of the outcome, nil on success.
func (o UploadOutcome) Err() *UploadError {
	if o.Success {
		return nil
	}
	return &UploadError{Kind: o.ErrorKind, Message: o.Message, StatusCode: o.StatusCode}
}

// FailedOutcome is a helper to build a failed outcome.
func FailedOutcome(kind ErrorKind, statusCode int, format string, args ...any) UploadOutcome {
	return UploadOutcome{
		ErrorKind:  kind,
		StatusCode: statusCode,
		Message:    fmt.Sprintf(format, args...),
	}
}
