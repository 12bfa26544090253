package lib

import (
	"encoding/json"
	"time"

	"github.com/slok/postsched/internal/model"
)

// ResultsBackend identifies the storage of the upload results.
type ResultsBackend string

const (
	// ResultsBackendJSONL stores a JSON object per line in a file.
	ResultsBackendJSONL ResultsBackend = "jsonl"
	// ResultsBackendSQLite stores the results in a SQLite database.
	ResultsBackendSQLite ResultsBackend = "sqlite"
)

// TaskStatus represents the lifecycle state of a task.
//
// The lifecycle is:
//
//	pending -> firing -> succeeded | failed
//	pending -> cancelled
type TaskStatus string

const (
	// TaskStatusPending indicates the task waits for its scheduled time.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusFiring indicates the upload is in flight.
	TaskStatusFiring TaskStatus = "firing"
	// TaskStatusSucceeded indicates the upload finished successfully.
	TaskStatusSucceeded TaskStatus = "succeeded"
	// TaskStatusFailed indicates the upload attempt failed.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was cancelled before firing.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal returns true when the task will not change anymore.
func (s TaskStatus) IsTerminal() bool {
	return model.TaskStatus(s).IsTerminal()
}

// ErrorKind classifies a failed upload.
type ErrorKind string

const (
	// ErrorKindUnauthorized means the upload API rejected the API key.
	ErrorKindUnauthorized ErrorKind = "unauthorized"
	// ErrorKindRemote means the upload API rejected the upload.
	ErrorKindRemote ErrorKind = "remote_error"
	// ErrorKindLocal means the media could not be read, or the request could
	// not be sent or timed out.
	ErrorKindLocal ErrorKind = "local_error"
)

// TaskDescriptor is what callers submit to schedule an upload.
type TaskDescriptor struct {
	// MediaRef is the path of the video, or an `s3://bucket/key` reference when
	// an S3 source is configured. Required.
	MediaRef string
	// Caption is the post title.
	Caption string
	// Owner is the account the upload is done as. Required.
	Owner string
	// Platforms are the target platforms, none means the account defaults.
	Platforms []string
	// ScheduledAt is when the task fires, zero or past times fire right away.
	ScheduledAt time.Time
}

// UploadError is the failure detail of an upload.
type UploadError struct {
	Kind ErrorKind
	// StatusCode is the HTTP status returned by the upload API, 0 when none.
	StatusCode int
	Message    string
}

// Task represents a scheduled upload returned by the SDK.
//
// This is a read-only snapshot of the task at the time of the API call.
// Use [Client.GetTask] to get the latest state.
type Task struct {
	// ID is the unique identifier (ULID) assigned at submission.
	ID          string
	MediaRef    string
	Caption     string
	Owner       string
	Platforms   []string
	ScheduledAt time.Time
	Status      TaskStatus
	// LastError is set when the task failed.
	LastError *UploadError
	// Attempts is the number of uploads done, at most one.
	Attempts  int
	CreatedAt time.Time
	// FiredAt is when the upload started. Nil if never fired.
	FiredAt *time.Time
	// FinishedAt is when the task reached a terminal status.
	FinishedAt *time.Time
}

// Phase is the task lifecycle step reported by a status event.
type Phase string

const (
	PhaseQueued    Phase = "queued"
	PhaseFiring    Phase = "firing"
	PhaseProgress  Phase = "progress"
	PhaseSucceeded Phase = "succeeded"
	PhaseFailed    Phase = "failed"
	PhaseCancelled Phase = "cancelled"
)

// StatusEvent is a task state change.
type StatusEvent struct {
	TaskID  string
	Owner   string
	Phase   Phase
	Message string
	// BytesSent and BytesTotal are only set on progress events.
	BytesSent  int64
	BytesTotal int64
	// ErrorKind is only set on failed events.
	ErrorKind ErrorKind
	// NotRecorded is set on terminal events whose result could not be
	// appended to the result log.
	NotRecorded bool
	Timestamp   time.Time
}

// LogEntry is the record of a finished upload.
type LogEntry struct {
	TaskID    string
	Owner     string
	MediaRef  string
	Caption   string
	Platforms []string
	Attempt   int
	Timestamp time.Time
	Success   bool
	// Response is the upload API payload of successful uploads.
	Response json.RawMessage
	// Error is set on failed uploads.
	Error *UploadError
	// Raw holds the stored line when the record could not be decoded, the
	// rest of the fields are empty.
	Raw string
}

// HistoryOpts filters the upload history.
type HistoryOpts struct {
	// Owner only returns the uploads of this account.
	Owner string
	// FailedOnly only returns failed uploads.
	FailedOnly bool
	// Last only returns the N most recent uploads, 0 returns all.
	Last int
}

func toInternalTaskDescriptor(d TaskDescriptor) model.TaskDescriptor {
	return model.TaskDescriptor{
		MediaRef:    d.MediaRef,
		Caption:     d.Caption,
		Owner:       d.Owner,
		Platforms:   append([]string(nil), d.Platforms...),
		ScheduledAt: d.ScheduledAt,
	}
}

func fromInternalUploadError(e *model.UploadError) *UploadError {
	if e == nil {
		return nil
	}
	return &UploadError{Kind: ErrorKind(e.Kind), StatusCode: e.StatusCode, Message: e.Message}
}

func fromInternalTask(t model.Task) Task {
	return Task{
		ID:          t.ID,
		MediaRef:    t.MediaRef,
		Caption:     t.Caption,
		Owner:       t.Owner,
		Platforms:   t.Platforms,
		ScheduledAt: t.ScheduledAt,
		Status:      TaskStatus(t.Status),
		LastError:   fromInternalUploadError(t.LastError),
		Attempts:    t.Attempts,
		CreatedAt:   t.CreatedAt,
		FiredAt:     t.FiredAt,
		FinishedAt:  t.FinishedAt,
	}
}

func fromInternalTaskList(ts []model.Task) []Task {
	result := make([]Task, 0, len(ts))
	for _, t := range ts {
		result = append(result, fromInternalTask(t))
	}
	return result
}

func fromInternalStatusEvent(e model.StatusEvent) StatusEvent {
	return StatusEvent{
		TaskID:      e.TaskID,
		Owner:       e.Owner,
		Phase:       Phase(e.Phase),
		Message:     e.Message,
		BytesSent:   e.BytesSent,
		BytesTotal:  e.BytesTotal,
		ErrorKind:   ErrorKind(e.ErrorKind),
		NotRecorded: e.NotRecorded,
		Timestamp:   e.Timestamp,
	}
}

func fromInternalLogEntries(es []model.LogEntry) []LogEntry {
	result := make([]LogEntry, 0, len(es))
	for _, e := range es {
		if e.Raw != "" {
			result = append(result, LogEntry{Raw: e.Raw})
			continue
		}
		result = append(result, LogEntry{
			TaskID:    e.TaskID,
			Owner:     e.Owner,
			MediaRef:  e.MediaRef,
			Caption:   e.Caption,
			Platforms: e.Platforms,
			Attempt:   e.Attempt,
			Timestamp: e.Timestamp,
			Success:   e.Outcome.Success,
			Response:  e.Outcome.Response,
			Error:     fromInternalUploadError(e.Outcome.Err()),
		})
	}
	return result
}

func mapError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case isInternalError(err, model.ErrNotFound):
		return joinErrors(err, ErrNotFound)
	case isInternalError(err, model.ErrNotValid):
		return joinErrors(err, ErrNotValid)
	default:
		return err
	}
}

func isInternalError(err, target error) bool {
	for {
		if err == target {
			return true
		}
		unwrapped := unwrapSingle(err)
		if unwrapped == nil {
			return false
		}
		err = unwrapped
	}
}

func unwrapSingle(err error) error {
	u, ok := err.(interface{ Unwrap() error })
	if !ok {
		return nil
	}
	return u.Unwrap()
}

func joinErrors(original, sentinel error) error {
	return &mappedError{original: original, sentinel: sentinel}
}

type mappedError struct {
	original error
	sentinel error
}

func (e *mappedError) Error() string { return e.original.Error() }

func (e *mappedError) Is(target error) bool {
	return target == e.sentinel
}

func (e *mappedError) Unwrap() error { return e.original }
