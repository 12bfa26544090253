package model

import "time"

// LogEntry is the immutable record of a terminal upload attempt.
type LogEntry struct {
	TaskID    string
	Owner     string
	MediaRef  string
	Caption   string
	Platforms []string
	Attempt   int
	Timestamp time.Time
	Outcome   UploadOutcome
	// Raw holds the original line when a stored record could not be decoded.
	Raw string
}

// NewLogEntry creates the log entry for a task outcome.
func NewLogEntry(t Task, outcome UploadOutcome, at time.Time) LogEntry {
	return LogEntry{
		TaskID:    t.ID,
		Owner:     t.Owner,
		MediaRef:  t.MediaRef,
		Caption:   t.Caption,
		Platforms: append([]string(nil), t.Platforms...),
		Attempt:   t.Attempts,
		Timestamp: at.UTC(),
		Outcome:   outcome,
	}
}
