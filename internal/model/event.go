package model

import "time"

// Phase is the lifecycle step reported by a status event.
type Phase string

const (
	PhaseQueued    Phase = "queued"
	PhaseFiring    Phase = "firing"
	PhaseProgress  Phase = "progress"
	PhaseSucceeded Phase = "succeeded"
	PhaseFailed    Phase = "failed"
	PhaseCancelled Phase = "cancelled"
)

// StatusEvent is a human readable state change pushed to observers.
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

// Percent returns the upload progress percentage of a progress event.
func (e StatusEvent) Percent() int {
	if e.BytesTotal <= 0 {
		return 0
	}
	return int(e.BytesSent * 100 / e.BytesTotal)
}
