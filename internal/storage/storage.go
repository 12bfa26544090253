package storage

import (
	"context"
	"time"

	"github.com/slok/postsched/internal/model"
)

// TaskQueue holds the scheduled upload tasks and enforces their state machine.
// Every method is a single atomic operation from the caller point of view.
type TaskQueue interface {
	// Submit validates and stores a new pending task, returning its ID.
	Submit(ctx context.Context, desc model.TaskDescriptor) (string, error)
	// Cancel moves a pending task to cancelled. It returns false when the task
	// is firing or already terminal.
	Cancel(ctx context.Context, id string) (bool, error)
	// NextDue returns the earliest pending task due at now, or nil.
	NextDue(ctx context.Context, now time.Time) (*model.Task, error)
	// NextScheduledAt returns the earliest scheduled time among pending tasks.
	NextScheduledAt(ctx context.Context) (at time.Time, ok bool, err error)
	// FireNext atomically takes the task NextDue would return and marks it firing.
	FireNext(ctx context.Context, now time.Time) (*model.Task, error)
	MarkFiring(ctx context.Context, id string) error
	MarkSucceeded(ctx context.Context, id string, outcome model.UploadOutcome) error
	MarkFailed(ctx context.Context, id string, outcome model.UploadOutcome) error
	// Get returns a task by ID.
	Get(ctx context.Context, id string) (*model.Task, error)
	// Snapshot returns all tasks ordered by scheduled time and submission order.
	Snapshot(ctx context.Context) ([]model.Task, error)
}

// ResultLogger is the append-only record of terminal upload attempts.
type ResultLogger interface {
	// Append stores the entry, it must be durable once it returns without error.
	Append(ctx context.Context, entry model.LogEntry) error
}

// ResultReader lists the recorded results in append order.
type ResultReader interface {
	ListResults(ctx context.Context) ([]model.LogEntry, error)
}

// ResultRepository is a result sink that can also be read back.
type ResultRepository interface {
	ResultLogger
	ResultReader
}

//go:generate mockery --case underscore --output storagemock --outpkg storagemock --name "ResultLogger|ResultReader"
