package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/postsched/internal/log"
	"github.com/slok/postsched/internal/model"
)

// QueueConfig is the configuration for the memory task queue.
type QueueConfig struct {
	Logger log.Logger
	// TimeNow returns the current time, used for bookkeeping timestamps.
	TimeNow func() time.Time
	// IDGenerator returns new task IDs. Defaults to ULIDs.
	IDGenerator func() string
}

func (c *QueueConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.MemoryQueue"})

	if c.TimeNow == nil {
		c.TimeNow = time.Now
	}

	if c.IDGenerator == nil {
		c.IDGenerator = func() string { return ulid.Make().String() }
	}
	return nil
}

type entry struct {
	task model.Task
	seq  uint64
}

// Queue is an in-memory implementation of storage.TaskQueue.
type Queue struct {
	entries map[string]*entry
	nextSeq uint64
	mu      sync.Mutex
	logger  log.Logger
	timeNow func() time.Time
	genID   func() string
}

// NewQueue creates a new memory task queue.
func NewQueue(cfg QueueConfig) (*Queue, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Queue{
		entries: make(map[string]*entry),
		logger:  cfg.Logger,
		timeNow: cfg.TimeNow,
		genID:   cfg.IDGenerator,
	}, nil
}

// Submit validates and stores a new pending task.
func (q *Queue) Submit(ctx context.Context, desc model.TaskDescriptor) (string, error) {
	if err := desc.Validate(); err != nil {
		return "", err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	id := q.genID()
	if _, ok := q.entries[id]; ok {
		return "", fmt.Errorf("task with id %s: %w", id, model.ErrAlreadyExists)
	}

	now := q.timeNow()
	scheduledAt := desc.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = now
	}

	q.nextSeq++
	q.entries[id] = &entry{
		seq: q.nextSeq,
		task: model.Task{
			ID:          id,
			MediaRef:    desc.MediaRef,
			Caption:     desc.Caption,
			Owner:       desc.Owner,
			Platforms:   append([]string(nil), desc.Platforms...),
			ScheduledAt: scheduledAt,
			Status:      model.TaskStatusPending,
			CreatedAt:   now,
		},
	}

	q.logger.Debugf("Submitted task %s for %s at %s", id, desc.Owner, scheduledAt.Format(time.RFC3339))
	return id, nil
}

// Cancel moves a pending task to cancelled.
func (q *Queue) Cancel(ctx context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[id]
	if !ok {
		return false, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}

	if e.task.Status != model.TaskStatusPending {
		return false, nil
	}

	now := q.timeNow()
	e.task.Status = model.TaskStatusCancelled
	e.task.FinishedAt = &now

	q.logger.Debugf("Cancelled task %s", id)
	return true, nil
}

// NextDue returns the earliest pending task due at now.
func (q *Queue) NextDue(ctx context.Context, now time.Time) (*model.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e := q.nextDue(now)
	if e == nil {
		return nil, nil
	}

	t := e.task.Copy()
	return &t, nil
}

// FireNext atomically selects the next due task and marks it firing.
func (q *Queue) FireNext(ctx context.Context, now time.Time) (*model.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e := q.nextDue(now)
	if e == nil {
		return nil, nil
	}

	if err := q.markFiring(e); err != nil {
		return nil, err
	}

	t := e.task.Copy()
	return &t, nil
}

// NextScheduledAt returns the earliest scheduled time among pending tasks.
func (q *Queue) NextScheduledAt(ctx context.Context) (time.Time, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e := q.earliestPending(func(*entry) bool { return true })
	if e == nil {
		return time.Time{}, false, nil
	}

	return e.task.ScheduledAt, true, nil
}

// MarkFiring moves a pending task to firing.
func (q *Queue) MarkFiring(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}

	return q.markFiring(e)
}

// MarkSucceeded moves a firing task to succeeded.
func (q *Queue) MarkSucceeded(ctx context.Context, id string, outcome model.UploadOutcome) error {
	if !outcome.Success {
		return fmt.Errorf("task %s: success transition with failed outcome: %w", id, model.ErrNotValid)
	}
	return q.finish(id, model.TaskStatusSucceeded, outcome)
}

// MarkFailed moves a firing task to failed, storing the outcome error.
func (q *Queue) MarkFailed(ctx context.Context, id string, outcome model.UploadOutcome) error {
	if outcome.Success {
		return fmt.Errorf("task %s: failure transition with successful outcome: %w", id, model.ErrNotValid)
	}
	return q.finish(id, model.TaskStatusFailed, outcome)
}

// Get returns a task by ID.
func (q *Queue) Get(ctx context.Context, id string) (*model.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}

	t := e.task.Copy()
	return &t, nil
}

// Snapshot returns all tasks ordered by scheduled time and submission order.
func (q *Queue) Snapshot(ctx context.Context) ([]model.Task, error) {
	q.mu.Lock()
	entries := make([]*entry, 0, len(q.entries))
	for _, e := range q.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return before(entries[i], entries[j]) })

	tasks := make([]model.Task, 0, len(entries))
	for _, e := range entries {
		tasks = append(tasks, e.task.Copy())
	}
	q.mu.Unlock()

	return tasks, nil
}

func (q *Queue) finish(id string, status model.TaskStatus, outcome model.UploadOutcome) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}

	if !e.task.Status.CanTransitionTo(status) {
		return fmt.Errorf("task %s: %s -> %s: %w", id, e.task.Status, status, model.ErrInvalidStateTransition)
	}

	now := q.timeNow()
	e.task.Status = status
	e.task.FinishedAt = &now
	e.task.LastError = outcome.Err()

	q.logger.Debugf("Task %s finished as %s", id, status)
	return nil
}

// markFiring requires the caller to hold the lock.
func (q *Queue) markFiring(e *entry) error {
	if !e.task.Status.CanTransitionTo(model.TaskStatusFiring) {
		return fmt.Errorf("task %s: %s -> %s: %w", e.task.ID, e.task.Status, model.TaskStatusFiring, model.ErrInvalidStateTransition)
	}

	now := q.timeNow()
	e.task.Status = model.TaskStatusFiring
	e.task.FiredAt = &now
	e.task.Attempts++
	return nil
}

// nextDue requires the caller to hold the lock.
func (q *Queue) nextDue(now time.Time) *entry {
	return q.earliestPending(func(e *entry) bool { return !e.task.ScheduledAt.After(now) })
}

func (q *Queue) earliestPending(filter func(*entry) bool) *entry {
	var best *entry
	for _, e := range q.entries {
		if e.task.Status != model.TaskStatusPending || !filter(e) {
			continue
		}
		if best == nil || before(e, best) {
			best = e
		}
	}
	return best
}

func before(a, b *entry) bool {
	if !a.task.ScheduledAt.Equal(b.task.ScheduledAt) {
		return a.task.ScheduledAt.Before(b.task.ScheduledAt)
	}
	return a.seq < b.seq
}
