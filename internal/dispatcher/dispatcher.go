package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/slok/postsched/internal/log"
	"github.com/slok/postsched/internal/model"
	"github.com/slok/postsched/internal/notify"
	"github.com/slok/postsched/internal/storage"
	"github.com/slok/postsched/internal/upload"
)

const (
	// DefaultMaxConcurrent is the default number of simultaneous uploads.
	DefaultMaxConcurrent = 4
	// DefaultIdlePoll bounds how long the loop sleeps without being woken.
	DefaultIdlePoll = time.Second
)

// Config is the configuration of the dispatcher.
type Config struct {
	Queue    storage.TaskQueue
	Uploader upload.Uploader
	Results  storage.ResultLogger
	Notifier notify.Notifier
	// MaxConcurrent is the number of uploads that can be in flight at once.
	MaxConcurrent int
	// IdlePoll is the maximum wait between queue checks.
	IdlePoll time.Duration
	TimeNow  func() time.Time
	Logger   log.Logger
}

func (c *Config) defaults() error {
	if c.Queue == nil {
		return fmt.Errorf("queue is required")
	}
	if c.Uploader == nil {
		return fmt.Errorf("uploader is required")
	}
	if c.Results == nil {
		return fmt.Errorf("result logger is required")
	}
	if c.Notifier == nil {
		c.Notifier = notify.Noop
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.IdlePoll <= 0 {
		c.IdlePoll = DefaultIdlePoll
	}
	if c.TimeNow == nil {
		c.TimeNow = time.Now
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "dispatcher.Dispatcher"})
	return nil
}

// Dispatcher fires due tasks from the queue, uploads them and records their
// outcome. A single loop picks tasks, uploads run in their own goroutines.
type Dispatcher struct {
	queue    storage.TaskQueue
	uploader upload.Uploader
	results  storage.ResultLogger
	notifier notify.Notifier
	idlePoll time.Duration
	timeNow  func() time.Time
	logger   log.Logger

	slots    *semaphore.Weighted
	wake     chan struct{}
	inflight sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// New returns a new dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Dispatcher{
		queue:    cfg.Queue,
		uploader: cfg.Uploader,
		results:  cfg.Results,
		notifier: cfg.Notifier,
		idlePoll: cfg.IdlePoll,
		timeNow:  cfg.TimeNow,
		logger:   cfg.Logger,
		slots:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		wake:     make(chan struct{}, 1),
	}, nil
}

// Wake interrupts the loop wait so it rechecks the queue. It never blocks.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run executes the scheduling loop until the context is cancelled. Once
// cancelled no new task is fired and Run returns after the in-flight uploads
// have finished.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher already running")
	}
	d.running = true
	d.mu.Unlock()

	d.logger.Infof("Dispatcher started")
	defer d.logger.Infof("Dispatcher stopped")

	// In-flight uploads survive the loop cancellation.
	uploadCtx := context.WithoutCancel(ctx)

	for ctx.Err() == nil {
		d.cycle(ctx, uploadCtx)
	}

	d.inflight.Wait()
	return nil
}

func (d *Dispatcher) cycle(ctx, uploadCtx context.Context) {
	now := d.timeNow()
	due, err := d.queue.NextDue(ctx, now)
	if err != nil {
		d.logger.Errorf("Could not get next due task: %s", err)
		d.sleep(ctx, d.idlePoll)
		return
	}
	if due == nil {
		d.sleep(ctx, d.waitFor(ctx, now))
		return
	}

	// Taking the slot first keeps the task pending, and cancellable, while
	// all the slots are busy.
	if err := d.slots.Acquire(ctx, 1); err != nil {
		return
	}
	if ctx.Err() != nil {
		d.slots.Release(1)
		return
	}

	task, err := d.queue.FireNext(ctx, d.timeNow())
	if err != nil {
		d.slots.Release(1)
		d.checkConsistency(err)
		d.logger.Errorf("Could not fire next task: %s", err)
		d.sleep(ctx, d.idlePoll)
		return
	}
	if task == nil {
		// Cancelled meanwhile.
		d.slots.Release(1)
		return
	}

	d.publish(*task, model.PhaseFiring, "uploading "+task.MediaRef)

	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		defer d.slots.Release(1)
		d.fire(uploadCtx, *task)
	}()
}

func (d *Dispatcher) fire(ctx context.Context, task model.Task) {
	logger := d.logger.WithValues(log.Kv{"task-id": task.ID, "owner": task.Owner})
	logger.Infof("Uploading %s", task.MediaRef)

	outcome := d.uploader.Upload(ctx, task.UploadRequest(), d.progressNotifier(task))

	entry := model.NewLogEntry(task, outcome, d.timeNow())
	recorded := true
	if err := d.results.Append(ctx, entry); err != nil {
		recorded = false
		logger.Errorf("Could not record upload result: %s", err)
	}

	var err error
	if outcome.Success {
		err = d.queue.MarkSucceeded(ctx, task.ID, outcome)
	} else {
		err = d.queue.MarkFailed(ctx, task.ID, outcome)
	}
	if err != nil {
		d.checkConsistency(err)
		logger.Errorf("Could not update task status: %s", err)
	}

	var ev model.StatusEvent
	if outcome.Success {
		logger.Infof("Upload succeeded")
		ev = d.event(task, model.PhaseSucceeded, "uploaded "+task.MediaRef)
	} else {
		logger.Warningf("Upload failed: %s", outcome.Err())
		ev = d.event(task, model.PhaseFailed, outcome.Message)
		ev.ErrorKind = outcome.ErrorKind
	}
	if !recorded {
		ev.NotRecorded = true
		ev.Message += " (result not recorded)"
	}
	d.notifier.Publish(ev)
}

// progressNotifier publishes progress events only when the whole percentage changes.
func (d *Dispatcher) progressNotifier(task model.Task) upload.ProgressFunc {
	last := -1
	return func(sent, total int64) {
		ev := d.event(task, model.PhaseProgress, "")
		ev.BytesSent = sent
		ev.BytesTotal = total
		pct := ev.Percent()
		if pct == last {
			return
		}
		last = pct
		ev.Message = fmt.Sprintf("%d%%", pct)
		d.notifier.Publish(ev)
	}
}

func (d *Dispatcher) waitFor(ctx context.Context, now time.Time) time.Duration {
	at, ok, err := d.queue.NextScheduledAt(ctx)
	if err != nil {
		d.logger.Errorf("Could not get next scheduled time: %s", err)
		return d.idlePoll
	}
	if !ok {
		return d.idlePoll
	}

	return min(at.Sub(now), d.idlePoll)
}

func (d *Dispatcher) sleep(ctx context.Context, wait time.Duration) {
	if wait <= 0 {
		return
	}

	t := time.NewTimer(wait)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-d.wake:
	case <-t.C:
	}
}

func (d *Dispatcher) publish(task model.Task, phase model.Phase, msg string) {
	d.notifier.Publish(d.event(task, phase, msg))
}

func (d *Dispatcher) event(task model.Task, phase model.Phase, msg string) model.StatusEvent {
	return model.StatusEvent{
		TaskID:    task.ID,
		Owner:     task.Owner,
		Phase:     phase,
		Message:   msg,
		Timestamp: d.timeNow(),
	}
}

// checkConsistency panics when the queue rejects a transition the dispatcher
// owns, the task state machine is broken at that point.
func (d *Dispatcher) checkConsistency(err error) {
	if errors.Is(err, model.ErrInvalidStateTransition) {
		panic(fmt.Sprintf("task queue consistency violation: %s", err))
	}
}
