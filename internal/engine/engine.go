package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slok/postsched/internal/dispatcher"
	"github.com/slok/postsched/internal/log"
	"github.com/slok/postsched/internal/model"
	"github.com/slok/postsched/internal/notify"
	"github.com/slok/postsched/internal/storage"
	"github.com/slok/postsched/internal/storage/memory"
	"github.com/slok/postsched/internal/upload"
)

// Config is the configuration of the engine.
type Config struct {
	Uploader upload.Uploader
	Results  storage.ResultLogger
	// Queue defaults to an in-memory queue.
	Queue storage.TaskQueue
	// Broker defaults to a new broker.
	Broker        *notify.Broker
	MaxConcurrent int
	IdlePoll      time.Duration
	TimeNow       func() time.Time
	Logger        log.Logger
}

func (c *Config) defaults() error {
	if c.Uploader == nil {
		return fmt.Errorf("uploader is required")
	}
	if c.Results == nil {
		return fmt.Errorf("result logger is required")
	}
	if c.TimeNow == nil {
		c.TimeNow = time.Now
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	if c.Queue == nil {
		q, err := memory.NewQueue(memory.QueueConfig{Logger: c.Logger, TimeNow: c.TimeNow})
		if err != nil {
			return fmt.Errorf("could not create queue: %w", err)
		}
		c.Queue = q
	}
	if c.Broker == nil {
		b, err := notify.NewBroker(notify.BrokerConfig{Logger: c.Logger})
		if err != nil {
			return fmt.Errorf("could not create broker: %w", err)
		}
		c.Broker = b
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "engine.Engine"})
	return nil
}

// Engine is the entry point of the scheduled upload engine. It owns the task
// queue, the dispatcher and the status broker.
type Engine struct {
	queue   storage.TaskQueue
	broker  *notify.Broker
	disp    *dispatcher.Dispatcher
	timeNow func() time.Time
	logger  log.Logger

	// publishMu orders a queue mutation with its status event.
	publishMu sync.Mutex

	mu      sync.Mutex
	started bool
	stopped bool
	stop    context.CancelFunc
	done    chan struct{}
}

// New returns a new engine, it needs to be started to fire tasks.
func New(cfg Config) (*Engine, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	e := &Engine{
		queue:   cfg.Queue,
		broker:  cfg.Broker,
		timeNow: cfg.TimeNow,
		logger:  cfg.Logger,
		done:    make(chan struct{}),
	}

	disp, err := dispatcher.New(dispatcher.Config{
		Queue:         cfg.Queue,
		Uploader:      cfg.Uploader,
		Results:       cfg.Results,
		Notifier:      orderedNotifier{e: e},
		MaxConcurrent: cfg.MaxConcurrent,
		IdlePoll:      cfg.IdlePoll,
		TimeNow:       cfg.TimeNow,
		Logger:        cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create dispatcher: %w", err)
	}
	e.disp = disp

	return e, nil
}

// Submit validates and enqueues a new task.
func (e *Engine) Submit(ctx context.Context, desc model.TaskDescriptor) (string, error) {
	e.publishMu.Lock()
	id, err := e.queue.Submit(ctx, desc)
	if err != nil {
		e.publishMu.Unlock()
		return "", err
	}
	e.broker.Publish(model.StatusEvent{
		TaskID:    id,
		Owner:     desc.Owner,
		Phase:     model.PhaseQueued,
		Message:   "queued " + desc.MediaRef,
		Timestamp: e.timeNow(),
	})
	e.publishMu.Unlock()

	e.disp.Wake()
	return id, nil
}

// Cancel cancels a pending task. It returns false when the task already fired.
func (e *Engine) Cancel(ctx context.Context, id string) (bool, error) {
	e.publishMu.Lock()
	ok, err := e.queue.Cancel(ctx, id)
	if err != nil || !ok {
		e.publishMu.Unlock()
		return ok, err
	}

	owner := ""
	if t, err := e.queue.Get(ctx, id); err == nil {
		owner = t.Owner
	}
	e.broker.Publish(model.StatusEvent{
		TaskID:    id,
		Owner:     owner,
		Phase:     model.PhaseCancelled,
		Message:   "cancelled",
		Timestamp: e.timeNow(),
	})
	e.publishMu.Unlock()

	e.disp.Wake()
	return true, nil
}

// Get returns a copy of a task.
func (e *Engine) Get(ctx context.Context, id string) (*model.Task, error) {
	return e.queue.Get(ctx, id)
}

// Snapshot returns a copy of every task.
func (e *Engine) Snapshot(ctx context.Context) ([]model.Task, error) {
	return e.queue.Snapshot(ctx)
}

// Subscribe returns a stream of status events and its cancel func.
func (e *Engine) Subscribe() (<-chan model.StatusEvent, func()) {
	return e.broker.Subscribe()
}

// Start runs the dispatcher in the background.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return fmt.Errorf("engine already shut down")
	}
	if e.started {
		return fmt.Errorf("engine already started")
	}
	e.started = true

	ctx, e.stop = context.WithCancel(ctx)
	go func() {
		defer close(e.done)
		if err := e.disp.Run(ctx); err != nil {
			e.logger.Errorf("Dispatcher failed: %s", err)
		}
	}()

	return nil
}

// Shutdown stops firing new tasks and waits for the in-flight uploads, or the
// context to end. Subscribers are closed once the dispatcher has stopped. A
// shut down engine can't be started again.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		if !e.stopped {
			close(e.done)
		}
		e.stopped = true
		e.mu.Unlock()
		e.broker.Close()
		return nil
	}
	e.stopped = true
	e.stop()
	e.mu.Unlock()

	select {
	case <-e.done:
	case <-ctx.Done():
		return fmt.Errorf("in-flight uploads did not finish: %w", ctx.Err())
	}

	e.broker.Close()
	return nil
}

// Done is closed when the dispatcher has stopped.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

type orderedNotifier struct {
	e *Engine
}

func (o orderedNotifier) Publish(ev model.StatusEvent) {
	o.e.publishMu.Lock()
	defer o.e.publishMu.Unlock()
	o.e.broker.Publish(ev)
}
