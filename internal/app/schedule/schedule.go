package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/slok/postsched/internal/log"
	"github.com/slok/postsched/internal/model"
)

const recheckInterval = time.Second

// Scheduler is the part of the engine the schedule service drives.
type Scheduler interface {
	Submit(ctx context.Context, desc model.TaskDescriptor) (string, error)
	Get(ctx context.Context, id string) (*model.Task, error)
	Subscribe() (<-chan model.StatusEvent, func())
}

// ServiceConfig is the configuration for the schedule service.
type ServiceConfig struct {
	Scheduler Scheduler
	Logger    log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Scheduler == nil {
		return fmt.Errorf("scheduler is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Service submits a batch of uploads and follows them until they finish.
type Service struct {
	scheduler Scheduler
	logger    log.Logger
}

// NewService creates a new schedule service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		scheduler: cfg.Scheduler,
		logger:    cfg.Logger,
	}, nil
}

// Request represents the schedule request parameters.
type Request struct {
	Tasks []model.TaskDescriptor
	// OnSucceeded is called once per task seen succeeding while Run waits, with
	// the task index in Tasks.
	OnSucceeded func(i int, id string)
}

// Response has the tasks in submission order.
type Response struct {
	Tasks []model.Task
	// Interrupted is true when the context ended before every task finished.
	Interrupted bool
}

// Failed returns the number of failed tasks.
func (r Response) Failed() int {
	n := 0
	for _, t := range r.Tasks {
		if t.Status == model.TaskStatusFailed {
			n++
		}
	}
	return n
}

// Run submits every task and blocks until all of them are terminal or the
// context ends.
func (s *Service) Run(ctx context.Context, req Request) (*Response, error) {
	if len(req.Tasks) == 0 {
		return nil, fmt.Errorf("at least one task is required: %w", model.ErrNotValid)
	}

	events, cancel := s.scheduler.Subscribe()
	defer cancel()

	ids := make([]string, 0, len(req.Tasks))
	for i, desc := range req.Tasks {
		id, err := s.scheduler.Submit(ctx, desc)
		if err != nil {
			return nil, fmt.Errorf("could not submit task %d: %w", i, err)
		}
		ids = append(ids, id)
		s.logger.Infof("Scheduled %s for %s (%s)", desc.MediaRef, desc.ScheduledAt.Format(time.RFC3339), id)
	}

	pending := make(map[string]int, len(ids))
	for i, id := range ids {
		pending[id] = i
	}
	done := func(id string, succeeded bool) {
		i, ok := pending[id]
		if !ok {
			return
		}
		delete(pending, id)
		if succeeded && req.OnSucceeded != nil {
			req.OnSucceeded(i, id)
		}
	}

	ticker := time.NewTicker(recheckInterval)
	defer ticker.Stop()

	interrupted := false
	for len(pending) > 0 && !interrupted {
		select {
		case <-ctx.Done():
			interrupted = true
		case ev, ok := <-events:
			if !ok {
				interrupted = true
				break
			}
			s.logEvent(ev)
			if isTerminal(ev.Phase) {
				done(ev.TaskID, ev.Phase == model.PhaseSucceeded)
			}
		case <-ticker.C:
			// Events are best effort, the queue is the source of truth.
			if err := s.prune(ctx, pending, done); err != nil {
				return nil, err
			}
		}
	}

	resp := &Response{Tasks: make([]model.Task, 0, len(ids))}
	for _, id := range ids {
		t, err := s.scheduler.Get(context.WithoutCancel(ctx), id)
		if err != nil {
			return nil, fmt.Errorf("could not get task %s: %w", id, err)
		}
		if !t.Status.IsTerminal() {
			resp.Interrupted = true
		}
		resp.Tasks = append(resp.Tasks, *t)
	}

	return resp, nil
}

func (s *Service) prune(ctx context.Context, pending map[string]int, done func(id string, succeeded bool)) error {
	ids := make([]string, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}

	for _, id := range ids {
		t, err := s.scheduler.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("could not get task %s: %w", id, err)
		}
		if t.Status.IsTerminal() {
			done(id, t.Status == model.TaskStatusSucceeded)
		}
	}
	return nil
}

func (s *Service) logEvent(ev model.StatusEvent) {
	logger := s.logger.WithValues(log.Kv{"task-id": ev.TaskID, "phase": ev.Phase})
	switch ev.Phase {
	case model.PhaseProgress:
		logger.Debugf("Upload progress %s", ev.Message)
	case model.PhaseFailed:
		logger.Warningf("Upload failed (%s): %s", ev.ErrorKind, ev.Message)
	default:
		logger.Infof("%s", ev.Message)
	}
}

func isTerminal(p model.Phase) bool {
	return p == model.PhaseSucceeded || p == model.PhaseFailed || p == model.PhaseCancelled
}
